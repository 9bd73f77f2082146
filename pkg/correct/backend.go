// Package correct builds correction prompts and invokes the selected
// language-model backend, grounded on the original source's correct.py.
package correct

import "context"

// Backend is the correction-backend API from SPEC_FULL.md §6: given a
// system prompt and user prompt, produce final text. If onDelta is
// non-nil, the backend invokes it with ordered, non-empty fragments whose
// concatenation equals the returned string, and never calls it after
// returning.
type Backend interface {
	Name() string
	Invoke(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string)) (string, error)
}
