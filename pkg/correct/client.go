package correct

import (
	"context"
	"fmt"
	"strings"

	"github.com/lokutor-ai/dictation-engine/pkg/consensus"
	"github.com/lokutor-ai/dictation-engine/pkg/router"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// DefaultSystemPrompt mirrors the original source's DEFAULT_SYSTEM_CONTEXT
// verbatim.
const DefaultSystemPrompt = `You are a transcription assistant that cleans up speech-to-text output while preserving the speaker's authentic voice and exact meaning.

Clean up:
- Remove pure filler sounds: "um", "uh", "er", "ah", "hmm"
- Fix obvious transcription errors and typos (e.g. "lead code" -> "leetcode")
- Handle self-corrections: use the correction, not the mistake
  Examples: "Tuesday, no wait, Friday" -> "Friday"
            "Send it to John, I mean Jane" -> "Send it to Jane"
- Fix grammar and add proper punctuation

BE CONSERVATIVE - when in doubt, preserve the original words:
- Keep "I mean" at the start of sentences (it's intentional emphasis)
- Keep tag questions like "right?" or "you know?" at the end
- Keep "like" unless it's clearly a filler (e.g., "it was, like, so big")
- Keep words that are being discussed or quoted

When multiple transcriptions are provided, compare and choose the most accurate parts from each.

Preserve:
- The speaker's meaning and intent
- Natural speaking style, slang, and strong language
- All substantive content

Meta-commands (follow these, don't transcribe them):
- "scratch that", "never mind", "forget what I said" -> remove the previous content

Formatting:
- Model names use digits, not words: "GPT 5.2", "Gemini 2.5 Pro", "Claude 3.5"

Return only the cleaned transcription text.`

// DefaultEditingPrompt mirrors the original source's DEFAULT_EDITING_PROMPT.
const DefaultEditingPrompt = "You are a text editing assistant. Apply the user's requested change precisely and return only the edited text."

// Client assembles correction prompts and invokes the router-selected
// backend, with one fallback retry on empty-text failure, grounded on the
// original source's correct.py.
type Client struct {
	router   *router.Router
	backends map[string]Backend
}

// NewClient builds a client from a router and the set of backends it may
// route to, keyed by router.Backend.Name.
func NewClient(r *router.Router, backends ...Backend) *Client {
	m := make(map[string]Backend, len(backends))
	for _, b := range backends {
		m[b.Name()] = b
	}
	return &Client{router: r, backends: m}
}

// buildPrompt implements SPEC_FULL.md §4.5's prompt assembly: dedup by
// normalized text (order-preserving), one "[provider/device]: text" line
// per surviving result, prepended context/history/style sections.
func buildPrompt(results []types.TranscriptionResult, appCtx *types.AppContext, historyContext string) string {
	seen := make(map[string]struct{}, len(results))
	var lines []string
	for _, r := range results {
		n := consensus.Normalize(r.Text)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		lines = append(lines, fmt.Sprintf("[%s/%s]: %s", r.ProviderID, r.DeviceID, r.Text))
	}

	var sections []string

	var contextLines []string
	if appCtx != nil {
		contextLines = append(contextLines, "Active application: "+appCtx.AppName)
		if appCtx.WindowTitle != "" {
			contextLines = append(contextLines, "Window: "+appCtx.WindowTitle)
		}
	}
	if historyContext != "" {
		contextLines = append(contextLines, "Previous context (for reference only, do not include in output): "+historyContext)
	}
	if len(contextLines) > 0 {
		sections = append(sections, strings.Join(contextLines, "\n"))
	}

	rigor := types.RigorNormal
	if appCtx != nil {
		rigor = appCtx.Rigor
	}
	switch rigor {
	case types.RigorHigh:
		sections = append(sections, "Style: formal (strict grammar)")
	case types.RigorLow:
		sections = append(sections, "Style: casual (preserve natural speech)")
	}

	sections = append(sections, "Transcriptions:\n"+strings.Join(lines, "\n"))
	return strings.Join(sections, "\n\n")
}

func systemPromptFor(configured, customInstructions string) string {
	sp := configured
	if sp == "" {
		sp = DefaultSystemPrompt
	}
	if customInstructions != "" {
		sp += "\n\nUser preferences:\n" + customInstructions
	}
	return sp
}

func maxWordCount(results []types.TranscriptionResult) int {
	max := 0
	for _, r := range results {
		if n := len(strings.Fields(r.Text)); n > max {
			max = n
		}
	}
	return max
}

// Correct implements correct_with_llm: build the prompt, select a backend
// by the longest individual result's word count, invoke it (streaming if
// onDelta is non-nil), and retry once with the router's fallback on empty
// text. Returns "" only when every attempt produced empty text or no
// backend was available — the caller falls back to the raw aggregation.
func (c *Client) Correct(ctx context.Context, results []types.TranscriptionResult, appCtx *types.AppContext, historyContext, customInstructions, configuredSystemPrompt string, onDelta func(string)) string {
	if len(results) == 0 {
		return ""
	}

	prompt := buildPrompt(results, appCtx, historyContext)
	systemPrompt := systemPromptFor(configuredSystemPrompt, customInstructions)
	wordCount := maxWordCount(results)

	backend, ok := c.router.Select(wordCount)
	if !ok {
		return ""
	}

	text, err := c.invoke(ctx, backend.Name, systemPrompt, prompt, onDelta)
	if err == nil && text != "" {
		c.router.RecordSuccess(backend.Name)
		return text
	}
	c.router.RecordFailure(backend.Name)

	fallback, ok := c.router.Fallback(backend.Name)
	if !ok {
		return ""
	}
	text, err = c.invoke(ctx, fallback.Name, systemPrompt, prompt, onDelta)
	if err != nil || text == "" {
		c.router.RecordFailure(fallback.Name)
		return ""
	}
	c.router.RecordSuccess(fallback.Name)
	return text
}

// EditSelection implements edit_text_with_llm: routes with word_count=50
// to bias toward a quality backend regardless of the utterance's actual
// length, and falls back to returning the original selection unedited if
// every backend fails.
func (c *Client) EditSelection(ctx context.Context, selection, voiceCommand, configuredEditingPrompt string) string {
	prompt := fmt.Sprintf("TASK: %s\n\nORIGINAL TEXT:\n%s\n\nINSTRUCTIONS: Apply the task to the original text above. Return ONLY the edited text, nothing else. No explanations, no formatting, no extra content.", voiceCommand, selection)

	systemPrompt := configuredEditingPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultEditingPrompt
	}

	const editingWordCount = 50
	backend, ok := c.router.Select(editingWordCount)
	if !ok {
		return selection
	}

	text, err := c.invoke(ctx, backend.Name, systemPrompt, prompt, nil)
	if err == nil && text != "" {
		c.router.RecordSuccess(backend.Name)
		return text
	}
	c.router.RecordFailure(backend.Name)

	fallback, ok := c.router.Fallback(backend.Name)
	if !ok {
		return selection
	}
	text, err = c.invoke(ctx, fallback.Name, systemPrompt, prompt, nil)
	if err != nil || text == "" {
		c.router.RecordFailure(fallback.Name)
		return selection
	}
	c.router.RecordSuccess(fallback.Name)
	return text
}

func (c *Client) invoke(ctx context.Context, name, systemPrompt, userPrompt string, onDelta func(string)) (string, error) {
	backend, ok := c.backends[name]
	if !ok {
		return "", fmt.Errorf("correct: no backend registered for %q", name)
	}
	return backend.Invoke(ctx, systemPrompt, userPrompt, onDelta)
}
