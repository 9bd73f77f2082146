// Package output serializes delivery of corrected text to the OS cursor,
// grounded on the original source's output.py.
package output

import (
	"context"
)

// Writer is the OS-specific output surface from SPEC_FULL.md §4.8/§6: four
// primitives. Type, CopyToClipboard and ReplaceSelection return errors,
// which the session logs or discards without aborting (per the error table
// in SPEC_FULL.md §7); Notify returns nothing.
type Writer interface {
	// Type delivers text as synthetic keystrokes at the OS cursor,
	// chunked by UTF-16 code-unit count without splitting surrogate pairs.
	Type(ctx context.Context, text string) error
	CopyToClipboard(text string) error
	// ReplaceSelection saves the current clipboard, copies text,
	// synthesizes a paste, waits, then restores the original clipboard.
	ReplaceSelection(ctx context.Context, text string) error
	// Notify is best-effort; implementations must never return an error
	// that the caller treats as fatal — SPEC_FULL.md §7 requires output
	// primitive failures to log and let the session still complete.
	Notify(title, body string)
}
