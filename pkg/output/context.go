package output

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// highRigorBundles and lowRigorBundles mirror the original's per-app rigor
// table, grounded on context.py's HIGH_RIGOR_APPS/LOW_RIGOR_APPS.
var highRigorBundles = map[string]bool{
	"com.apple.mail":        true,
	"com.google.Chrome":     true,
	"com.microsoft.Outlook": true,
	"com.microsoft.Word":    true,
	"com.apple.Notes":       true,
	"com.slack.Slack":       true,
}

var lowRigorBundles = map[string]bool{
	"com.apple.Terminal":             true,
	"com.googlecode.iterm2":          true,
	"com.openai.chat":                true,
	"com.anthropic.claudefordesktop": true,
}

func rigorFor(bundleID string) types.Rigor {
	if highRigorBundles[bundleID] {
		return types.RigorHigh
	}
	if lowRigorBundles[bundleID] {
		return types.RigorLow
	}
	return types.RigorNormal
}

// MacContextProvider queries the frontmost application via osascript and
// caches the result briefly to avoid hammering System Events on every call,
// grounded on context.py's 300ms TTL cache.
type MacContextProvider struct {
	ttl time.Duration

	mu        sync.Mutex
	cachedAt  time.Time
	cached    types.AppContext
	hasCached bool
}

func NewMacContextProvider() *MacContextProvider {
	return &MacContextProvider{ttl: 300 * time.Millisecond}
}

// AppContext returns the frontmost application's name, bundle id, window
// title, and correction rigor bias.
func (p *MacContextProvider) AppContext(ctx context.Context) types.AppContext {
	p.mu.Lock()
	if p.hasCached && time.Since(p.cachedAt) < p.ttl {
		cached := p.cached
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	script := `tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set bundleId to bundle identifier of frontApp
	try
		set windowTitle to name of front window of frontApp
	on error
		set windowTitle to ""
	end try
	return appName & "|||" & bundleId & "|||" & windowTitle
end tell`

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	out, err := cmd.Output()

	var appCtx types.AppContext
	if err == nil {
		parts := strings.SplitN(strings.TrimSpace(string(out)), "|||", 3)
		if len(parts) == 3 {
			appCtx = types.AppContext{
				AppName:     parts[0],
				BundleID:    parts[1],
				WindowTitle: parts[2],
			}
		}
	}
	appCtx.Rigor = rigorFor(appCtx.BundleID)

	p.mu.Lock()
	p.cached = appCtx
	p.cachedAt = time.Now()
	p.hasCached = true
	p.mu.Unlock()

	return appCtx
}

// DetectSelectedText copies the current selection via a synthesized Cmd+C
// and compares against the clipboard's prior contents, restoring the
// original clipboard on every exit path. Returns ok=false if nothing was
// selected.
func (p *MacContextProvider) DetectSelectedText(ctx context.Context) (string, bool) {
	w := &MacWriter{}

	original, err := w.getClipboard()
	if err != nil {
		original = ""
	}
	defer w.CopyToClipboard(original)

	copyScript := `tell application "System Events"
	keystroke "c" using command down
end tell`
	if err := runOsascriptStdin(ctx, copyScript); err != nil {
		return "", false
	}

	time.Sleep(50 * time.Millisecond)

	current, err := w.getClipboard()
	if err != nil {
		return "", false
	}
	if current == original || strings.TrimSpace(current) == "" {
		return "", false
	}
	return current, true
}
