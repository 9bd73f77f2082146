package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/dictation-engine/pkg/audio"
	"github.com/lokutor-ai/dictation-engine/pkg/correct"
	"github.com/lokutor-ai/dictation-engine/pkg/router"
	"github.com/lokutor-ai/dictation-engine/pkg/stt"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

type stubProvider struct {
	name string
	text string
}

func (p *stubProvider) Name() string      { return p.name }
func (p *stubProvider) Initialize() error { return nil }
func (p *stubProvider) Shutdown() error   { return nil }
func (p *stubProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, deviceID string) types.TranscriptionResult {
	return types.TranscriptionResult{Text: p.text, ProviderID: p.name, DeviceID: deviceID}
}

type fakeWriter struct {
	mu        sync.Mutex
	typed     []string
	clipboard string
	notified  []string
	replaced  []string
}

func (w *fakeWriter) Type(ctx context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.typed = append(w.typed, text)
	return nil
}
func (w *fakeWriter) CopyToClipboard(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clipboard = text
	return nil
}
func (w *fakeWriter) ReplaceSelection(ctx context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replaced = append(w.replaced, text)
	return nil
}
func (w *fakeWriter) Notify(title, body string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notified = append(w.notified, title+": "+body)
}

type fakeContextProvider struct {
	mu           sync.Mutex
	bundleID     string
	selection    string
	hasSelection bool
}

func (c *fakeContextProvider) AppContext(ctx context.Context) types.AppContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.AppContext{BundleID: c.bundleID, AppName: "Test"}
}
func (c *fakeContextProvider) DetectSelectedText(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection, c.hasSelection
}

type stubBackend struct {
	name string
	text string
}

func (b *stubBackend) Name() string { return b.name }
func (b *stubBackend) Invoke(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string)) (string, error) {
	if onDelta != nil {
		onDelta(b.text)
	}
	return b.text, nil
}

func testConfig() types.ConfigSnapshot {
	cfg := types.DefaultConfigSnapshot()
	cfg.ConsensusThreshold = 2
	cfg.ConsensusMaxWords = 10
	cfg.GroqAPIKey = "test-key"
	return cfg
}

func newTestManager(t *testing.T, cfg types.ConfigSnapshot, providers []stt.Provider, backendText string, writer *fakeWriter, ctxProvider *fakeContextProvider) *Manager {
	registry := stt.NewRegistry(log.New(nil))
	for _, p := range providers {
		registry.Register(p)
	}

	r := router.New(router.DefaultBackends(), map[string]string{"groq_api_key": cfg.GroqAPIKey})
	client := correct.NewClient(r, &stubBackend{name: "groq", text: backendText})

	return NewManager(func() types.ConfigSnapshot { return cfg }, registry, client, writer, ctxProvider, log.New(nil))
}

func TestConsensusFastPathSkipsCorrection(t *testing.T) {
	cfg := testConfig()
	providers := []stt.Provider{
		&stubProvider{name: "pa", text: "Hello, world."},
		&stubProvider{name: "pb", text: "hello world"},
	}
	writer := &fakeWriter{}
	ctxProvider := &fakeContextProvider{bundleID: "com.foo"}
	m := newTestManager(t, cfg, providers, "SHOULD NOT BE USED", writer, ctxProvider)

	s, ok := m.StartSession()
	require.True(t, ok)
	ctx := context.Background()
	s.Start(ctx)

	chunk := audio.Chunk{"d1": {0.1, 0.2}}
	s.Finalize(ctx, chunk)

	require.Eventually(t, func() bool { return !s.IsActive() }, time.Second, time.Millisecond)

	// Arrival order between the two providers is not guaranteed (§5's
	// "deterministic only up to ties"); either original spelling is a
	// valid consensus pick since both normalize identically.
	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.typed, 1)
	assert.Contains(t, []string{"Hello, world.", "hello world"}, writer.typed[0])
}

func TestNoConsensusRoutesToCorrection(t *testing.T) {
	cfg := testConfig()
	providers := []stt.Provider{
		&stubProvider{name: "pa", text: "testing um one two three"},
		&stubProvider{name: "pb", text: "testing one two three"},
	}
	writer := &fakeWriter{}
	ctxProvider := &fakeContextProvider{bundleID: "com.foo"}
	m := newTestManager(t, cfg, providers, "Testing one two three.", writer, ctxProvider)

	s, ok := m.StartSession()
	require.True(t, ok)
	ctx := context.Background()
	s.Start(ctx)

	chunk := audio.Chunk{"d1": {0.1, 0.2}}
	s.Finalize(ctx, chunk)

	require.Eventually(t, func() bool { return !s.IsActive() }, time.Second, time.Millisecond)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.typed, 1)
	assert.Equal(t, "Testing one two three.", writer.typed[0])
}

func TestWindowChangeDuringCorrectionUsesClipboard(t *testing.T) {
	cfg := testConfig()
	providers := []stt.Provider{
		&stubProvider{name: "pa", text: "testing um one two three"},
		&stubProvider{name: "pb", text: "testing one two three"},
	}
	writer := &fakeWriter{}
	ctxProvider := &fakeContextProvider{bundleID: "com.foo"}
	m := newTestManager(t, cfg, providers, "Testing one two three.", writer, ctxProvider)

	s, ok := m.StartSession()
	require.True(t, ok)
	ctx := context.Background()
	s.Start(ctx)

	// Simulate the foreground window changing before finalize re-queries it.
	ctxProvider.mu.Lock()
	ctxProvider.bundleID = "com.bar"
	ctxProvider.mu.Unlock()

	chunk := audio.Chunk{"d1": {0.1, 0.2}}
	s.Finalize(ctx, chunk)

	require.Eventually(t, func() bool { return !s.IsActive() }, time.Second, time.Millisecond)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Empty(t, writer.typed)
	assert.Equal(t, "Testing one two three.", writer.clipboard)
	require.Len(t, writer.notified, 1)
}

func TestBusySessionRejectsSecondStart(t *testing.T) {
	cfg := testConfig()
	writer := &fakeWriter{}
	ctxProvider := &fakeContextProvider{bundleID: "com.foo"}
	m := newTestManager(t, cfg, nil, "", writer, ctxProvider)

	s, ok := m.StartSession()
	require.True(t, ok)
	s.Start(context.Background())

	_, ok = m.StartSession()
	assert.False(t, ok)
	assert.True(t, m.IsBusy())

	s.mu.Lock()
	s.isActive = false
	s.mu.Unlock()
	m.onSessionComplete(s)
	assert.False(t, m.IsBusy())
}

func TestTextEditModeBypassesConsensusAndCorrection(t *testing.T) {
	cfg := testConfig()
	providers := []stt.Provider{
		&stubProvider{name: "pa", text: "make this more formal"},
	}
	writer := &fakeWriter{}
	ctxProvider := &fakeContextProvider{bundleID: "com.foo", selection: "hey whats up", hasSelection: true}
	m := newTestManager(t, cfg, providers, "Hey, what's up?", writer, ctxProvider)

	s, ok := m.StartSession()
	require.True(t, ok)
	ctx := context.Background()
	s.Start(ctx)

	chunk := audio.Chunk{"d1": {0.1, 0.2}}
	s.Finalize(ctx, chunk)

	require.Eventually(t, func() bool { return !s.IsActive() }, time.Second, time.Millisecond)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Empty(t, writer.typed)
	require.Len(t, writer.replaced, 1)
	assert.Equal(t, "Hey, what's up?", writer.replaced[0])
}
