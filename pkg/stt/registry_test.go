package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

type mockProvider struct {
	name    string
	text    string
	delay   time.Duration
	initErr error
}

func (m *mockProvider) Name() string      { return m.name }
func (m *mockProvider) Initialize() error { return m.initErr }
func (m *mockProvider) Shutdown() error   { return nil }

func (m *mockProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, deviceID string) types.TranscriptionResult {
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return types.TranscriptionResult{ProviderID: m.name, DeviceID: deviceID}
	}
	return types.TranscriptionResult{Text: m.text, ProviderID: m.name, DeviceID: deviceID}
}

func TestRegistryDispatchCollectsAllProviders(t *testing.T) {
	r := NewRegistry(log.New(nil))
	r.Register(&mockProvider{name: "a", text: "hello"})
	r.Register(&mockProvider{name: "b", text: "world"})

	ch := r.Dispatch(context.Background(), []float32{0.1, 0.2}, 16000, "d1")

	var results []types.TranscriptionResult
	for res := range ch {
		results = append(results, res)
	}
	assert.Len(t, results, 2)
}

func TestRegistryDispatchCancelDiscardsStragglers(t *testing.T) {
	r := NewRegistry(log.New(nil))
	r.Register(&mockProvider{name: "fast", text: "quick", delay: time.Millisecond})
	r.Register(&mockProvider{name: "slow", text: "late", delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	ch := r.Dispatch(ctx, nil, 16000, "d1")

	first := <-ch
	assert.Equal(t, "fast", first.ProviderID)
	cancel()

	// The slow provider's result, if it arrives at all after cancellation,
	// must not carry its text — it observes ctx.Done and returns empty.
	for res := range ch {
		if res.ProviderID == "slow" {
			assert.Empty(t, res.Text)
		}
	}
}

func TestRegistryFailedInitExcludesProvider(t *testing.T) {
	r := NewRegistry(log.New(nil))
	assert.Len(t, r.Providers(), 0)
	r.Register(&mockProvider{name: "a", text: "x"})
	assert.Len(t, r.Providers(), 1)
	r.Register(&mockProvider{name: "broken", text: "y", initErr: errors.New("init failed")})
	assert.Len(t, r.Providers(), 1)
	assert.Equal(t, "a", r.Providers()[0].Name())
}
