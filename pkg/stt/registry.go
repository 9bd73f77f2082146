package stt

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// Registry holds every enabled provider and fans a block of audio out to
// all of them in parallel, grounded on providers/__init__.py's
// ProviderRegistry.transcribe_all (ThreadPoolExecutor + as_completed)
// translated into goroutines + a fan-in channel + context cancellation,
// the idiom used by other_examples/.../provider_selector.go's
// audioDistributor/transcriptionCollector pair.
//
// DefaultWorkerPoolSize bounds total concurrent provider calls across every
// device x provider pair in flight, mirroring the original's single
// ThreadPoolExecutor(max_workers=12) shared by every chunk the session
// submits.
const DefaultWorkerPoolSize = 12

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	log       *log.Logger
	sem       *semaphore.Weighted
}

// NewRegistry builds a registry whose concurrent provider calls are capped
// at DefaultWorkerPoolSize, regardless of how many devices and providers a
// session fans a single chunk out to.
func NewRegistry(logger *log.Logger) *Registry {
	return NewRegistryWithPoolSize(logger, DefaultWorkerPoolSize)
}

func NewRegistryWithPoolSize(logger *log.Logger, poolSize int64) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		log:       logger,
		sem:       semaphore.NewWeighted(poolSize),
	}
}

// Register initializes and adds a provider. A failed initialize excludes
// the provider from dispatch but does not fail registration of peers.
func (r *Registry) Register(p Provider) {
	if err := p.Initialize(); err != nil {
		r.log.Warn("stt: provider init failed, excluding", "provider", p.Name(), "err", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Dispatch starts one goroutine per registered provider transcribing the
// same audio, and returns a channel that receives each result as it
// arrives. The channel closes once every provider has returned or ctx is
// cancelled. Cancelling ctx is cooperative: in-flight HTTP calls are
// aborted (net/http honors context cancellation), and any provider that
// hasn't started is simply never awaited — per SPEC_FULL.md §9, late
// results are discarded by the caller, not interrupted mid-flight by force.
func (r *Registry) Dispatch(ctx context.Context, samples []float32, sampleRate int, deviceID string) <-chan types.TranscriptionResult {
	providers := r.Providers()
	out := make(chan types.TranscriptionResult, len(providers))
	if len(providers) == 0 {
		close(out)
		return out
	}

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			// Bound total in-flight provider calls across the whole
			// process's worker pool, not just this one dispatch; skip
			// the call entirely if ctx is already cancelled while queued.
			if err := r.sem.Acquire(ctx, 1); err != nil {
				select {
				case out <- types.TranscriptionResult{ProviderID: p.Name(), DeviceID: deviceID}:
				case <-ctx.Done():
				}
				return
			}
			defer r.sem.Release(1)

			result := p.Transcribe(ctx, samples, sampleRate, deviceID)
			select {
			case out <- result:
			case <-ctx.Done():
			}
		}(p)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// Shutdown releases every provider. Idempotent: Shutdown clears the
// registry so a second call has nothing left to release.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	providers := r.providers
	r.providers = make(map[string]Provider)
	r.mu.Unlock()

	for _, p := range providers {
		if err := p.Shutdown(); err != nil {
			r.log.Warn("stt: provider shutdown error", "provider", p.Name(), "err", err)
		}
	}
}

// DefaultTimeout is the per-provider-call ceiling referenced by
// SPEC_FULL.md's registry sizing and session fan-out timeout rules.
const DefaultTimeout = 30 * time.Second
