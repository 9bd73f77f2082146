// Package router picks a correction backend by availability, input size,
// and health, grounded on the original source's router.py.
package router

import (
	"math"
	"sync"
	"time"
)

// SelectMode decides which metric a selection minimizes.
type SelectMode int

// ShortInputWordThreshold mirrors router.py's SHORT_INPUT_WORD_THRESHOLD.
const ShortInputWordThreshold = 20

// Backend describes one correction provider's fixed routing metadata.
// Priority: lower means higher quality.
type Backend struct {
	Name            string
	CredentialField string
	NominalLatencyMS int
	Priority        int
	ModelID         string
}

type health struct {
	consecutiveFailures int
	backoffUntil        time.Time
}

// Router holds the fixed backend registry and the process-wide,
// mutex-guarded ProviderHealth table. Callers construct exactly one Router
// and pass it by reference into every session — per SPEC_FULL.md §9, there
// is no package-level global state here.
type Router struct {
	mu       sync.Mutex
	backends []Backend
	health   map[string]*health
	creds    map[string]string // credential field -> value, present iff non-empty
	now      func() time.Time
}

// DefaultBackends mirrors router.py's hardcoded PROVIDERS list exactly.
func DefaultBackends() []Backend {
	return []Backend{
		{Name: "groq", CredentialField: "groq_api_key", NominalLatencyMS: 400, Priority: 2, ModelID: "llama-3.3-70b-versatile"},
		{Name: "gemini", CredentialField: "gemini_api_key", NominalLatencyMS: 700, Priority: 1, ModelID: "gemini-1.5-flash"},
		{Name: "openrouter", CredentialField: "openrouter_api_key", NominalLatencyMS: 900, Priority: 3, ModelID: "openrouter/auto"},
	}
}

// New builds a router from a fixed backend list and the credential values
// present in the session's config snapshot (keyed by CredentialField).
func New(backends []Backend, creds map[string]string) *Router {
	h := make(map[string]*health, len(backends))
	for _, b := range backends {
		h[b.Name] = &health{}
	}
	return &Router{
		backends: backends,
		health:   h,
		creds:    creds,
		now:      time.Now,
	}
}

func (r *Router) available() []Backend {
	now := r.now()
	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		if r.creds[b.CredentialField] == "" {
			continue
		}
		h := r.health[b.Name]
		if h != nil && now.Before(h.backoffUntil) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Select implements SPEC_FULL.md §4.4: among available backends, pick by
// minimum nominal latency for short inputs, else by minimum (best)
// priority. Returns ok=false if nothing is available.
func (r *Router) Select(wordCount int) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return selectFrom(r.available(), wordCount)
}

// Fallback selects among available backends excluding one name, always by
// priority regardless of input size.
func (r *Router) Fallback(exclude string) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []Backend
	for _, b := range r.available() {
		if b.Name != exclude {
			candidates = append(candidates, b)
		}
	}
	return selectFrom(candidates, math.MaxInt32)
}

func selectFrom(candidates []Backend, wordCount int) (Backend, bool) {
	if len(candidates) == 0 {
		return Backend{}, false
	}
	if wordCount < ShortInputWordThreshold {
		best := candidates[0]
		for _, b := range candidates[1:] {
			if b.NominalLatencyMS < best.NominalLatencyMS {
				best = b
			}
		}
		return best, true
	}
	best := candidates[0]
	for _, b := range candidates[1:] {
		if b.Priority < best.Priority {
			best = b
		}
	}
	return best, true
}

// RecordFailure increments the backend's consecutive-failure count and, on
// reaching 3, sets an exponential backoff capped at 300s.
func (r *Router) RecordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[name]
	if h == nil {
		return
	}
	h.consecutiveFailures++
	if h.consecutiveFailures >= 3 {
		backoff := math.Min(math.Pow(2, float64(h.consecutiveFailures)), 300)
		h.backoffUntil = r.now().Add(time.Duration(backoff * float64(time.Second)))
	}
}

// RecordSuccess resets the backend's failure counters.
func (r *Router) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[name]
	if h == nil {
		return
	}
	h.consecutiveFailures = 0
	h.backoffUntil = time.Time{}
}

// Status is a read-only snapshot of one backend's health, for logging.
type Status struct {
	Name                string
	ConsecutiveFailures int
	BackoffUntil        time.Time
	Available           bool
}

// RoutingStatus reports every backend's current health.
func (r *Router) RoutingStatus() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]Status, 0, len(r.backends))
	for _, b := range r.backends {
		h := r.health[b.Name]
		out = append(out, Status{
			Name:                b.Name,
			ConsecutiveFailures: h.consecutiveFailures,
			BackoffUntil:        h.backoffUntil,
			Available:           r.creds[b.CredentialField] != "" && now.After(h.backoffUntil),
		})
	}
	return out
}
