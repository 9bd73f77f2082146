// Package stt holds the speech-to-text provider contract and the registry
// that fans audio out to every enabled provider in parallel, grounded on
// the original source's providers/__init__.py.
package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// errStatus builds a sentinel-free error for a non-200 HTTP response; the
// caller's Transcribe never surfaces it — timeTranscribe converts it to
// an empty-text result per the never-error contract.
func errStatus(code int) error {
	return fmt.Errorf("provider call failed (status %d)", code)
}

// Provider is the uniform transcription contract from SPEC_FULL.md §4.1/§6:
// Transcribe must never error to the caller — on failure it returns a
// TranscriptionResult with empty Text and the measured latency.
type Provider interface {
	Name() string
	Initialize() error
	Transcribe(ctx context.Context, samples []float32, sampleRate int, deviceID string) types.TranscriptionResult
	Shutdown() error
}

// timeTranscribe wraps a provider call with latency measurement so every
// concrete provider doesn't have to repeat the timing boilerplate.
func timeTranscribe(providerID, deviceID string, fn func() (string, float64, error)) types.TranscriptionResult {
	start := time.Now()
	text, confidence, err := fn()
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return types.TranscriptionResult{ProviderID: providerID, DeviceID: deviceID, LatencyMS: latency}
	}
	return types.TranscriptionResult{Text: text, ProviderID: providerID, DeviceID: deviceID, Confidence: confidence, LatencyMS: latency}
}
