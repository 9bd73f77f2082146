// Package session owns the recording lifecycle: per-chunk transcription
// with early consensus, finalization into a single corrected text, and
// window-aware output dispatch, grounded on the original source's
// session.py.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/lokutor-ai/dictation-engine/pkg/audio"
	"github.com/lokutor-ai/dictation-engine/pkg/consensus"
	"github.com/lokutor-ai/dictation-engine/pkg/correct"
	"github.com/lokutor-ai/dictation-engine/pkg/output"
	"github.com/lokutor-ai/dictation-engine/pkg/stt"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// ContextProvider abstracts querying the active application and any
// selected text, so Session doesn't depend on a concrete OS backend.
type ContextProvider interface {
	AppContext(ctx context.Context) types.AppContext
	DetectSelectedText(ctx context.Context) (string, bool)
}

type chunkResult struct {
	results       []types.TranscriptionResult
	consensusText string
	hasConsensus  bool
}

// Session represents one recording from trigger-press to output,
// grounded on session.py's Session dataclass.
type Session struct {
	ID uuid.UUID

	cfg             types.ConfigSnapshot
	registry        *stt.Registry
	correctClient   *correct.Client
	writer          output.Writer
	contextProvider ContextProvider
	outputMu        *sync.Mutex
	history         *History
	log             *log.Logger
	onComplete      func(*Session)

	mu           sync.Mutex
	wg           sync.WaitGroup
	chunkResults []chunkResult
	isActive     bool

	startTime         time.Time
	finalizeStartTime time.Time
	appContext        types.AppContext
	selectedText      string
	hasSelection      bool
	finalText         string
	outputMethod      string
}

func newSession(
	cfg types.ConfigSnapshot,
	registry *stt.Registry,
	correctClient *correct.Client,
	writer output.Writer,
	contextProvider ContextProvider,
	outputMu *sync.Mutex,
	history *History,
	logger *log.Logger,
	onComplete func(*Session),
) *Session {
	return &Session{
		ID:              uuid.New(),
		cfg:             cfg,
		registry:        registry,
		correctClient:   correctClient,
		writer:          writer,
		contextProvider: contextProvider,
		outputMu:        outputMu,
		history:         history,
		log:             logger,
		onComplete:      onComplete,
	}
}

// Start captures the app context and any pre-existing selection, marking
// the session active. Call once, immediately after construction.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.isActive = true
	s.startTime = time.Now()
	s.mu.Unlock()

	appCtx := s.contextProvider.AppContext(ctx)
	selection, hasSelection := s.contextProvider.DetectSelectedText(ctx)

	s.mu.Lock()
	s.appContext = appCtx
	s.selectedText = selection
	s.hasSelection = hasSelection
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("session start", "session_id", s.ID, "app", appCtx.AppName, "bundle", appCtx.BundleID)
	}
}

// IsActive reports whether the session has started and not yet completed.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActive
}

// ChunkSink adapts OnChunkReady to the audio engine's Sink signature, bound
// to the context the caller wants chunk transcription to inherit (usually
// the process lifetime context, not the per-request context of whatever
// triggered recording).
func (s *Session) ChunkSink(ctx context.Context) audio.Sink {
	return func(c audio.Chunk) {
		s.OnChunkReady(ctx, c)
	}
}

// OnChunkReady is the audio engine's chunk sink: it starts background
// transcription of one chunk and returns immediately. Per invariant #3, no
// chunk may be accepted once the session is no longer active.
func (s *Session) OnChunkReady(ctx context.Context, chunk audio.Chunk) {
	s.mu.Lock()
	active := s.isActive
	s.mu.Unlock()
	if !active || chunk.Empty() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.transcribeChunkWithConsensus(ctx, chunk)
	}()
}

// transcribeChunkWithConsensus fans the chunk out to every device x
// provider pair, consulting the consensus checker as results arrive and
// cancelling the rest of the chunk's work the moment agreement is found.
func (s *Session) transcribeChunkWithConsensus(parent context.Context, chunk audio.Chunk) {
	ctx, cancel := context.WithTimeout(parent, stt.DefaultTimeout)
	defer cancel()

	var perDevice []<-chan types.TranscriptionResult
	for deviceID, samples := range chunk {
		if len(samples) == 0 {
			continue
		}
		perDevice = append(perDevice, s.registry.Dispatch(ctx, samples, s.cfg.SampleRate, deviceID))
	}
	if len(perDevice) == 0 {
		return
	}

	merged := mergeResultChannels(perDevice)

	var results []types.TranscriptionResult
	var consensusText string
	hasConsensus := false

drain:
	for {
		select {
		case r, ok := <-merged:
			if !ok {
				break drain
			}
			results = append(results, r)

			if len(results) >= s.cfg.ConsensusThreshold {
				if text, ok := consensus.Check(results, s.cfg.ConsensusThreshold, s.cfg.ConsensusMaxWords); ok {
					consensusText = text
					hasConsensus = true
					cancel()
					break drain
				}
			}
		case <-ctx.Done():
			break drain
		}
	}

	s.mu.Lock()
	s.chunkResults = append(s.chunkResults, chunkResult{
		results:       results,
		consensusText: consensusText,
		hasConsensus:  hasConsensus,
	})
	s.mu.Unlock()

	if s.log != nil {
		s.log.Debug("chunk transcribed", "session_id", s.ID, "results", len(results), "consensus", hasConsensus)
	}
}

// mergeResultChannels fans multiple per-device result channels into one,
// closing the output once every input channel has closed.
func mergeResultChannels(channels []<-chan types.TranscriptionResult) <-chan types.TranscriptionResult {
	out := make(chan types.TranscriptionResult)
	var wg sync.WaitGroup
	wg.Add(len(channels))
	for _, ch := range channels {
		go func(ch <-chan types.TranscriptionResult) {
			defer wg.Done()
			for r := range ch {
				out <- r
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Finalize runs the terminal processing step in the background: transcribe
// the last chunk, wait for all pending chunks, aggregate, correct if
// needed, and dispatch output. Call once, on trigger release.
func (s *Session) Finalize(ctx context.Context, finalChunk audio.Chunk) {
	go s.finalizeImpl(ctx, finalChunk)
}

func (s *Session) finalizeImpl(ctx context.Context, finalChunk audio.Chunk) {
	defer func() {
		s.mu.Lock()
		s.isActive = false
		final := s.finalText
		s.mu.Unlock()

		if s.log != nil {
			s.log.Info("session complete", "session_id", s.ID, "chunks", len(s.chunkResults), "final_text", truncate(final, 200))
		}
		if s.onComplete != nil {
			s.onComplete(s)
		}
	}()

	s.mu.Lock()
	s.finalizeStartTime = time.Now()
	s.mu.Unlock()

	if !finalChunk.Empty() {
		s.transcribeChunkWithConsensus(ctx, finalChunk)
	}

	s.wg.Wait()

	chunkTexts, allResults := s.aggregateResults()
	if len(chunkTexts) == 0 {
		if s.log != nil {
			s.log.Info("session produced no transcription", "session_id", s.ID)
		}
		return
	}
	combined := strings.Join(chunkTexts, " ")

	s.mu.Lock()
	selection, hasSelection := s.selectedText, s.hasSelection
	startAppCtx := s.appContext
	nChunks := len(s.chunkResults)
	firstOutcome := s.chunkResults[0]
	s.mu.Unlock()

	// Text-editing mode: the utterance is a command over the selection,
	// delivered by replacing it rather than typing or clipboard-copying.
	if hasSelection {
		edited := s.correctClient.EditSelection(ctx, selection, combined, s.cfg.EditingPrompt)
		if edited == "" {
			return
		}
		s.mu.Lock()
		s.finalText = edited
		s.outputMethod = "replace_selection"
		s.mu.Unlock()

		s.outputMu.Lock()
		err := s.writer.ReplaceSelection(ctx, edited)
		s.outputMu.Unlock()
		if err != nil && s.log != nil {
			s.log.Warn("replace selection failed", "session_id", s.ID, "err", err)
		}
		s.history.Add(edited)
		return
	}

	// Single chunk with consensus: bypass correction entirely.
	if nChunks == 1 && firstOutcome.hasConsensus {
		s.outputText(ctx, firstOutcome.consensusText, startAppCtx, "typed")
		return
	}

	historyContext := s.history.Context()

	currentAppCtx := s.contextProvider.AppContext(ctx)
	canStream := currentAppCtx.BundleID != "" && currentAppCtx.BundleID == startAppCtx.BundleID

	if canStream {
		var streamed strings.Builder
		s.mu.Lock()
		s.outputMethod = "streamed"
		s.mu.Unlock()

		// The output mutex is held for the whole streamed response so every
		// delta is typed in order under one lock.
		onToken := func(token string) {
			streamed.WriteString(token)
			_ = s.writer.Type(ctx, token)
		}

		s.outputMu.Lock()
		s.correctClient.Correct(ctx, allResults, &startAppCtx, historyContext, s.cfg.CustomInstructions, s.cfg.SystemPrompt, onToken)
		corrected := streamed.String()
		if corrected == "" && combined != "" {
			corrected = combined
			_ = s.writer.Type(ctx, corrected)
		}
		s.outputMu.Unlock()

		s.mu.Lock()
		s.finalText = corrected
		s.mu.Unlock()
		s.history.Add(corrected)
		return
	}

	corrected := s.correctClient.Correct(ctx, allResults, &startAppCtx, historyContext, s.cfg.CustomInstructions, s.cfg.SystemPrompt, nil)
	if corrected == "" {
		corrected = combined
	}
	s.mu.Lock()
	s.finalText = corrected
	s.outputMethod = "clipboard"
	s.mu.Unlock()

	if corrected == "" {
		return
	}
	_ = s.writer.CopyToClipboard(corrected)
	s.writer.Notify("Window changed", "Corrected text copied to clipboard")
	s.history.Add(corrected)
}

// aggregateResults flattens per-chunk outcomes in emission order: each
// chunk contributes its consensus text if found, else its longest
// individual result.
func (s *Session) aggregateResults() (chunkTexts []string, allResults []types.TranscriptionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.chunkResults {
		allResults = append(allResults, c.results...)
		if c.hasConsensus {
			chunkTexts = append(chunkTexts, c.consensusText)
			continue
		}
		if best, ok := longestResult(c.results); ok {
			chunkTexts = append(chunkTexts, best.Text)
		}
	}
	return chunkTexts, allResults
}

func longestResult(results []types.TranscriptionResult) (types.TranscriptionResult, bool) {
	var best types.TranscriptionResult
	found := false
	bestWords := -1
	for _, r := range results {
		n := len(strings.Fields(r.Text))
		if n > bestWords {
			best = r
			bestWords = n
			found = true
		}
	}
	return best, found
}

// outputText implements the window-change-guarded dispatch procedure: hold
// the output mutex, re-query the app context, and branch to clipboard when
// the foreground bundle has changed since session start.
func (s *Session) outputText(ctx context.Context, text string, startAppCtx types.AppContext, method string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	s.finalText = text
	s.mu.Unlock()

	s.outputMu.Lock()
	currentAppCtx := s.contextProvider.AppContext(ctx)
	if startAppCtx.BundleID != "" && currentAppCtx.BundleID != "" && currentAppCtx.BundleID != startAppCtx.BundleID {
		_ = s.writer.CopyToClipboard(text)
		s.mu.Lock()
		s.outputMethod = "clipboard"
		s.mu.Unlock()
		s.outputMu.Unlock()

		s.writer.Notify("Window changed", "Copied to clipboard")
		s.history.Add(text)
		return
	}

	err := s.writer.Type(ctx, text)
	s.mu.Lock()
	s.outputMethod = "typed"
	s.mu.Unlock()
	s.outputMu.Unlock()

	if err != nil && s.log != nil {
		s.log.Warn("type failed", "session_id", s.ID, "err", err)
	}
	s.history.Add(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("...(%d more bytes)", len(s)-n)
}
