// Command dictation runs the push-to-talk dictation engine: it opens the
// configured microphones, listens for the trigger key, fans recorded
// chunks out to speech-to-text providers, reconciles them, and types or
// pastes the corrected result at the cursor.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/lokutor-ai/dictation-engine/pkg/audio"
	"github.com/lokutor-ai/dictation-engine/pkg/config"
	"github.com/lokutor-ai/dictation-engine/pkg/correct"
	"github.com/lokutor-ai/dictation-engine/pkg/input"
	"github.com/lokutor-ai/dictation-engine/pkg/output"
	"github.com/lokutor-ai/dictation-engine/pkg/router"
	"github.com/lokutor-ai/dictation-engine/pkg/session"
	"github.com/lokutor-ai/dictation-engine/pkg/stt"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

func main() {
	var (
		dataDir  = flag.String("data-dir", "", "directory for settings.json, .env, and logs (default ~/.dictation-engine)")
		logLevel = flag.String("log-level", "info", "debug|info|warn|error")
		reload   = flag.Duration("reload-interval", 2*time.Second, "settings.json hot-reload poll interval")
	)
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	store := config.NewStore(*dataDir, logger)
	snapshot := store.Snapshot()

	stop := make(chan struct{})
	go store.Watch(*reload, stop)
	defer close(stop)

	registry := buildProviderRegistry(snapshot, logger)
	defer registry.Shutdown()

	correctClient := buildCorrectClient(snapshot)

	writer := output.NewMacWriter()
	contextProvider := output.NewMacContextProvider()

	manager := session.NewManager(store.Snapshot, registry, correctClient, writer, contextProvider, logger)

	engine := audio.NewEngine(snapshot, logger)
	if err := engine.Open(); err != nil {
		logger.Fatal("failed to open audio engine", "err", err)
	}
	defer engine.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := input.NewController(snapshot.DoubleTapThreshold, snapshot.ToggleModeTimeout, logger)

	var activeSession *session.Session

	controller.OnStartRecording = func() {
		s, ok := manager.StartSession()
		if !ok {
			logger.Warn("trigger pressed while a session is active, rejecting")
			writer.Notify("Busy", "A recording is already in progress")
			return
		}
		activeSession = s
		s.Start(ctx)
		engine.StartRecording(s.ChunkSink(ctx))
	}

	controller.OnStopRecording = func() {
		finalChunk := engine.StopRecording()
		if activeSession != nil {
			activeSession.Finalize(ctx, finalChunk)
			activeSession = nil
		}
	}

	controller.OnEmergencyReset = func() {
		finalChunk := engine.StopRecording()
		_ = finalChunk
		activeSession = nil
		logger.Warn("emergency reset: audio stream stopped, session abandoned")
	}

	logger.Info("dictation engine started", "mics", snapshot.EnabledMics, "providers", snapshot.EnabledProviders)
	logger.Info("press Ctrl+C to exit")

	// Hotkey-specific OS glue (global key hook registration) is out of
	// scope; the controller is wired and ready for whatever platform
	// hotkey listener feeds it KeyEvents via controller.HandlePress/Release.

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

func buildProviderRegistry(snapshot types.ConfigSnapshot, logger *log.Logger) *stt.Registry {
	registry := stt.NewRegistry(logger)
	for _, name := range snapshot.EnabledProviders {
		switch name {
		case "groq":
			if snapshot.GroqAPIKey == "" {
				logger.Warn("skipping groq STT, no credential configured")
				continue
			}
			registry.Register(stt.NewGroqProvider(snapshot.GroqAPIKey, "whisper-large-v3-turbo"))
		case "openai":
			if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				registry.Register(stt.NewOpenAIProvider(key, "whisper-1"))
			} else {
				logger.Warn("skipping openai STT, no credential configured")
			}
		case "deepgram":
			if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
				registry.Register(stt.NewDeepgramProvider(key))
			} else {
				logger.Warn("skipping deepgram STT, no credential configured")
			}
		default:
			logger.Warn("unknown STT provider in config, skipping", "provider", name)
		}
	}
	return registry
}

func buildCorrectClient(snapshot types.ConfigSnapshot) *correct.Client {
	creds := map[string]string{
		"groq_api_key":       snapshot.GroqAPIKey,
		"gemini_api_key":     snapshot.GeminiAPIKey,
		"openrouter_api_key": snapshot.OpenRouterAPIKey,
	}
	r := router.New(router.DefaultBackends(), creds)

	var backends []correct.Backend
	if snapshot.GroqAPIKey != "" {
		backends = append(backends, correct.NewGroqBackend(snapshot.GroqAPIKey, "llama-3.3-70b-versatile"))
	}
	if snapshot.GeminiAPIKey != "" {
		backends = append(backends, correct.NewGeminiBackend(snapshot.GeminiAPIKey, "gemini-1.5-flash"))
	}
	if snapshot.OpenRouterAPIKey != "" {
		backends = append(backends, correct.NewOpenRouterBackend(snapshot.OpenRouterAPIKey, "openrouter/auto"))
	}

	return correct.NewClient(r, backends...)
}
