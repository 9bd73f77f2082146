// Package config loads dictation-engine settings from environment, .env
// files, and a layered settings.json, grounded on the original source's
// config.py.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// fileSettings mirrors the subset of settings.json keys config.py applies
// with type validation against its DEFAULT_CONFIG table.
type fileSettings struct {
	EnabledMics        []string `json:"enabled_mics"`
	PrerollSeconds     *float64 `json:"preroll_seconds"`
	SilenceThreshold   *float64 `json:"silence_threshold"`
	SampleRate         *int     `json:"sample_rate"`
	DoubleTapThreshold *float64 `json:"double_tap_threshold"`
	ToggleModeTimeout  *float64 `json:"toggle_mode_timeout"`
	EnabledProviders   []string `json:"enabled_providers"`
	ConsensusThreshold *int     `json:"consensus_threshold"`
	ConsensusMaxWords  *int     `json:"consensus_max_words"`
	CustomInstructions *string  `json:"custom_instructions"`
	SystemPrompt       *string  `json:"system_prompt"`
	EditingPrompt      *string  `json:"editing_prompt"`
}

// Store is the single source of truth for settings: it loads once,
// hot-reloads settings.json on mtime change, and atomically swaps the
// current ConfigSnapshot so sessions never block on a read.
//
// Sessions copy the current snapshot at start and never consult the store
// again afterward, matching the original's explicit strategy for late
// credential/prompt changes.
type Store struct {
	settingsPath string
	current      atomic.Pointer[types.ConfigSnapshot]
	lastModTime  time.Time
	log          *log.Logger
}

// NewStore loads environment variables (via godotenv, falling back to the
// process environment) and an initial settings.json, then returns a Store
// ready to serve Snapshot() calls.
func NewStore(dataDir string, logger *log.Logger) *Store {
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".dictation-engine")
	}
	_ = os.MkdirAll(dataDir, 0o755)

	loadEnvFile(filepath.Join(dataDir, ".env"))
	loadEnvFile(".env")

	s := &Store{
		settingsPath: filepath.Join(dataDir, "settings.json"),
		log:          logger,
	}

	snap := types.DefaultConfigSnapshot()
	applyFileSettings("settings.json", &snap, logger)
	applyFileSettings(s.settingsPath, &snap, logger)
	applyEnvCredentials(&snap)

	s.current.Store(&snap)
	if info, err := os.Stat(s.settingsPath); err == nil {
		s.lastModTime = info.ModTime()
	}
	return s
}

func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func applyEnvCredentials(snap *types.ConfigSnapshot) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		snap.GroqAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		snap.GeminiAPIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		snap.OpenRouterAPIKey = v
	}
}

func applyFileSettings(path string, snap *types.ConfigSnapshot, logger *log.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var fs fileSettings
	if err := json.Unmarshal(data, &fs); err != nil {
		if logger != nil {
			logger.Warn("failed to parse settings file", "path", path, "err", err)
		}
		return
	}

	if fs.EnabledMics != nil {
		snap.EnabledMics = fs.EnabledMics
	}
	if fs.PrerollSeconds != nil {
		snap.PreRollSeconds = *fs.PrerollSeconds
	}
	if fs.SilenceThreshold != nil {
		snap.SilenceThresholdSeconds = *fs.SilenceThreshold
	}
	if fs.SampleRate != nil {
		snap.SampleRate = *fs.SampleRate
	}
	if fs.DoubleTapThreshold != nil {
		snap.DoubleTapThreshold = durationFromSeconds(*fs.DoubleTapThreshold)
	}
	if fs.ToggleModeTimeout != nil {
		snap.ToggleModeTimeout = durationFromSeconds(*fs.ToggleModeTimeout)
	}
	if fs.EnabledProviders != nil {
		snap.EnabledProviders = normalizeProviderNames(fs.EnabledProviders)
	}
	if fs.ConsensusThreshold != nil {
		snap.ConsensusThreshold = *fs.ConsensusThreshold
	}
	if fs.ConsensusMaxWords != nil {
		snap.ConsensusMaxWords = *fs.ConsensusMaxWords
	}
	if fs.CustomInstructions != nil {
		snap.CustomInstructions = *fs.CustomInstructions
	}
	if fs.SystemPrompt != nil {
		snap.SystemPrompt = *fs.SystemPrompt
	}
	if fs.EditingPrompt != nil {
		snap.EditingPrompt = *fs.EditingPrompt
	}
}

// normalizeProviderNames strips the legacy "_mlx"/"_whisper" suffixes the
// original applied when migrating provider names from settings.json.
func normalizeProviderNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		n = strings.ReplaceAll(n, "_mlx", "")
		n = strings.ReplaceAll(n, "_whisper", "")
		out[i] = n
	}
	return out
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Snapshot returns the current immutable configuration. Callers hold onto
// it for the lifetime of whatever operation consults it; the Store may
// swap in a newer snapshot at any time via Reload or Watch without
// invalidating a snapshot already handed out.
func (s *Store) Snapshot() types.ConfigSnapshot {
	return *s.current.Load()
}

// Reload re-reads settings.json if its modification time has changed and
// atomically swaps the current snapshot. Returns true if a swap occurred.
func (s *Store) Reload() bool {
	info, err := os.Stat(s.settingsPath)
	if err != nil {
		return false
	}
	if !info.ModTime().After(s.lastModTime) {
		return false
	}

	next := *s.current.Load()
	applyFileSettings(s.settingsPath, &next, s.log)
	applyEnvCredentials(&next)
	s.current.Store(&next)
	s.lastModTime = info.ModTime()
	if s.log != nil {
		s.log.Info("configuration reloaded", "path", s.settingsPath)
	}
	return true
}

// Watch polls for settings.json changes at the given interval until ctx
// (represented here by the stop channel) is closed.
func (s *Store) Watch(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Reload()
		case <-stop:
			return
		}
	}
}
