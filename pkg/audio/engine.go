package audio

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// Sink receives a completed chunk. It must not block for long: the engine
// invokes it with its own mutex released (see Engine's callback contract).
type Sink func(Chunk)

const (
	silenceThresholdFloor = -120.0 // dBFS; not consulted by accountSilence, which compares against cfg.SilenceThresholdDB and treats an all-zero block as silent
)

type deviceState struct {
	id        string
	preRoll   *preRollBuffer
	builder   chunkBuilder
	device    *malgo.Device
	reference bool
}

// Engine opens one capture stream per enabled device, maintains a pre-roll
// ring and chunk builder per device, and emits chunks on reference-device
// silence or on stop. Only the reference device (the first enabled device)
// drives silence accounting, because independent per-device silence
// detection would desynchronize chunk boundaries across microphones.
type Engine struct {
	mu  sync.Mutex
	log *log.Logger
	cfg types.ConfigSnapshot

	mctx    *malgo.AllocatedContext
	devices map[string]*deviceState
	order   []string // enabled device ids in resolution order; order[0] is reference

	isRecording     bool
	silenceDuration float64
	sink            Sink
}

// NewEngine constructs an engine bound to a config snapshot. Call Open to
// resolve and start device capture.
func NewEngine(cfg types.ConfigSnapshot, logger *log.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     logger,
		devices: make(map[string]*deviceState),
	}
}

// Open resolves the configured device names against the available input
// devices (case-insensitive exact match, then substring either direction),
// and starts a malgo capture stream per resolved device. Unmatched devices
// are logged and skipped; the engine starts with whichever devices matched.
func (e *Engine) Open() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio: init context: %w", err)
	}
	e.mctx = mctx

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("audio: enumerate capture devices: %w", err)
	}
	available := make([]malgo.DeviceInfo, len(infos))
	copy(available, infos)

	preRollSamples := int(e.cfg.PreRollSeconds * float64(e.cfg.SampleRate))

	for _, wanted := range e.cfg.EnabledMics {
		info, ok := resolveDevice(wanted, available)
		if !ok {
			e.log.Warn("audio: no matching capture device, skipping", "wanted", wanted)
			continue
		}

		ds := &deviceState{
			id:        info.Name(),
			preRoll:   newPreRollBuffer(preRollSamples),
			reference: len(e.order) == 0,
		}

		deviceID := ds.id
		deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
		deviceConfig.Capture.Format = malgo.FormatF32
		deviceConfig.Capture.Channels = 1
		deviceConfig.SampleRate = uint32(e.cfg.SampleRate)
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		deviceConfig.PeriodSizeInFrames = uint32(e.cfg.BlockSize)

		device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
			Data: e.callbackFor(deviceID),
		})
		if err != nil {
			e.log.Warn("audio: device open failed, skipping", "device", deviceID, "err", err)
			continue
		}
		if err := device.Start(); err != nil {
			e.log.Warn("audio: device start failed, skipping", "device", deviceID, "err", err)
			continue
		}

		ds.device = device
		e.devices[deviceID] = ds
		e.order = append(e.order, deviceID)
	}

	if len(e.order) == 0 {
		return fmt.Errorf("audio: no capture devices resolved")
	}
	return nil
}

// resolveDevice implements the three-tier fuzzy match from SPEC_FULL.md
// §4.2: case-insensitive exact match, configured name contained in device
// name, device name contained in configured name.
func resolveDevice(wanted string, available []malgo.DeviceInfo) (malgo.DeviceInfo, bool) {
	lowerWanted := strings.ToLower(wanted)

	for _, info := range available {
		if strings.ToLower(info.Name()) == lowerWanted {
			return info, true
		}
	}
	for _, info := range available {
		if strings.Contains(strings.ToLower(info.Name()), lowerWanted) {
			return info, true
		}
	}
	for _, info := range available {
		if strings.Contains(lowerWanted, strings.ToLower(info.Name())) {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// callbackFor builds the malgo data callback for one device, implementing
// the callback contract from SPEC_FULL.md §4.2: under the mutex, route to
// the pre-roll or the chunk builder, run silence accounting on the
// reference device only, and drop-lock-invoke-reacquire around chunk
// emission so the sink never runs while the engine mutex is held.
func (e *Engine) callbackFor(deviceID string) func(pOutput, pInput []byte, frameCount uint32) {
	return func(_, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}
		samples := bytesToFloat32(pInput)

		e.mu.Lock()
		ds, ok := e.devices[deviceID]
		if !ok {
			e.mu.Unlock()
			return
		}

		if !e.isRecording {
			ds.preRoll.push(Block{DeviceID: deviceID, Samples: samples})
			e.mu.Unlock()
			return
		}

		ds.builder.append(samples)

		var emit Chunk
		if ds.reference {
			e.accountSilence(ds, len(samples))
			if e.silenceDuration >= e.cfg.SilenceThresholdSeconds && ds.builder.durationSeconds(e.cfg.SampleRate) >= e.cfg.MinChunkSeconds {
				emit = e.drainBuildersLocked()
				e.silenceDuration = 0
			}
		}
		sink := e.sink
		e.mu.Unlock()

		if emit != nil && sink != nil {
			sink(emit)
			e.mu.Lock()
			stillRecording := e.isRecording
			e.mu.Unlock()
			if !stillRecording {
				return
			}
		}
	}
}

// accountSilence updates the running silence duration from the reference
// device's most recent block. Must be called with the engine mutex held.
func (e *Engine) accountSilence(ds *deviceState, sampleCount int) {
	blockSeconds := float64(sampleCount) / float64(e.cfg.SampleRate)
	dbfs := rmsDBFS(ds.builder.samples[len(ds.builder.samples)-sampleCount:])
	if dbfs < e.cfg.SilenceThresholdDB || dbfs == math.Inf(-1) {
		e.silenceDuration += blockSeconds
	} else {
		e.silenceDuration = 0
	}
}

// drainBuildersLocked moves every device's builder into a fresh chunk,
// trimming the trailing silence run (tracked by accountSilence on the
// reference device, and shared by every device since they all emit on the
// same boundary) down to the configured window. Must be called with the
// mutex held; the caller releases the mutex before invoking the sink.
func (e *Engine) drainBuildersLocked() Chunk {
	chunk := make(Chunk, len(e.devices))
	for id, ds := range e.devices {
		ds.builder.trimTrailing(e.cfg.SampleRate, e.silenceDuration, e.cfg.TrailingSilenceSeconds)
		chunk[id] = ds.builder.flush()
	}
	return chunk
}

// StartRecording seeds each device's chunk builder from its pre-roll and
// begins routing callback audio into builders instead of pre-rolls.
func (e *Engine) StartRecording(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isRecording = true
	e.silenceDuration = 0
	e.sink = sink
	for _, ds := range e.devices {
		ds.builder.seed(ds.preRoll.snapshot())
	}
}

// StopRecording detaches the sink, flushes every builder into a final
// chunk, and returns it. No on_chunk_ready callback fires after this call
// returns, per SPEC_FULL.md invariant 3.
func (e *Engine) StopRecording() Chunk {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isRecording = false
	e.sink = nil
	return e.drainBuildersLocked()
}

// Shutdown stops and releases every device stream. Safe to call once; a
// second call is a no-op.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	devices := e.devices
	e.devices = make(map[string]*deviceState)
	e.order = nil
	mctx := e.mctx
	e.mctx = nil
	e.mu.Unlock()

	for _, ds := range devices {
		if ds.device != nil {
			ds.device.Uninit()
		}
	}
	if mctx != nil {
		mctx.Uninit()
	}
}

// ReferenceDeviceID returns the device driving silence accounting, or ""
// if the engine has no devices open.
func (e *Engine) ReferenceDeviceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.order) == 0 {
		return ""
	}
	return e.order[0]
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func rmsDBFS(samples []float32) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
