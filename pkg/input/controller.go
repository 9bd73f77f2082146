// Package input translates raw key events into recording intents, grounded
// on the original source's input.py hotkey state machine.
package input

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// State is the controller's recording state.
type State string

const (
	StateIdle            State = "idle"
	StateRecording       State = "recording"
	StateToggleRecording State = "toggle_recording"
)

// KeyEvent is the controller's raw input: a trigger-key flag and the
// shift/esc modifiers it needs for emergency reset, independent of any
// particular OS keyboard-hook library.
type KeyEvent struct {
	IsTrigger bool
	IsShift   bool
	IsEsc     bool
}

// Controller implements the hold-to-record / double-tap-to-toggle /
// emergency-reset state machine from spec.md §4.9.
//
// All transitions happen under a single mutex; callbacks are invoked after
// the mutex is released (drop-lock-invoke-reacquire), the same discipline
// used by the audio engine's chunk sink and the session's output dispatch —
// the original Python holds its lock across the callback, which this
// controller deliberately does not.
type Controller struct {
	mu sync.Mutex

	doubleTapThreshold time.Duration
	toggleModeTimeout  time.Duration
	log                *log.Logger

	state          State
	lastPressTime  time.Time
	triggerPressed bool
	shiftPressed   bool
	toggleTimer    *time.Timer

	OnStartRecording func()
	OnStopRecording  func()
	OnEmergencyReset func()
}

func NewController(doubleTapThreshold, toggleModeTimeout time.Duration, logger *log.Logger) *Controller {
	return &Controller{
		doubleTapThreshold: doubleTapThreshold,
		toggleModeTimeout:  toggleModeTimeout,
		log:                logger,
		state:              StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandlePress processes a trigger or modifier key-down event.
func (c *Controller) HandlePress(ev KeyEvent) {
	if ev.IsShift {
		c.mu.Lock()
		c.shiftPressed = true
		c.mu.Unlock()
		return
	}

	if ev.IsEsc {
		c.mu.Lock()
		shiftDown := c.shiftPressed
		c.mu.Unlock()
		if shiftDown {
			c.emergencyReset()
		}
		return
	}

	if !ev.IsTrigger {
		return
	}

	c.mu.Lock()
	if c.triggerPressed {
		c.mu.Unlock()
		return
	}
	c.triggerPressed = true
	now := time.Now()

	var fireStart, fireStop, enterToggle bool
	sinceLastPress := now.Sub(c.lastPressTime)

	switch {
	case c.lastPressTime.IsZero() == false && sinceLastPress < c.doubleTapThreshold && c.state == StateIdle:
		enterToggle = true
	case c.state == StateIdle:
		c.state = StateRecording
		fireStart = true
	case c.state == StateToggleRecording:
		c.state = StateIdle
		c.cancelToggleTimerLocked()
		fireStop = true
	}

	if enterToggle {
		c.state = StateToggleRecording
		fireStart = true
		c.cancelToggleTimerLocked()
		c.toggleTimer = time.AfterFunc(c.toggleModeTimeout, c.toggleTimeout)
	}

	c.lastPressTime = now
	onStart, onStop := c.OnStartRecording, c.OnStopRecording
	c.mu.Unlock()

	if fireStart && onStart != nil {
		onStart()
	}
	if fireStop && onStop != nil {
		onStop()
	}
}

// HandleRelease processes a trigger or modifier key-up event.
func (c *Controller) HandleRelease(ev KeyEvent) {
	if ev.IsShift {
		c.mu.Lock()
		c.shiftPressed = false
		c.mu.Unlock()
		return
	}

	if !ev.IsTrigger {
		return
	}

	c.mu.Lock()
	c.triggerPressed = false
	var fireStop bool
	if c.state == StateRecording {
		c.state = StateIdle
		c.cancelToggleTimerLocked()
		fireStop = true
	}
	onStop := c.OnStopRecording
	c.mu.Unlock()

	if fireStop && onStop != nil {
		onStop()
	}
}

func (c *Controller) toggleTimeout() {
	c.mu.Lock()
	var fireStop bool
	if c.state == StateToggleRecording {
		c.state = StateIdle
		c.cancelToggleTimerLocked()
		fireStop = true
	}
	onStop := c.OnStopRecording
	c.mu.Unlock()

	if fireStop {
		if c.log != nil {
			c.log.Warn("toggle mode timeout, stopping recording")
		}
		if onStop != nil {
			onStop()
		}
	}
}

func (c *Controller) cancelToggleTimerLocked() {
	if c.toggleTimer != nil {
		c.toggleTimer.Stop()
		c.toggleTimer = nil
	}
}

func (c *Controller) emergencyReset() {
	c.mu.Lock()
	wasRecording := c.state != StateIdle
	c.state = StateIdle
	c.triggerPressed = false
	c.cancelToggleTimerLocked()
	onReset, onStop := c.OnEmergencyReset, c.OnStopRecording
	c.mu.Unlock()

	if c.log != nil {
		c.log.Warn("emergency reset triggered")
	}

	if onReset != nil {
		onReset()
	} else if wasRecording && onStop != nil {
		onStop()
	}
}
