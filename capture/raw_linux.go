//go:build linux

package capture

import (
	"fmt"
	"sync/atomic"

	evdev "github.com/holoplot/go-evdev"

	"keygrip/hotkey"
	"keygrip/keystate"
	"keygrip/log"
)

// RawConfig wires one raw device capture into the shared engine state.
type RawConfig struct {
	Path    string
	Pointer bool // pass-through routes to the virtual pointer
	Remap   Remap

	Tracker    *keystate.Tracker
	Matcher    *hotkey.Matcher
	Dispatcher *hotkey.Dispatcher
	Emitter    eventSink

	// EmergencyKey, pressed with Ctrl held, triggers OnEmergency. Zero
	// disables the check.
	EmergencyKey uint16
	OnEmergency  func()
}

// RawCapture reads one physical device. It attempts an exclusive grab;
// when denied it degrades to monitor mode, where events are still matched
// and dispatched but never suppressed or re-emitted (the kernel already
// delivers the originals).
type RawCapture struct {
	cfg     RawConfig
	dev     *evdev.InputDevice
	grabbed atomic.Bool
	running atomic.Bool
	done    chan struct{}
}

// OpenRaw opens and best-effort-grabs the device. Grab denial is logged,
// not fatal.
func OpenRaw(cfg RawConfig) (*RawCapture, error) {
	dev, err := evdev.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Path, err)
	}
	c := &RawCapture{cfg: cfg, dev: dev, done: make(chan struct{})}
	if err := dev.Grab(); err != nil {
		log.GrabDenied(cfg.Path, err)
	} else {
		c.grabbed.Store(true)
	}
	c.running.Store(true)
	return c, nil
}

// Grabbed reports whether the device is exclusively captured.
func (c *RawCapture) Grabbed() bool { return c.grabbed.Load() }

// Release drops the exclusive grab without stopping the loop, degrading
// to monitor mode. The emergency chord uses this to hand the physical
// devices back even when a callback has wedged the engine.
func (c *RawCapture) Release() bool {
	if !c.grabbed.CompareAndSwap(true, false) {
		return false
	}
	if err := c.dev.Ungrab(); err != nil {
		log.Warnf("ungrab %s: %v", c.cfg.Path, err)
	}
	return true
}

// Run blocks reading events until Close or device loss. No error inside a
// single event's processing terminates the loop; only a failed read does.
func (c *RawCapture) Run() {
	defer close(c.done)
	for c.running.Load() {
		ev, err := c.dev.ReadOne()
		if err != nil {
			if c.running.Load() {
				log.Errorf("device %s read: %v", c.cfg.Path, err)
			}
			return
		}
		c.handle(ev)
	}
}

// Close stops the loop and releases the device. Closing the fd unblocks
// the pending read, which the loop treats as a clean exit.
func (c *RawCapture) Close() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.Release()
	c.dev.Close()
	<-c.done
}

func (c *RawCapture) handle(ev *evdev.InputEvent) {
	switch ev.Type {
	case evdev.EV_KEY:
		c.handleKey(uint16(ev.Code), ev.Value)
	case evdev.EV_REL:
		c.handleRel(uint16(ev.Code), ev.Value)
	case evdev.EV_SYN:
		// The emitter pairs every write with its own SYN_REPORT.
	default:
		c.forward(ev)
	}
}

func (c *RawCapture) handleKey(code uint16, value int32) {
	code = c.cfg.Remap.Apply(code)

	if value == 2 {
		// Autorepeat: a grabbed chord must not leak repeats; everything
		// else passes through.
		if d, ok := c.cfg.Matcher.Match(code, true, c.modsExcluding(code), hotkey.RawDevice); ok && d.Grab {
			return
		}
		c.emitKey(code, value)
		return
	}

	pressed := value == 1
	if pressed {
		if !c.cfg.Tracker.TryPress(code) {
			return
		}
	} else {
		if !c.cfg.Tracker.TryRelease(code) {
			return
		}
	}

	if pressed && c.cfg.EmergencyKey != 0 && code == c.cfg.EmergencyKey &&
		c.cfg.Tracker.Modifiers()&hotkey.ModCtrl != 0 && c.cfg.OnEmergency != nil {
		// Run off the capture thread so the handler can close devices.
		go c.cfg.OnEmergency()
		return
	}

	d, ok := c.cfg.Matcher.Match(code, pressed, c.modsExcluding(code), hotkey.RawDevice)
	if ok {
		c.cfg.Dispatcher.Dispatch(d)
		if d.Grab {
			return
		}
	}
	c.emitKey(code, value)
}

// modsExcluding returns the live modifier snapshot with the event key's
// own bit removed, so a bare-modifier chord sees the pre-press mask.
func (c *RawCapture) modsExcluding(code uint16) hotkey.Mod {
	mods := c.cfg.Tracker.Modifiers()
	if bit, ok := hotkey.ModifierBit(code); ok {
		mods &^= bit
	}
	return mods
}

func (c *RawCapture) handleRel(code uint16, value int32) {
	if code == uint16(evdev.REL_WHEEL) && value != 0 {
		direction := int8(1)
		if value < 0 {
			direction = -1
		}
		d, ok := c.cfg.Matcher.MatchWheel(direction, c.cfg.Tracker.Modifiers(), hotkey.RawDevice)
		if ok {
			c.cfg.Dispatcher.Dispatch(d)
			if d.Grab {
				return
			}
		}
	}
	if !c.grabbed.Load() {
		return
	}
	if err := c.cfg.Emitter.EmitRel(code, value); err != nil {
		log.Warnf("emit rel %d: %v", code, err)
	}
}

func (c *RawCapture) emitKey(code uint16, value int32) {
	if !c.grabbed.Load() {
		return
	}
	var err error
	if code >= uint16(evdev.BTN_LEFT) && code <= uint16(evdev.BTN_TASK) {
		err = c.cfg.Emitter.EmitButton(code, value)
	} else {
		err = c.cfg.Emitter.EmitKey(code, value)
	}
	if err != nil {
		// Event dropped, loop continues.
		log.Warnf("emit key %d: %v", code, err)
	}
}

func (c *RawCapture) forward(ev *evdev.InputEvent) {
	if !c.grabbed.Load() {
		return
	}
	if err := c.cfg.Emitter.Forward(ev, c.cfg.Pointer); err != nil {
		log.Warnf("forward type %d: %v", ev.Type, err)
	}
}
