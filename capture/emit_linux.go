//go:build linux

package capture

import (
	"errors"
	"fmt"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"keygrip/log"
)

const busVirtual = 0x06 // BUS_VIRTUAL

// eventSink is the slice of the emitter the raw capture loop needs;
// narrow so tests can substitute a recording fake.
type eventSink interface {
	EmitKey(code uint16, value int32) error
	EmitButton(code uint16, value int32) error
	EmitRel(code uint16, value int32) error
	Forward(ev *evdev.InputEvent, pointer bool) error
}

// VirtualEmitter owns one virtual keyboard and one virtual pointer
// device. Only capabilities declared at creation may later be emitted,
// and every write is followed by a synchronizing record under one lock so
// pairs from different capture threads never interleave.
type VirtualEmitter struct {
	mu  sync.Mutex
	kbd *evdev.InputDevice
	ptr *evdev.InputDevice
}

func NewVirtualEmitter() (*VirtualEmitter, error) {
	kbd, err := evdev.CreateDevice(
		"keygrip virtual keyboard",
		evdev.InputID{BusType: busVirtual, Vendor: 0x4b67, Product: 0x0001, Version: 1},
		map[evdev.EvType][]evdev.EvCode{
			evdev.EV_KEY: keyboardCodes(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating virtual keyboard: %w", err)
	}

	ptr, err := evdev.CreateDevice(
		"keygrip virtual pointer",
		evdev.InputID{BusType: busVirtual, Vendor: 0x4b67, Product: 0x0002, Version: 1},
		map[evdev.EvType][]evdev.EvCode{
			evdev.EV_KEY: pointerButtons(),
			evdev.EV_REL: {evdev.REL_X, evdev.REL_Y, evdev.REL_WHEEL, evdev.REL_HWHEEL},
		},
	)
	if err != nil {
		kbd.Close()
		return nil, fmt.Errorf("creating virtual pointer: %w", err)
	}

	return &VirtualEmitter{kbd: kbd, ptr: ptr}, nil
}

// keyboardCodes declares every plain key code below the button range.
func keyboardCodes() []evdev.EvCode {
	codes := make([]evdev.EvCode, 0, 0xff)
	for c := evdev.EvCode(1); c < evdev.BTN_MISC; c++ {
		codes = append(codes, c)
	}
	return codes
}

func pointerButtons() []evdev.EvCode {
	var codes []evdev.EvCode
	for c := evdev.EvCode(evdev.BTN_LEFT); c <= evdev.EvCode(evdev.BTN_TASK); c++ {
		codes = append(codes, c)
	}
	return codes
}

var errEmitterClosed = errors.New("virtual emitter closed")

// writePair writes one event plus its SYN_REPORT while holding the lock.
// The target device is resolved inside the critical section so a racing
// Close is observed as errEmitterClosed, never as a nil write.
func (e *VirtualEmitter) writePair(pointer bool, t evdev.EvType, code evdev.EvCode, value int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev := e.kbd
	if pointer {
		dev = e.ptr
	}
	if dev == nil {
		return errEmitterClosed
	}
	if err := dev.WriteOne(&evdev.InputEvent{Type: t, Code: code, Value: value}); err != nil {
		return err
	}
	return dev.WriteOne(&evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT})
}

func (e *VirtualEmitter) EmitKey(code uint16, value int32) error {
	return e.writePair(false, evdev.EV_KEY, evdev.EvCode(code), value)
}

func (e *VirtualEmitter) EmitButton(code uint16, value int32) error {
	return e.writePair(true, evdev.EV_KEY, evdev.EvCode(code), value)
}

func (e *VirtualEmitter) EmitRel(code uint16, value int32) error {
	return e.writePair(true, evdev.EV_REL, evdev.EvCode(code), value)
}

// Forward re-emits a record from a physical device verbatim. Routed by the
// source device's capability; the emitter issues its own SYN_REPORT, so
// physical sync records must not be passed here.
func (e *VirtualEmitter) Forward(ev *evdev.InputEvent, pointer bool) error {
	return e.writePair(pointer, ev.Type, ev.Code, ev.Value)
}

// ReleaseKeys synthesizes release records for the given codes, used by the
// emergency release to bring the virtual keyboard back in sync.
func (e *VirtualEmitter) ReleaseKeys(codes []uint16) error {
	var firstErr error
	for _, code := range codes {
		if err := e.EmitKey(code, 0); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Warnf("synthesizing release for %d: %v", code, err)
		}
	}
	return firstErr
}

func (e *VirtualEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kbd != nil {
		e.kbd.Close()
		e.kbd = nil
	}
	if e.ptr != nil {
		e.ptr.Close()
		e.ptr = nil
	}
}
