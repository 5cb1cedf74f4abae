//go:build linux

package capture

import (
	"fmt"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"keygrip/hotkey"
	"keygrip/keystate"
)

const (
	keyA     = 30
	keyB     = 48
	keyEsc   = 1
	leftCtrl = 29
)

// recordingSink captures every emission as a printable record so tests
// can assert on the exact pass-through stream.
type recordingSink struct {
	events []string
}

func (s *recordingSink) EmitKey(code uint16, value int32) error {
	s.events = append(s.events, fmt.Sprintf("key %d %d", code, value))
	return nil
}

func (s *recordingSink) EmitButton(code uint16, value int32) error {
	s.events = append(s.events, fmt.Sprintf("btn %d %d", code, value))
	return nil
}

func (s *recordingSink) EmitRel(code uint16, value int32) error {
	s.events = append(s.events, fmt.Sprintf("rel %d %d", code, value))
	return nil
}

func (s *recordingSink) Forward(ev *evdev.InputEvent, pointer bool) error {
	s.events = append(s.events, fmt.Sprintf("fwd %d %d %d", ev.Type, ev.Code, ev.Value))
	return nil
}

type rawHarness struct {
	cap   *RawCapture
	sink  *recordingSink
	reg   *hotkey.Registry
	fired *int
}

func newRawHarness(t *testing.T, d hotkey.Descriptor) *rawHarness {
	t.Helper()
	h := &rawHarness{sink: &recordingSink{}, reg: hotkey.NewRegistry(), fired: new(int)}
	d.Backend = hotkey.RawDevice
	d.Enabled = true
	d.Callback = func() { *h.fired++ }
	if _, err := h.reg.Register(d); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.cap = &RawCapture{
		cfg: RawConfig{
			Tracker:    keystate.New(),
			Matcher:    hotkey.NewMatcher(h.reg, time.Second),
			Dispatcher: hotkey.NewDispatcher(),
			Emitter:    h.sink,
		},
	}
	h.cap.grabbed.Store(true)
	return h
}

func (h *rawHarness) key(code uint16, value int32) {
	h.cap.handle(&evdev.InputEvent{Type: evdev.EV_KEY, Code: evdev.EvCode(code), Value: value})
}

func TestGrabbedChordSuppressed(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyA, Mods: hotkey.ModCtrl},
		On:    hotkey.Down,
		Grab:  true,
	})

	h.key(leftCtrl, 1)
	h.key(keyA, 1)
	h.key(keyA, 0)
	h.key(leftCtrl, 0)

	if *h.fired != 1 {
		t.Fatalf("fired = %d, want 1", *h.fired)
	}
	// The modifier passes through; the chord key never appears.
	want := []string{"key 29 1", "key 30 0", "key 29 0"}
	if len(h.sink.events) != len(want) {
		t.Fatalf("events = %v, want %v", h.sink.events, want)
	}
	for i := range want {
		if h.sink.events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, h.sink.events[i], want[i])
		}
	}
}

func TestNonMatchingKeyPassesThrough(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyA, Mods: hotkey.ModCtrl},
		On:    hotkey.Down,
		Grab:  true,
	})

	h.key(keyB, 1)
	h.key(keyB, 0)

	if *h.fired != 0 {
		t.Fatalf("fired = %d, want 0", *h.fired)
	}
	if len(h.sink.events) != 2 {
		t.Fatalf("events = %v, want press and release", h.sink.events)
	}
}

func TestNonGrabMatchDispatchesAndEmits(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyA},
		On:    hotkey.Down,
	})

	h.key(keyA, 1)

	if *h.fired != 1 {
		t.Fatalf("fired = %d, want 1", *h.fired)
	}
	if len(h.sink.events) != 1 || h.sink.events[0] != "key 30 1" {
		t.Fatalf("events = %v, want the press emitted", h.sink.events)
	}
}

func TestDuplicateDownSwallowed(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyB},
		On:    hotkey.Down,
	})

	h.key(keyA, 1)
	h.key(keyA, 1) // out-of-order duplicate, must not reach the sink
	h.key(keyA, 0)
	h.key(keyA, 0)

	want := []string{"key 30 1", "key 30 0"}
	if len(h.sink.events) != len(want) {
		t.Fatalf("events = %v, want %v", h.sink.events, want)
	}
}

func TestMonitorModeNeverEmits(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyA},
		On:    hotkey.Down,
		Grab:  true,
	})
	h.cap.grabbed.Store(false)

	h.key(keyA, 1)
	h.key(keyB, 1)
	h.cap.handle(&evdev.InputEvent{Type: evdev.EV_REL, Code: evdev.REL_X, Value: 3})

	// Hotkeys still fire in monitor mode, but the kernel already
	// delivered the originals, so nothing may be re-emitted.
	if *h.fired != 1 {
		t.Fatalf("fired = %d, want 1", *h.fired)
	}
	if len(h.sink.events) != 0 {
		t.Fatalf("events = %v, want none", h.sink.events)
	}
}

func TestRepeatOfGrabbedChordSuppressed(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyA, Mods: hotkey.ModCtrl},
		On:    hotkey.Down,
		Grab:  true,
	})

	h.key(leftCtrl, 1)
	h.key(keyA, 1)
	h.key(keyA, 2)
	h.key(keyA, 2)

	if *h.fired != 1 {
		t.Fatalf("fired = %d, want 1 (repeats must not re-dispatch)", *h.fired)
	}
	for _, e := range h.sink.events {
		if e == "key 30 2" {
			t.Fatal("repeat of a grabbed chord leaked to the sink")
		}
	}
}

func TestRepeatPassesThroughOtherwise(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyB},
		On:    hotkey.Down,
		Grab:  true,
	})

	h.key(keyA, 1)
	h.key(keyA, 2)

	want := []string{"key 30 1", "key 30 2"}
	if len(h.sink.events) != len(want) || h.sink.events[1] != want[1] {
		t.Fatalf("events = %v, want %v", h.sink.events, want)
	}
}

func TestRemapAppliesBeforeMatching(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyEsc},
		On:    hotkey.Down,
		Grab:  true,
	})
	h.cap.cfg.Remap = Remap{58: keyEsc} // Caps Lock acts as Escape

	h.key(58, 1)
	h.key(keyA, 1)

	if *h.fired != 1 {
		t.Fatalf("fired = %d, want 1 (remapped code should match)", *h.fired)
	}
	// The remapped press is grabbed; the unrelated key emits unchanged.
	if len(h.sink.events) != 1 || h.sink.events[0] != "key 30 1" {
		t.Fatalf("events = %v, want only the unrelated press", h.sink.events)
	}
}

func TestEmergencyChordRunsHandler(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyB},
		On:    hotkey.Down,
	})
	released := make(chan struct{})
	h.cap.cfg.EmergencyKey = keyEsc
	h.cap.cfg.OnEmergency = func() { close(released) }

	h.key(leftCtrl, 1)
	h.key(keyEsc, 1)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("emergency handler never ran")
	}
	// The triggering press must not leak downstream.
	for _, e := range h.sink.events {
		if e == "key 1 1" {
			t.Fatal("emergency chord press leaked to the sink")
		}
	}
}

func TestSyncRecordsDropped(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Key: keyB},
		On:    hotkey.Down,
	})

	h.cap.handle(&evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT})

	if len(h.sink.events) != 0 {
		t.Fatalf("events = %v, want sync records dropped", h.sink.events)
	}
}

func TestWheelChordSuppressedWhenGrabbed(t *testing.T) {
	h := newRawHarness(t, hotkey.Descriptor{
		Chord: hotkey.Chord{Mods: hotkey.ModCtrl, Wheel: 1},
		On:    hotkey.Down,
		Grab:  true,
	})

	h.key(leftCtrl, 1)
	h.cap.handle(&evdev.InputEvent{Type: evdev.EV_REL, Code: evdev.REL_WHEEL, Value: 1})
	h.cap.handle(&evdev.InputEvent{Type: evdev.EV_REL, Code: evdev.REL_WHEEL, Value: -1})

	if *h.fired != 1 {
		t.Fatalf("fired = %d, want 1 (only the upward tick matches)", *h.fired)
	}
	want := []string{"key 29 1", "rel 8 -1"}
	if len(h.sink.events) != len(want) || h.sink.events[1] != want[1] {
		t.Fatalf("events = %v, want %v", h.sink.events, want)
	}
}
