// Package hotkey holds the descriptor table and matching core shared by
// both capture backends.
package hotkey

import "errors"

var (
	ErrInvalidChord    = errors.New("invalid chord")
	ErrBackendConflict = errors.New("chord already bound to another backend")
	ErrUnknownID       = errors.New("unknown hotkey id")
)

// Mod is the canonical modifier bitmask. Lock-key state (Caps/Num) is
// never part of a Mod; incoming masks are cleaned before comparison.
type Mod uint8

const (
	ModCtrl Mod = 1 << iota
	ModShift
	ModAlt
	ModMeta
)

func (m Mod) String() string {
	s := ""
	if m&ModCtrl != 0 {
		s += "ctrl+"
	}
	if m&ModShift != 0 {
		s += "shift+"
	}
	if m&ModAlt != 0 {
		s += "alt+"
	}
	if m&ModMeta != 0 {
		s += "meta+"
	}
	if s == "" {
		return "none"
	}
	return s[:len(s)-1]
}

// EventType selects which edge of a key event a descriptor fires on.
type EventType uint8

const (
	Down EventType = iota
	Up
	Both
)

// Matches reports whether the event type fires for the given edge.
func (t EventType) Matches(pressed bool) bool {
	switch t {
	case Down:
		return pressed
	case Up:
		return !pressed
	default:
		return true
	}
}

// Backend names the capture path that owns a descriptor. A chord is bound
// to exactly one backend at registration time so a physical key is never
// raced by both.
type Backend uint8

const (
	RawDevice Backend = iota
	Protocol
)

func (b Backend) String() string {
	if b == Protocol {
		return "protocol"
	}
	return "rawdevice"
}

// ID is a process-unique hotkey identifier.
type ID uint64

// Callback is an opaque zero-argument closure owned by the caller.
type Callback func()

// Chord identifies a hotkey trigger: a base key or button code under a
// modifier mask, or a wheel direction.
type Chord struct {
	Key    uint16 // evdev key or button code
	Mods   Mod
	Button bool // Key is a pointer button, not a keyboard key
	Wheel  int8 // wheel direction: +1 up, -1 down, 0 none
}

func (c Chord) valid() bool {
	if c.Wheel != 0 {
		return c.Key == 0 && !c.Button
	}
	return c.Key != 0
}

func (c Chord) equal(o Chord) bool {
	return c.Key == o.Key && c.Mods == o.Mods && c.Button == o.Button && c.Wheel == o.Wheel
}

func (c Chord) String() string {
	if c.Wheel > 0 {
		return c.Mods.String() + "/wheel-up"
	}
	if c.Wheel < 0 {
		return c.Mods.String() + "/wheel-down"
	}
	kind := "key"
	if c.Button {
		kind = "btn"
	}
	return c.Mods.String() + "/" + kind + itoa(c.Key)
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Descriptor is the registered record describing one hotkey. Descriptors
// are owned by the Registry; callers hold only the ID.
type Descriptor struct {
	ID            ID
	Chord         Chord
	Sequence      []Chord // multi-stage combo; when set, Chord is Sequence[0]
	Backend       Backend
	On            EventType
	Grab          bool // matching suppresses pass-through
	SuspendExempt bool
	Enabled       bool
	Callback      Callback
}

// Modifier key codes (Linux evdev).
const (
	codeLeftCtrl   = 29
	codeLeftShift  = 42
	codeLeftAlt    = 56
	codeRightCtrl  = 97
	codeRightShift = 54
	codeRightAlt   = 100
	codeLeftMeta   = 125
	codeRightMeta  = 126
)

// ModifierBit maps a physical modifier key code to its canonical mask bit.
func ModifierBit(code uint16) (Mod, bool) {
	switch code {
	case codeLeftCtrl, codeRightCtrl:
		return ModCtrl, true
	case codeLeftShift, codeRightShift:
		return ModShift, true
	case codeLeftAlt, codeRightAlt:
		return ModAlt, true
	case codeLeftMeta, codeRightMeta:
		return ModMeta, true
	}
	return 0, false
}

// IsModifierKey reports whether code is a plain modifier key. A modifier
// press on its own never matches a chord unless a descriptor explicitly
// targets that bare modifier.
func IsModifierKey(code uint16) bool {
	_, ok := ModifierBit(code)
	return ok
}
