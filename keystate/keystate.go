// Package keystate tracks which key codes are physically held. It is the
// sole authority on whether a press or release is legal, guarding against
// stuck keys where the virtual device would desynchronize from reality.
package keystate

import (
	"sort"
	"sync"

	"keygrip/hotkey"
)

// Tracker is a guarded set of currently held key codes. Presence is the
// only state: a code is never inserted twice without an intervening
// removal.
type Tracker struct {
	mu   sync.Mutex
	held map[uint16]struct{}
}

func New() *Tracker {
	return &Tracker{held: make(map[uint16]struct{})}
}

// TryPress marks code as held. Returns false without side effects if the
// code is already held (duplicate down).
func (t *Tracker) TryPress(code uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[code]; ok {
		return false
	}
	t.held[code] = struct{}{}
	return true
}

// TryRelease clears code. Returns false without side effects if the code
// is not held (duplicate up).
func (t *Tracker) TryRelease(code uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[code]; !ok {
		return false
	}
	delete(t.held, code)
	return true
}

// Held reports whether code is currently down.
func (t *Tracker) Held(code uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[code]
	return ok
}

// Modifiers returns the live modifier snapshot derived from the held set,
// tracking left/right code pairs.
func (t *Tracker) Modifiers() hotkey.Mod {
	t.mu.Lock()
	defer t.mu.Unlock()
	var m hotkey.Mod
	for code := range t.held {
		if bit, ok := hotkey.ModifierBit(code); ok {
			m |= bit
		}
	}
	return m
}

// EmergencyReleaseAll atomically drains the held set and returns the
// drained codes (ascending) so the caller can synthesize release records.
// It bypasses the normal release check.
func (t *Tracker) EmergencyReleaseAll() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	codes := make([]uint16, 0, len(t.held))
	for code := range t.held {
		codes = append(codes, code)
	}
	t.held = make(map[uint16]struct{})
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
