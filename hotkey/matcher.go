package hotkey

import (
	"sync"
	"time"
)

// DefaultComboWindow bounds the gap between combo stages.
const DefaultComboWindow = 500 * time.Millisecond

// Matcher finds the descriptor a raw (code, edge, modifier-mask) tuple
// fires. Iteration order is registration order and only the first
// matching, currently-active descriptor wins.
type Matcher struct {
	reg    *Registry
	window time.Duration

	mu       sync.Mutex
	progress map[ID]comboProgress

	now func() time.Time // stubbed in tests
}

type comboProgress struct {
	stage    int
	deadline time.Time
}

func NewMatcher(reg *Registry, window time.Duration) *Matcher {
	if window <= 0 {
		window = DefaultComboWindow
	}
	return &Matcher{
		reg:      reg,
		window:   window,
		progress: make(map[ID]comboProgress),
		now:      time.Now,
	}
}

func (m *Matcher) live(d Descriptor, backend Backend, suspended bool) bool {
	if !d.Enabled || d.Backend != backend {
		return false
	}
	if suspended && !d.SuspendExempt {
		return false
	}
	return true
}

// Match scans enabled descriptors for chord and event-type compatibility.
// The incoming mask must already be cleaned of lock bits. Returns the
// first match in registration order, if any.
func (m *Matcher) Match(code uint16, pressed bool, mods Mod, backend Backend) (Descriptor, bool) {
	snapshot := m.reg.Snapshot()
	suspended := m.reg.Suspended()

	for _, d := range snapshot {
		if !m.live(d, backend, suspended) {
			continue
		}
		if len(d.Sequence) > 0 {
			if pressed && m.advanceCombo(d, code, mods) {
				return d, true
			}
			continue
		}
		c := d.Chord
		if c.Wheel != 0 || c.Key != code || c.Mods != mods {
			continue
		}
		if !d.On.Matches(pressed) {
			continue
		}
		return d, true
	}
	return Descriptor{}, false
}

// MatchWheel matches scroll chords. Wheel events have no release edge, so
// Down and Both both fire.
func (m *Matcher) MatchWheel(direction int8, mods Mod, backend Backend) (Descriptor, bool) {
	snapshot := m.reg.Snapshot()
	suspended := m.reg.Suspended()

	for _, d := range snapshot {
		if !m.live(d, backend, suspended) {
			continue
		}
		c := d.Chord
		if c.Wheel == direction && c.Mods == mods && d.On != Up {
			return d, true
		}
	}
	return Descriptor{}, false
}

// advanceCombo moves a combo descriptor's sequence forward on a matching
// press. The parent fires only when the final stage completes within the
// bounded window of the previous one. A non-matching press resets
// progress, so pressing the second stage alone fires nothing.
func (m *Matcher) advanceCombo(d Descriptor, code uint16, mods Mod) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p := m.progress[d.ID]
	if p.stage > 0 && now.After(p.deadline) {
		p = comboProgress{}
	}

	stage := d.Sequence[p.stage]
	if stage.Key != code || stage.Mods != mods {
		if p.stage > 0 {
			delete(m.progress, d.ID)
			// A miss may still begin a fresh sequence.
			first := d.Sequence[0]
			if first.Key == code && first.Mods == mods {
				m.progress[d.ID] = comboProgress{stage: 1, deadline: now.Add(m.window)}
			}
		}
		return false
	}

	p.stage++
	if p.stage == len(d.Sequence) {
		delete(m.progress, d.ID)
		return true
	}
	p.deadline = now.Add(m.window)
	m.progress[d.ID] = p
	return false
}
