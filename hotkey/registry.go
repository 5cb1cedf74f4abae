package hotkey

import (
	"fmt"
	"sync"

	"keygrip/log"
)

// FailedRegistration records a registration attempt that could not be
// completed, typically because a grab was denied. Kept queryable so
// callers never see a silent partial success.
type FailedRegistration struct {
	Chord   Chord
	Backend Backend
	Err     error
}

// ActivationHook is invoked whenever a descriptor becomes active or
// inactive. The protocol backend uses it to issue grab/ungrab requests.
// It is only called on actual state changes.
type ActivationHook func(d Descriptor, active bool) error

// Registry is the authoritative table of hotkey descriptors. All mutation
// is serialized under one lock; matching works on snapshots so the lock is
// never held across callback dispatch.
type Registry struct {
	mu        sync.RWMutex
	order     []ID
	byID      map[ID]*Descriptor
	next      ID
	suspended bool
	failed    []FailedRegistration
	hook      ActivationHook
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[ID]*Descriptor)}
}

// SetActivationHook installs the grab/ungrab hook. Must be called before
// any registrations.
func (r *Registry) SetActivationHook(h ActivationHook) {
	r.mu.Lock()
	r.hook = h
	r.mu.Unlock()
}

// Register validates the descriptor, assigns a process-unique ID and, when
// the descriptor is enabled, activates it through the hook. A hook failure
// removes the descriptor again and records it in the failed list, so every
// attempt yields an explicit success or failure.
func (r *Registry) Register(d Descriptor) (ID, error) {
	if err := validate(&d); err != nil {
		return 0, err
	}

	r.mu.Lock()
	for _, id := range r.order {
		other := r.byID[id]
		if other.Chord.equal(d.Chord) && other.Backend != d.Backend {
			r.mu.Unlock()
			return 0, fmt.Errorf("chord %s: %w", d.Chord, ErrBackendConflict)
		}
		if other.Chord.equal(d.Chord) && other.Backend == d.Backend {
			// Legal for mutually exclusive condition bindings; resolved
			// first-registered-wins otherwise.
			log.Warnf("duplicate chord %s registered (ids %d, pending)", d.Chord, other.ID)
		}
	}
	r.next++
	d.ID = r.next
	stored := d
	r.byID[d.ID] = &stored
	r.order = append(r.order, d.ID)
	hook := r.hook
	r.mu.Unlock()

	if d.Enabled && hook != nil {
		if err := hook(d, true); err != nil {
			// The lock was released across the hook, so other
			// registrations may have appended since; splice out our own
			// entry, never the tail.
			r.mu.Lock()
			delete(r.byID, d.ID)
			for i, oid := range r.order {
				if oid == d.ID {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
			r.failed = append(r.failed, FailedRegistration{Chord: d.Chord, Backend: d.Backend, Err: err})
			r.mu.Unlock()
			log.Registration(uint64(d.ID), d.Chord.String(), d.Backend.String(), err)
			return 0, fmt.Errorf("activating %s: %w", d.Chord, err)
		}
	}
	log.Registration(uint64(d.ID), d.Chord.String(), d.Backend.String(), nil)
	return d.ID, nil
}

func validate(d *Descriptor) error {
	if len(d.Sequence) > 0 {
		if len(d.Sequence) < 2 {
			return fmt.Errorf("combo needs at least two stages: %w", ErrInvalidChord)
		}
		for _, c := range d.Sequence {
			if !c.valid() || c.Wheel != 0 {
				return fmt.Errorf("combo stage %s: %w", c, ErrInvalidChord)
			}
		}
		d.Chord = d.Sequence[0]
		if d.Backend == Protocol {
			// Combos need the full key stream, which only the raw backend sees.
			return fmt.Errorf("combo on protocol backend: %w", ErrInvalidChord)
		}
		return nil
	}
	if !d.Chord.valid() {
		return fmt.Errorf("chord %s: %w", d.Chord, ErrInvalidChord)
	}
	if d.Chord.Button && d.Backend == Protocol {
		// The protocol backend can only grab the three classic buttons.
		switch d.Chord.Key {
		case 0x110, 0x111, 0x112:
		default:
			return fmt.Errorf("chord %s: %w", d.Chord, ErrInvalidChord)
		}
	}
	return nil
}

// Unregister removes a descriptor, deactivating it first when enabled.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	d, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownID
	}
	copyD := *d
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	hook := r.hook
	suspended := r.suspended
	r.mu.Unlock()

	if copyD.Enabled && hook != nil && !(suspended && !copyD.SuspendExempt && copyD.Backend == Protocol) {
		if err := hook(copyD, false); err != nil {
			log.Warnf("deactivating %s: %v", copyD.Chord, err)
		}
	}
	return nil
}

// SetEnabled flips a descriptor's enabled state. Re-applying the current
// state is a no-op: no registry mutation, no grab/ungrab syscalls.
func (r *Registry) SetEnabled(id ID, enabled bool) error {
	r.mu.Lock()
	d, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownID
	}
	if d.Enabled == enabled {
		r.mu.Unlock()
		return nil
	}
	d.Enabled = enabled
	copyD := *d
	hook := r.hook
	suspended := r.suspended
	r.mu.Unlock()

	if hook == nil {
		return nil
	}
	if suspended && !copyD.SuspendExempt && copyD.Backend == Protocol {
		// Stays ungrabbed while suspended; ResumeAll reconciles.
		return nil
	}
	if err := hook(copyD, enabled); err != nil {
		r.mu.Lock()
		if cur, ok := r.byID[id]; ok {
			cur.Enabled = !enabled
		}
		r.failed = append(r.failed, FailedRegistration{Chord: copyD.Chord, Backend: copyD.Backend, Err: err})
		r.mu.Unlock()
		return fmt.Errorf("activating %s: %w", copyD.Chord, err)
	}
	return nil
}

// Get returns a copy of the descriptor.
func (r *Registry) Get(id ID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Find returns copies of all descriptors matching the predicate, in
// registration order.
func (r *Registry) Find(pred func(Descriptor) bool) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, id := range r.order {
		d := *r.byID[id]
		if pred == nil || pred(d) {
			out = append(out, d)
		}
	}
	return out
}

// Snapshot returns copies of all descriptors in registration order.
// Matching iterates the snapshot so the registry lock is never held while
// callbacks run.
func (r *Registry) Snapshot() []Descriptor {
	return r.Find(nil)
}

// Suspended reports whether matching is currently suspended for
// non-exempt descriptors.
func (r *Registry) Suspended() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.suspended
}

// SuspendAll masks matching for every non-exempt descriptor. Protocol
// descriptors are also ungrabbed so the desktop sees those chords again
// while suspended.
func (r *Registry) SuspendAll() {
	r.mu.Lock()
	if r.suspended {
		r.mu.Unlock()
		return
	}
	r.suspended = true
	hook := r.hook
	var toRelease []Descriptor
	for _, id := range r.order {
		d := r.byID[id]
		if d.Enabled && !d.SuspendExempt && d.Backend == Protocol {
			toRelease = append(toRelease, *d)
		}
	}
	r.mu.Unlock()

	if hook == nil {
		return
	}
	for _, d := range toRelease {
		if err := hook(d, false); err != nil {
			log.Warnf("suspend ungrab %s: %v", d.Chord, err)
		}
	}
}

// ResumeAll undoes SuspendAll, re-grabbing protocol descriptors.
func (r *Registry) ResumeAll() {
	r.mu.Lock()
	if !r.suspended {
		r.mu.Unlock()
		return
	}
	r.suspended = false
	hook := r.hook
	var toGrab []Descriptor
	for _, id := range r.order {
		d := r.byID[id]
		if d.Enabled && !d.SuspendExempt && d.Backend == Protocol {
			toGrab = append(toGrab, *d)
		}
	}
	r.mu.Unlock()

	if hook == nil {
		return
	}
	for _, d := range toGrab {
		if err := hook(d, true); err != nil {
			r.mu.Lock()
			r.failed = append(r.failed, FailedRegistration{Chord: d.Chord, Backend: d.Backend, Err: err})
			r.mu.Unlock()
			log.GrabDenied(d.Chord.String(), err)
		}
	}
}

// Failed returns the accumulated failed registrations.
func (r *Registry) Failed() []FailedRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FailedRegistration, len(r.failed))
	copy(out, r.failed)
	return out
}
