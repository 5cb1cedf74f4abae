package hotkey

import (
	"context"
	"time"

	"keygrip/log"
)

// Predicate is an externally supplied boolean gate. The engine has no
// knowledge of where the answer comes from (window class, game mode, ...).
type Predicate func() bool

// Binding ties a predicate to a set of descriptors it toggles, plus a
// callback per transition direction. A binding starts Inactive; the first
// evaluation observing true transitions it.
type Binding struct {
	Predicate Predicate
	WhenTrue  Callback
	WhenFalse Callback

	// Descriptors this binding enables while Active and disables while
	// Inactive.
	Descriptors []ID

	active bool
}

// Active reports the binding's last observed state.
func (b *Binding) Active() bool { return b.active }

// Evaluator drives Binding state machines. Transitions happen only on an
// observed predicate change; re-evaluating an unchanged predicate performs
// no registry mutation and issues no grab/ungrab syscalls.
type Evaluator struct {
	reg      *Registry
	dispatch *Dispatcher

	mu       chan struct{} // acts as a non-reentrant try-lock, see Evaluate
	bindings []*Binding
}

func NewEvaluator(reg *Registry, dispatch *Dispatcher) *Evaluator {
	e := &Evaluator{reg: reg, dispatch: dispatch, mu: make(chan struct{}, 1)}
	e.mu <- struct{}{}
	return e
}

// Bind adds a binding. Its descriptors are immediately forced to the
// Inactive state so "is this hotkey live" is a queryable fact from the
// start.
func (e *Evaluator) Bind(b *Binding) {
	<-e.mu
	e.bindings = append(e.bindings, b)
	for _, id := range b.Descriptors {
		if err := e.reg.SetEnabled(id, false); err != nil {
			log.Warnf("condition bind disable %d: %v", id, err)
		}
	}
	e.mu <- struct{}{}
}

// Evaluate runs one tick over all bindings. It is safe to call from the
// dispatch path: a tick already in progress simply absorbs the poke
// instead of deadlocking on re-entry.
func (e *Evaluator) Evaluate() {
	select {
	case <-e.mu:
	default:
		return
	}

	type transition struct {
		b  *Binding
		to bool
	}
	var fired []transition
	for _, b := range e.bindings {
		if b.Predicate == nil {
			continue
		}
		v := b.Predicate()
		if v == b.active {
			continue
		}
		b.active = v
		fired = append(fired, transition{b, v})
	}
	e.mu <- struct{}{}

	for _, tr := range fired {
		for _, id := range tr.b.Descriptors {
			if err := e.reg.SetEnabled(id, tr.to); err != nil {
				log.Warnf("condition toggle %d: %v", id, err)
			}
		}
		log.ConditionTransition(tr.to, len(tr.b.Descriptors))
		cb := tr.b.WhenFalse
		if tr.to {
			cb = tr.b.WhenTrue
		}
		e.dispatch.Run(0, cb)
	}
}

// Run evaluates periodically until the context is cancelled.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate()
		}
	}
}
