package hotkey

import "keygrip/log"

// Dispatcher invokes matched callbacks outside any engine lock, isolating
// panics per callback so a bad callback never kills a capture loop.
type Dispatcher struct {
	after func()
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// SetAfterDispatch installs a function poked after every Dispatch, used to
// re-evaluate condition bindings synchronously once a hotkey has fired.
func (dp *Dispatcher) SetAfterDispatch(f func()) {
	dp.after = f
}

// Dispatch runs the descriptor's callback and then the after-dispatch
// hook. Failures are logged and swallowed.
func (dp *Dispatcher) Dispatch(d Descriptor) {
	dp.Run(uint64(d.ID), d.Callback)
	if dp.after != nil {
		dp.after()
	}
}

// Run invokes a single callback with panic isolation and without poking
// the after-dispatch hook.
func (dp *Dispatcher) Run(id uint64, cb Callback) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.DispatchPanic(id, r)
		}
	}()
	cb()
}
