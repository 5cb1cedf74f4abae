//go:build linux

package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"keygrip/capture"
	"keygrip/config"
	"keygrip/device"
	"keygrip/hotkey"
	"keygrip/keystate"
	"keygrip/log"
)

// ErrNoBackend: neither raw devices nor a display connection could be
// opened; the engine has nothing to capture from.
var ErrNoBackend = errors.New("no capture backend available")

// RegisterOptions describes one hotkey registration.
type RegisterOptions struct {
	Chord         hotkey.Chord
	Sequence      []hotkey.Chord
	Backend       hotkey.Backend
	On            hotkey.EventType
	Grab          bool
	SuspendExempt bool
	Disabled      bool
	Callback      func()
}

// keyReleaser is the slice of the emitter the emergency path needs.
type keyReleaser interface {
	ReleaseKeys(codes []uint16) error
}

// Engine owns the full capture pipeline: registry, matcher, dispatcher,
// condition evaluator, the virtual emitter, one raw capture per physical
// device and the protocol backend.
type Engine struct {
	cfg *config.Config

	reg        *hotkey.Registry
	matcher    *hotkey.Matcher
	dispatcher *hotkey.Dispatcher
	evaluator  *hotkey.Evaluator
	tracker    *keystate.Tracker

	emitter  *capture.VirtualEmitter
	releaser keyReleaser

	mu   sync.Mutex
	raws map[string]*capture.RawCapture // keyed by device path
	x11  *capture.X11Capture

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewEngine(cfg *config.Config) *Engine {
	reg := hotkey.NewRegistry()
	dispatcher := hotkey.NewDispatcher()
	e := &Engine{
		cfg:        cfg,
		reg:        reg,
		matcher:    hotkey.NewMatcher(reg, cfg.ComboWindow()),
		dispatcher: dispatcher,
		evaluator:  hotkey.NewEvaluator(reg, dispatcher),
		tracker:    keystate.New(),
		raws:       make(map[string]*capture.RawCapture),
	}
	// Condition predicates that depend on hotkey side effects converge
	// immediately instead of waiting for the next tick.
	dispatcher.SetAfterDispatch(e.evaluator.Evaluate)
	reg.SetActivationHook(e.activationHook)
	return e
}

// activationHook translates registry enablement into backend syscalls.
// Raw descriptors need none: the devices are already captured.
func (e *Engine) activationHook(d hotkey.Descriptor, active bool) error {
	if d.Backend != hotkey.Protocol {
		return nil
	}
	e.mu.Lock()
	x11 := e.x11
	e.mu.Unlock()
	if x11 == nil {
		return capture.ErrNoDisplay
	}
	if active {
		return x11.Grab(d)
	}
	x11.Ungrab(d)
	return nil
}

// Start brings up both backends. Either may be unavailable; only both
// missing is an error.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	rawUp := e.startRaw()
	protoUp := e.startProtocol()
	if !rawUp && !protoUp {
		cancel()
		return ErrNoBackend
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.evaluator.Run(ctx, e.cfg.ConditionTick())
	}()

	if e.cfg.Devices.Hotplug {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.rescanLoop(ctx)
		}()
	}
	return nil
}

// startRaw creates the virtual device pair and opens every selected
// physical device. Without uinput the raw backend stays down: grabbing
// devices with no way to re-emit would swallow all input.
func (e *Engine) startRaw() bool {
	emitter, err := capture.NewVirtualEmitter()
	if err != nil {
		log.Errorf("virtual devices unavailable, raw capture disabled: %v", err)
		return false
	}
	e.emitter = emitter
	e.releaser = emitter

	devs, err := device.ListDevices()
	if err != nil {
		log.Errorf("device enumeration: %v", err)
		return false
	}
	opened := 0
	for _, d := range e.captureSet(devs) {
		if e.openRaw(d) {
			opened++
		}
	}
	if opened == 0 {
		log.Warn("no raw devices captured")
	}
	return opened > 0
}

// captureSet selects which enumerated devices to capture. Configured name
// patterns narrow each class to the single best match; otherwise every
// device of the class is taken.
func (e *Engine) captureSet(devs []device.Descriptor) []device.Descriptor {
	var out []device.Descriptor
	pick := func(patterns []string, filter func(device.Descriptor) bool) {
		if len(patterns) == 0 {
			out = append(out, device.Filter(devs, filter)...)
			return
		}
		if path, ok := device.SelectBestMatch(devs, patterns, filter); ok {
			for _, d := range devs {
				if d.Path == path {
					out = append(out, d)
					return
				}
			}
		}
	}
	pick(e.cfg.Devices.KeyboardPatterns, device.IsKeyboard)
	pick(e.cfg.Devices.PointerPatterns, device.IsPointer)

	// A combo device may satisfy both classes; capture it once.
	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, d := range out {
		if !seen[d.Path] {
			seen[d.Path] = true
			uniq = append(uniq, d)
		}
	}
	return uniq
}

func (e *Engine) openRaw(d device.Descriptor) bool {
	raw, err := capture.OpenRaw(capture.RawConfig{
		Path:         d.Path,
		Pointer:      d.Caps&device.CapPointer != 0 && d.Caps&device.CapKeyboard == 0,
		Remap:        e.cfg.RemapTable(),
		Tracker:      e.tracker,
		Matcher:      e.matcher,
		Dispatcher:   e.dispatcher,
		Emitter:      e.emitter,
		EmergencyKey: uint16(e.cfg.Engine.EmergencyKey),
		OnEmergency:  e.emergencyStop,
	})
	if err != nil {
		log.Warnf("opening %s: %v", d.Path, err)
		return false
	}
	log.DeviceAdded(d.Name, d.Path, d.Caps.String(), raw.Grabbed())

	e.mu.Lock()
	e.raws[d.Path] = raw
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		raw.Run()
	}()
	return true
}

func (e *Engine) startProtocol() bool {
	x11, err := capture.OpenX11(e.matcher, e.dispatcher)
	if err != nil {
		log.Warnf("protocol backend unavailable: %v", err)
		return false
	}
	e.mu.Lock()
	e.x11 = x11
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		x11.Run()
	}()
	return true
}

// rescanLoop re-enumerates devices periodically, opening newcomers and
// dropping paths that disappeared.
func (e *Engine) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RescanInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.rescan()
		}
	}
}

func (e *Engine) rescan() {
	devs, err := device.ListDevices()
	if err != nil {
		log.Warnf("rescan: %v", err)
		return
	}
	want := make(map[string]device.Descriptor)
	for _, d := range e.captureSet(devs) {
		want[d.Path] = d
	}

	e.mu.Lock()
	var stale []*capture.RawCapture
	for path, raw := range e.raws {
		if _, ok := want[path]; !ok {
			stale = append(stale, raw)
			delete(e.raws, path)
			log.DeviceRemoved(path)
		}
	}
	existing := make(map[string]bool, len(e.raws))
	for path := range e.raws {
		existing[path] = true
	}
	e.mu.Unlock()

	for _, raw := range stale {
		raw.Close()
	}
	for path, d := range want {
		if !existing[path] {
			e.openRaw(d)
		}
	}
}

// Register adds a hotkey and returns its id. The returned id stays valid
// until Unregister even if activation partially failed on the protocol
// backend; FailedRegistrations reports those. The registry logs every
// attempt.
//
// Enabled Protocol descriptors need the protocol backend, so they must
// be registered after Start (or registered Disabled and enabled later);
// before that the activation grab fails with ErrNoDisplay.
func (e *Engine) Register(opts RegisterOptions) (hotkey.ID, error) {
	return e.reg.Register(hotkey.Descriptor{
		Chord:         opts.Chord,
		Sequence:      opts.Sequence,
		Backend:       opts.Backend,
		On:            opts.On,
		Grab:          opts.Grab,
		SuspendExempt: opts.SuspendExempt,
		Enabled:       !opts.Disabled,
		Callback:      opts.Callback,
	})
}

func (e *Engine) Unregister(id hotkey.ID) error { return e.reg.Unregister(id) }

func (e *Engine) SetEnabled(id hotkey.ID, v bool) error { return e.reg.SetEnabled(id, v) }

func (e *Engine) SuspendAll() { e.reg.SuspendAll() }

func (e *Engine) ResumeAll() { e.reg.ResumeAll() }

func (e *Engine) FailedRegistrations() []hotkey.FailedRegistration {
	return e.reg.Failed()
}

// BindCondition attaches a predicate-gated descriptor group and evaluates
// it once immediately.
func (e *Engine) BindCondition(b *hotkey.Binding) {
	e.evaluator.Bind(b)
	e.evaluator.Evaluate()
}

// EmergencyReleaseAll drains the held-key set and synthesizes a release
// for every drained code so no key stays logically stuck downstream.
// Returns the drained codes in ascending order.
func (e *Engine) EmergencyReleaseAll() []uint16 {
	codes := e.tracker.EmergencyReleaseAll()
	if len(codes) == 0 {
		return nil
	}
	if e.releaser != nil {
		if err := e.releaser.ReleaseKeys(codes); err != nil {
			log.Errorf("emergency release: %v", err)
		}
	}
	log.EmergencyRelease(len(codes))
	return codes
}

// emergencyStop is the panic-chord handler: release stuck keys, then drop
// every raw grab so the physical devices answer again no matter what
// state a callback left the engine in.
func (e *Engine) emergencyStop() {
	e.EmergencyReleaseAll()

	e.mu.Lock()
	raws := make([]*capture.RawCapture, 0, len(e.raws))
	for _, raw := range e.raws {
		raws = append(raws, raw)
	}
	e.mu.Unlock()

	released := 0
	for _, raw := range raws {
		if raw.Release() {
			released++
		}
	}
	if released > 0 {
		log.Warnf("emergency: dropped %d device grab(s)", released)
	}
}

// Stop tears the pipeline down in dependency order: captures first so no
// new events arrive, then the emitter.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}

		e.mu.Lock()
		raws := make([]*capture.RawCapture, 0, len(e.raws))
		for _, raw := range e.raws {
			raws = append(raws, raw)
		}
		e.raws = make(map[string]*capture.RawCapture)
		x11 := e.x11
		e.x11 = nil
		e.mu.Unlock()

		for _, raw := range raws {
			raw.Close()
		}
		if x11 != nil {
			x11.Close()
		}
		e.wg.Wait()
		if e.emitter != nil {
			e.emitter.Close()
		}
	})
}
