//go:build linux

package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgbutil"

	"keygrip/hotkey"
	"keygrip/log"
)

// X keycodes are evdev codes shifted by the legacy minimum-keycode offset.
const keycodeOffset = 8

// grabRequester issues the individual protocol requests; narrow so tests
// can substitute a recorder for the X server.
type grabRequester interface {
	grabKey(code xproto.Keycode, mods uint16) error
	ungrabKey(code xproto.Keycode, mods uint16)
	grabButton(button xproto.Button, mods uint16) error
	ungrabButton(button xproto.Button, mods uint16)
}

type xRequester struct {
	conn *xgb.Conn
	root xproto.Window
}

func (r xRequester) grabKey(code xproto.Keycode, mods uint16) error {
	return xproto.GrabKeyChecked(
		r.conn, false, r.root, mods, code,
		xproto.GrabModeAsync, xproto.GrabModeAsync,
	).Check()
}

func (r xRequester) ungrabKey(code xproto.Keycode, mods uint16) {
	xproto.UngrabKey(r.conn, code, r.root, mods)
}

func (r xRequester) grabButton(button xproto.Button, mods uint16) error {
	return xproto.GrabButtonChecked(
		r.conn, false, r.root,
		uint16(xproto.EventMaskButtonPress|xproto.EventMaskButtonRelease),
		xproto.GrabModeAsync, xproto.GrabModeAsync,
		xproto.WindowNone, xproto.CursorNone,
		byte(button), mods,
	).Check()
}

func (r xRequester) ungrabButton(button xproto.Button, mods uint16) {
	xproto.UngrabButton(r.conn, byte(button), r.root, mods)
}

// X11Capture is the protocol-grab backend: instead of owning whole
// devices it grabs individual (key, modifier) pairs through the X server,
// receiving only the grabbed combinations on its event pump. Grabbed
// events never reach other clients, so suppression is implicit.
type X11Capture struct {
	xu  *xgbutil.XUtil
	req grabRequester

	matcher    *hotkey.Matcher
	dispatcher *hotkey.Dispatcher

	mu    sync.Mutex
	grabs map[grabRef]int // refcount, shared chords release only at zero

	running atomic.Bool
	done    chan struct{}
}

// grabRef identifies one issued grab: a keycode or button under one
// concrete (lock-variant) modifier mask.
type grabRef struct {
	code   xproto.Keycode
	button xproto.Button
	mods   uint16
}

func OpenX11(matcher *hotkey.Matcher, dispatcher *hotkey.Dispatcher) (*X11Capture, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connecting to display: %w", ErrNoDisplay)
	}
	x := &X11Capture{
		xu:         xu,
		req:        xRequester{conn: xu.Conn(), root: xu.RootWin()},
		matcher:    matcher,
		dispatcher: dispatcher,
		grabs:      make(map[grabRef]int),
		done:       make(chan struct{}),
	}
	x.running.Store(true)
	return x, nil
}

func modsToXMask(m hotkey.Mod) uint16 {
	var mask uint16
	if m&hotkey.ModCtrl != 0 {
		mask |= xproto.ModMaskControl
	}
	if m&hotkey.ModShift != 0 {
		mask |= xproto.ModMaskShift
	}
	if m&hotkey.ModAlt != 0 {
		mask |= xproto.ModMask1
	}
	if m&hotkey.ModMeta != 0 {
		mask |= xproto.ModMask4
	}
	return mask
}

// maskToMods cleans an event state mask against the lock bits and maps it
// back to the canonical form.
func maskToMods(state uint16) hotkey.Mod {
	var m hotkey.Mod
	if state&xproto.ModMaskControl != 0 {
		m |= hotkey.ModCtrl
	}
	if state&xproto.ModMaskShift != 0 {
		m |= hotkey.ModShift
	}
	if state&xproto.ModMask1 != 0 {
		m |= hotkey.ModAlt
	}
	if state&xproto.ModMask4 != 0 {
		m |= hotkey.ModMeta
	}
	return m
}

// variantMasks expands a base mask across the lock-key states: plain,
// Caps Lock, Num Lock (Mod2), and both. A chord must be grabbed under all
// four to fire regardless of lock state.
func variantMasks(base uint16) [4]uint16 {
	return [4]uint16{
		base,
		base | xproto.ModMaskLock,
		base | xproto.ModMask2,
		base | xproto.ModMaskLock | xproto.ModMask2,
	}
}

func chordButton(c hotkey.Chord) (xproto.Button, bool) {
	if c.Wheel > 0 {
		return 4, true
	}
	if c.Wheel < 0 {
		return 5, true
	}
	if !c.Button {
		return 0, false
	}
	switch c.Key {
	case 0x110: // BTN_LEFT
		return 1, true
	case 0x111: // BTN_RIGHT
		return 3, true
	case 0x112: // BTN_MIDDLE
		return 2, true
	}
	return 0, false
}

// Grab issues grab requests for every lock variant of the descriptor's
// chord. Individual variant failures are tolerated: the chord still fires
// under the successfully grabbed states. Only a fully denied chord errors.
func (x *X11Capture) Grab(d hotkey.Descriptor) error {
	base := modsToXMask(d.Chord.Mods)
	button, isButton := chordButton(d.Chord)
	var code xproto.Keycode
	if !isButton {
		code = xproto.Keycode(d.Chord.Key + keycodeOffset)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	granted := 0
	for _, mask := range variantMasks(base) {
		ref := grabRef{code: code, button: button, mods: mask}
		if n := x.grabs[ref]; n > 0 {
			x.grabs[ref] = n + 1
			granted++
			continue
		}
		var err error
		if isButton {
			err = x.req.grabButton(button, mask)
		} else {
			err = x.req.grabKey(code, mask)
		}
		if err != nil {
			log.GrabDenied(fmt.Sprintf("%s mask %#x", d.Chord, mask), err)
			continue
		}
		x.grabs[ref] = 1
		granted++
	}

	if granted == 0 {
		return fmt.Errorf("grabbing %s: %w", d.Chord, ErrGrabDenied)
	}
	return nil
}

// Ungrab is symmetric to Grab but releases a variant only when no other
// enabled descriptor still holds a reference to the same pair.
func (x *X11Capture) Ungrab(d hotkey.Descriptor) {
	base := modsToXMask(d.Chord.Mods)
	button, isButton := chordButton(d.Chord)
	var code xproto.Keycode
	if !isButton {
		code = xproto.Keycode(d.Chord.Key + keycodeOffset)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, mask := range variantMasks(base) {
		ref := grabRef{code: code, button: button, mods: mask}
		n, ok := x.grabs[ref]
		if !ok {
			continue
		}
		if n > 1 {
			x.grabs[ref] = n - 1
			continue
		}
		delete(x.grabs, ref)
		if isButton {
			x.req.ungrabButton(button, mask)
		} else {
			x.req.ungrabKey(code, mask)
		}
	}
}

// Run pumps grabbed events until Close. A protocol error on one event is
// recovered locally; only connection loss ends the loop.
func (x *X11Capture) Run() {
	defer close(x.done)
	for x.running.Load() {
		ev, xerr := x.xu.Conn().WaitForEvent()
		if xerr != nil {
			log.Warnf("x11 event: %v", xerr)
			continue
		}
		if ev == nil {
			// Connection closed: clean exit.
			return
		}
		switch e := ev.(type) {
		case xproto.KeyPressEvent:
			x.handleKey(e.Detail, e.State, true)
		case xproto.KeyReleaseEvent:
			x.handleKey(e.Detail, e.State, false)
		case xproto.ButtonPressEvent:
			x.handleButton(e.Detail, e.State, true)
		case xproto.ButtonReleaseEvent:
			x.handleButton(e.Detail, e.State, false)
		}
	}
}

func (x *X11Capture) handleKey(detail xproto.Keycode, state uint16, pressed bool) {
	if uint16(detail) < keycodeOffset {
		return
	}
	code := uint16(detail) - keycodeOffset
	mods := maskToMods(state)
	if hotkey.IsModifierKey(code) {
		// Strip the key's own bit: on release X reports it still set.
		if bit, ok := hotkey.ModifierBit(code); ok {
			mods &^= bit
		}
	}
	if d, ok := x.matcher.Match(code, pressed, mods, hotkey.Protocol); ok {
		x.dispatcher.Dispatch(d)
	}
}

func (x *X11Capture) handleButton(detail xproto.Button, state uint16, pressed bool) {
	mods := maskToMods(state)
	switch detail {
	case 4, 5:
		if !pressed {
			return
		}
		direction := int8(1)
		if detail == 5 {
			direction = -1
		}
		if d, ok := x.matcher.MatchWheel(direction, mods, hotkey.Protocol); ok {
			x.dispatcher.Dispatch(d)
		}
	case 1, 2, 3:
		code := map[xproto.Button]uint16{1: 0x110, 2: 0x112, 3: 0x111}[detail]
		if d, ok := x.matcher.Match(code, pressed, mods, hotkey.Protocol); ok {
			x.dispatcher.Dispatch(d)
		}
	}
}

// Close stops the pump and releases every outstanding grab. Closing the
// connection unblocks the pending wait.
func (x *X11Capture) Close() {
	if !x.running.CompareAndSwap(true, false) {
		return
	}
	x.mu.Lock()
	for ref := range x.grabs {
		if ref.button != 0 {
			x.req.ungrabButton(ref.button, ref.mods)
		} else {
			x.req.ungrabKey(ref.code, ref.mods)
		}
	}
	x.grabs = make(map[grabRef]int)
	x.mu.Unlock()
	x.xu.Conn().Close()
	<-x.done
}
