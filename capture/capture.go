// Package capture implements the two event-interception backends (raw
// evdev devices and X11 protocol grabs) plus the virtual device pair
// used to re-emit anything not consumed by a blocking hotkey.
package capture

import "errors"

var (
	// ErrGrabDenied: an exclusive or protocol grab failed. Non-fatal;
	// raw capture degrades to monitor mode, protocol descriptors land in
	// the failed-registrations list.
	ErrGrabDenied = errors.New("grab denied")

	// ErrNoDisplay: no X display reachable; protocol backend unavailable.
	ErrNoDisplay = errors.New("no display")
)

// Remap is an explicit key-to-key substitution table consulted before
// matching, redirecting a physical code to a different logical code prior
// to emission.
type Remap map[uint16]uint16

// Apply resolves one code through the table.
func (r Remap) Apply(code uint16) uint16 {
	if r == nil {
		return code
	}
	if to, ok := r[code]; ok {
		return to
	}
	return code
}
