// Package device enumerates input sources and classifies them as
// keyboard-like or pointer-like. Enumeration is read-only; callers treat
// an empty result as "no raw capture available", never as fatal.
package device

import "strings"

// Capability tags what a device can produce.
type Capability uint8

const (
	CapKeyboard Capability = 1 << iota
	CapPointer
)

func (c Capability) String() string {
	switch {
	case c&CapKeyboard != 0 && c&CapPointer != 0:
		return "keyboard+pointer"
	case c&CapKeyboard != 0:
		return "keyboard"
	case c&CapPointer != 0:
		return "pointer"
	}
	return "none"
}

// Descriptor describes one enumerated input device.
type Descriptor struct {
	Path string
	Name string
	Caps Capability
}

// Devices matching these name fragments are never suitable for capture:
// consoles, buttons, and assorted platform pseudo-devices.
var excludeNames = []string{
	"virtual console",
	"system console",
	"console mouse",
	"speakup",
	"pc speaker",
	"hdmi",
	"video bus",
	"power button",
	"sleep button",
	"lid switch",
}

func excluded(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range excludeNames {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// IsKeyboard is a capability filter for SelectBestMatch.
func IsKeyboard(d Descriptor) bool { return d.Caps&CapKeyboard != 0 }

// IsPointer is a capability filter for SelectBestMatch.
func IsPointer(d Descriptor) bool { return d.Caps&CapPointer != 0 }

// SelectBestMatch returns the path of the first device whose name contains
// one of the patterns, tried in preference order, and that passes the
// capability filter. A nil filter accepts everything.
func SelectBestMatch(devs []Descriptor, patterns []string, filter func(Descriptor) bool) (string, bool) {
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		for _, d := range devs {
			if !strings.Contains(strings.ToLower(d.Name), p) {
				continue
			}
			if filter != nil && !filter(d) {
				continue
			}
			return d.Path, true
		}
	}
	return "", false
}

// Filter returns the devices passing the capability filter, preserving
// enumeration order.
func Filter(devs []Descriptor, filter func(Descriptor) bool) []Descriptor {
	var out []Descriptor
	for _, d := range devs {
		if filter == nil || filter(d) {
			out = append(out, d)
		}
	}
	return out
}
