//go:build linux

package device

import (
	"fmt"

	evdev "github.com/holoplot/go-evdev"
)

// ListDevices enumerates /dev/input event devices and classifies each by
// its advertised capabilities. Devices that cannot be opened (permissions)
// or expose nothing useful are skipped silently.
func ListDevices() ([]Descriptor, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("listing input devices: %w", err)
	}

	var out []Descriptor
	for _, p := range paths {
		if excluded(p.Name) {
			continue
		}
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		caps := classify(dev)
		dev.Close()
		if caps == 0 {
			continue
		}
		out = append(out, Descriptor{Path: p.Path, Name: p.Name, Caps: caps})
	}
	return out, nil
}

// classify tags a device keyboard-like when it advertises the main typing
// block of key codes, pointer-like when it advertises mouse buttons or
// relative axes.
func classify(dev *evdev.InputDevice) Capability {
	var caps Capability
	for _, t := range dev.CapableTypes() {
		switch t {
		case evdev.EV_KEY:
			for _, code := range dev.CapableEvents(evdev.EV_KEY) {
				if code >= evdev.KEY_1 && code <= evdev.KEY_SLASH {
					caps |= CapKeyboard
				}
				if code >= evdev.BTN_LEFT && code <= evdev.BTN_TASK {
					caps |= CapPointer
				}
			}
		case evdev.EV_REL:
			for _, code := range dev.CapableEvents(evdev.EV_REL) {
				switch code {
				case evdev.REL_X, evdev.REL_Y, evdev.REL_WHEEL, evdev.REL_HWHEEL:
					caps |= CapPointer
				}
			}
		}
	}
	return caps
}
