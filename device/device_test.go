package device

import "testing"

var testDevs = []Descriptor{
	{Path: "/dev/input/event2", Name: "AT Translated Set 2 keyboard", Caps: CapKeyboard},
	{Path: "/dev/input/event5", Name: "Logitech USB Receiver", Caps: CapPointer},
	{Path: "/dev/input/event7", Name: "Logitech USB Receiver Keyboard", Caps: CapKeyboard},
}

func TestSelectBestMatchPreferenceOrder(t *testing.T) {
	path, ok := SelectBestMatch(testDevs, []string{"logitech", "at translated"}, IsKeyboard)
	if !ok {
		t.Fatal("no match")
	}
	// First pattern wins even though the AT keyboard enumerates first.
	if path != "/dev/input/event7" {
		t.Errorf("path = %s, want /dev/input/event7", path)
	}
}

func TestSelectBestMatchCapabilityFilter(t *testing.T) {
	path, ok := SelectBestMatch(testDevs, []string{"logitech"}, IsPointer)
	if !ok {
		t.Fatal("no match")
	}
	if path != "/dev/input/event5" {
		t.Errorf("path = %s, want /dev/input/event5", path)
	}
}

func TestSelectBestMatchEmpty(t *testing.T) {
	if _, ok := SelectBestMatch(testDevs, []string{"wacom"}, nil); ok {
		t.Error("matched a pattern no device name contains")
	}
	if _, ok := SelectBestMatch(nil, []string{"logitech"}, nil); ok {
		t.Error("matched against an empty device list")
	}
}

func TestExcludedNames(t *testing.T) {
	for _, name := range []string{"Power Button", "Video Bus", "Virtual Console"} {
		if !excluded(name) {
			t.Errorf("%q not excluded", name)
		}
	}
	if excluded("AT Translated Set 2 keyboard") {
		t.Error("real keyboard excluded")
	}
}

func TestFilter(t *testing.T) {
	kbds := Filter(testDevs, IsKeyboard)
	if len(kbds) != 2 {
		t.Errorf("keyboard count = %d, want 2", len(kbds))
	}
	if all := Filter(testDevs, nil); len(all) != len(testDevs) {
		t.Errorf("nil filter returned %d devices, want %d", len(all), len(testDevs))
	}
}
