package keystate

import (
	"testing"

	"keygrip/hotkey"
)

func TestDuplicatePressRejected(t *testing.T) {
	tr := New()
	if !tr.TryPress(30) {
		t.Fatal("first press rejected")
	}
	if tr.TryPress(30) {
		t.Error("duplicate press accepted without intervening release")
	}
	if !tr.TryRelease(30) {
		t.Error("release after press rejected")
	}
	if tr.TryRelease(30) {
		t.Error("second release accepted")
	}
	if !tr.TryPress(30) {
		t.Error("press after full cycle rejected")
	}
}

func TestReleaseWithoutPress(t *testing.T) {
	tr := New()
	if tr.TryRelease(57) {
		t.Error("release of a key never pressed accepted")
	}
}

func TestEmergencyReleaseAll(t *testing.T) {
	tr := New()
	for _, code := range []uint16{30, 42, 57} {
		if !tr.TryPress(code) {
			t.Fatalf("press %d rejected", code)
		}
	}

	codes := tr.EmergencyReleaseAll()
	if len(codes) != 3 {
		t.Fatalf("drained %d codes, want 3", len(codes))
	}
	want := map[uint16]bool{30: true, 42: true, 57: true}
	seen := map[uint16]bool{}
	for _, c := range codes {
		if !want[c] {
			t.Errorf("unexpected code %d in drain", c)
		}
		if seen[c] {
			t.Errorf("code %d drained twice", c)
		}
		seen[c] = true
	}

	for code := range want {
		if tr.Held(code) {
			t.Errorf("code %d still held after emergency release", code)
		}
	}
	if got := tr.EmergencyReleaseAll(); len(got) != 0 {
		t.Errorf("second drain returned %d codes, want 0", len(got))
	}
}

func TestModifierSnapshot(t *testing.T) {
	tr := New()
	if tr.Modifiers() != 0 {
		t.Fatal("fresh tracker reports modifiers held")
	}

	tr.TryPress(29) // left ctrl
	tr.TryPress(54) // right shift
	got := tr.Modifiers()
	if got != hotkey.ModCtrl|hotkey.ModShift {
		t.Errorf("modifiers = %v, want ctrl+shift", got)
	}

	// Both sides of a pair held: releasing one keeps the bit.
	tr.TryPress(97) // right ctrl
	tr.TryRelease(29)
	if tr.Modifiers()&hotkey.ModCtrl == 0 {
		t.Error("ctrl dropped while right ctrl still held")
	}
	tr.TryRelease(97)
	if tr.Modifiers()&hotkey.ModCtrl != 0 {
		t.Error("ctrl still reported after both sides released")
	}
}
