package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Engine.EmergencyKey != 1 {
		t.Errorf("emergency key = %d, want 1", cfg.Engine.EmergencyKey)
	}
	if cfg.ComboWindow() != 500*time.Millisecond {
		t.Errorf("combo window = %v, want 500ms", cfg.ComboWindow())
	}
}

func TestLoadExistingOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[devices]
keyboard_patterns = ["at translated"]
hotplug = true

[engine]
combo_window_ms = 250

[[remap]]
from = 58
to = 1
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Devices.KeyboardPatterns) != 1 || cfg.Devices.KeyboardPatterns[0] != "at translated" {
		t.Errorf("keyboard patterns = %v", cfg.Devices.KeyboardPatterns)
	}
	if !cfg.Devices.Hotplug {
		t.Error("hotplug not set")
	}
	if cfg.ComboWindow() != 250*time.Millisecond {
		t.Errorf("combo window = %v, want 250ms", cfg.ComboWindow())
	}
	// Unset sections keep their defaults.
	if cfg.Engine.ConditionTickMS != 1000 {
		t.Errorf("condition tick = %d, want default 1000", cfg.Engine.ConditionTickMS)
	}
	if got := cfg.RemapTable(); got[58] != 1 {
		t.Errorf("remap table = %v", got)
	}
}

func TestRemapTableSkipsBadEntries(t *testing.T) {
	cfg := &Config{Remap: []RemapEntry{
		{From: 58, To: 1},
		{From: -2, To: 1},
		{From: 30, To: 0x10000},
	}}
	table := cfg.RemapTable()
	if len(table) != 1 || table[58] != 1 {
		t.Errorf("table = %v, want only 58->1", table)
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	if cfg.ComboWindow() != 500*time.Millisecond {
		t.Error("combo window fallback")
	}
	if cfg.ConditionTick() != time.Second {
		t.Error("condition tick fallback")
	}
	if cfg.RescanInterval() != 5*time.Second {
		t.Error("rescan interval fallback")
	}
}
