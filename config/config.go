// Package config loads the TOML configuration from the XDG config
// directory, creating a default file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Devices DevicesConfig `toml:"devices"`
	Engine  EngineConfig  `toml:"engine"`
	Log     LogConfig     `toml:"log"`
	Remap   []RemapEntry  `toml:"remap"`
}

type DevicesConfig struct {
	// KeyboardPatterns and PointerPatterns select physical devices by
	// name substring, in preference order. Empty means capture all.
	KeyboardPatterns []string `toml:"keyboard_patterns"`
	PointerPatterns  []string `toml:"pointer_patterns"`

	Hotplug       bool `toml:"hotplug"`
	RescanSeconds int  `toml:"rescan_seconds"`
}

type EngineConfig struct {
	ComboWindowMS   int `toml:"combo_window_ms"`
	ConditionTickMS int `toml:"condition_tick_ms"`

	// EmergencyKey is the evdev code completing the ctrl+<key> release
	// chord. Zero disables it; the default is Escape.
	EmergencyKey int `toml:"emergency_key"`
}

type LogConfig struct {
	Path string `toml:"path"`
}

// RemapEntry redirects one physical key code to another before matching.
type RemapEntry struct {
	From int `toml:"from"`
	To   int `toml:"to"`
}

func defaultConfig() *Config {
	return &Config{
		Devices: DevicesConfig{
			Hotplug:       false,
			RescanSeconds: 5,
		},
		Engine: EngineConfig{
			ComboWindowMS:   500,
			ConditionTickMS: 1000,
			EmergencyKey:    1, // KEY_ESC
		},
	}
}

// Dir returns the configuration directory, creating it if needed.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	dir := filepath.Join(base, "keygrip")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file, writing the defaults first if it does not
// exist. An explicit non-empty path skips the XDG lookup.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		if err := save(path, cfg); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
		return cfg, nil
	}

	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}

func save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) ComboWindow() time.Duration {
	if c.Engine.ComboWindowMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Engine.ComboWindowMS) * time.Millisecond
}

func (c *Config) ConditionTick() time.Duration {
	if c.Engine.ConditionTickMS <= 0 {
		return time.Second
	}
	return time.Duration(c.Engine.ConditionTickMS) * time.Millisecond
}

func (c *Config) RescanInterval() time.Duration {
	if c.Devices.RescanSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Devices.RescanSeconds) * time.Second
}

// RemapTable flattens the remap entries into a lookup map, skipping
// entries with out-of-range codes.
func (c *Config) RemapTable() map[uint16]uint16 {
	if len(c.Remap) == 0 {
		return nil
	}
	table := make(map[uint16]uint16, len(c.Remap))
	for _, e := range c.Remap {
		if e.From <= 0 || e.From > 0xffff || e.To <= 0 || e.To > 0xffff {
			continue
		}
		table[uint16(e.From)] = uint16(e.To)
	}
	return table
}
