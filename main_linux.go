//go:build linux

package main

import (
	"flag"
	"fmt"
	"os"

	"keygrip/config"
	"keygrip/doctor"
	"keygrip/hotkey"
	"keygrip/internal/lockfile"
	"keygrip/log"
	"keygrip/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	doctorFlag := flag.Bool("doctor", false, "run environment diagnostics and exit")
	logPath := flag.String("logpath", "", "log directory (default: $XDG_CONFIG_HOME/keygrip/logs)")
	configPath := flag.String("config", "", "config file (default: $XDG_CONFIG_HOME/keygrip/config.toml)")
	hotplug := flag.Bool("hotplug", false, "rescan for added/removed devices")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("keygrip", version)
		return 0
	}
	if *doctorFlag {
		return doctor.Run()
	}

	lock, err := lockfile.TryLock("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer lock.Release()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	if *hotplug {
		cfg.Devices.Hotplug = true
	}

	dir, err := log.ResolveDir(*logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "log path:", err)
		return 1
	}
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "log init:", err)
		return 1
	}
	defer log.Close()
	log.Infof("keygrip %s starting", version)

	engine := NewEngine(cfg)
	if err := engine.Start(); err != nil {
		log.Errorf("start: %v", err)
		fmt.Fprintln(os.Stderr, err)
		if err == ErrNoBackend {
			fmt.Fprintln(os.Stderr, "run with -doctor to diagnose")
		}
		return 1
	}
	defer engine.Stop()

	if cfg.Engine.EmergencyKey != 0 {
		// Emergency release also works from the protocol side when raw
		// capture is down.
		engine.Register(RegisterOptions{
			Chord:    hotkey.Chord{Key: uint16(cfg.Engine.EmergencyKey), Mods: hotkey.ModCtrl},
			Backend:  hotkey.Protocol,
			On:       hotkey.Down,
			Callback: engine.emergencyStop,
		})
	}
	for _, f := range engine.FailedRegistrations() {
		log.Warnf("registration failed: %s on %s: %v", f.Chord, f.Backend, f.Err)
	}

	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)
	<-sig
	log.Info("shutting down")
	return 0
}
