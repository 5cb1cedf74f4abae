package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	engineLog zerolog.Logger
	logFile   *os.File
	logMu     sync.Mutex
	logReady  bool
	pid       int
	dir       string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: KEYGRIP_LOG_PATH environment variable
	envPath := os.Getenv("KEYGRIP_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: XDG default
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	return filepath.Join(xdgConfig, "keygrip", "logs"), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	path := filepath.Join(dir, "engine_log.txt")
	logFile, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        logFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	engineLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		engineLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		engineLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		engineLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		engineLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		engineLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		engineLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func DeviceAdded(name, path, caps string, grabbed bool) {
	if !logReady {
		return
	}
	engineLog.Info().
		Str("device", name).
		Str("path", path).
		Str("caps", caps).
		Bool("grabbed", grabbed).
		Msg("device_added")
}

func DeviceRemoved(path string) {
	if !logReady {
		return
	}
	engineLog.Info().Str("path", path).Msg("device_removed")
}

func GrabDenied(target string, err error) {
	if !logReady {
		return
	}
	engineLog.Warn().
		Str("target", target).
		Err(err).
		Msg("grab_denied")
}

func Registration(id uint64, chord string, backend string, err error) {
	if !logReady {
		return
	}
	ev := engineLog.Info()
	if err != nil {
		ev = engineLog.Warn().Err(err)
	}
	ev.Uint64("id", id).
		Str("chord", chord).
		Str("backend", backend).
		Msg("registration")
}

func DispatchPanic(id uint64, recovered any) {
	if !logReady {
		return
	}
	engineLog.Error().
		Uint64("id", id).
		Str("panic", fmt.Sprint(recovered)).
		Msg("dispatch_panic")
}

func EmergencyRelease(count int) {
	if !logReady {
		return
	}
	engineLog.Warn().
		Int("released", count).
		Msg("emergency_release")
}

func ConditionTransition(active bool, descriptors int) {
	if !logReady {
		return
	}
	engineLog.Info().
		Bool("active", active).
		Int("descriptors", descriptors).
		Msg("condition_transition")
}
