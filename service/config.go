package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/safing/attention/base/log"
)

// ServiceConfig holds the settings that are given on the command line and
// are needed before the config registry is loaded.
type ServiceConfig struct {
	DataDir    string
	ConfigFile string

	LogToStdout bool
	LogDir      string
	LogLevel    string

	// FixedThrottle replaces the adaptive host clock with a fixed clock,
	// if set to a value above zero.
	FixedThrottle float32
	// FixedPeriod is the cycle period of the fixed clock.
	FixedPeriod time.Duration
}

// Init fills in platform defaults and checks the configuration.
func (sc *ServiceConfig) Init() error {
	// Check directories.
	switch runtime.GOOS {
	case "windows":
		if sc.DataDir == "" {
			sc.DataDir = filepath.FromSlash("$ProgramData/Attention")
		}
	case "linux":
		if sc.DataDir == "" {
			sc.DataDir = "/var/lib/attention"
		}
	default:
		if sc.DataDir == "" && sc.ConfigFile == "" {
			return errors.New("data directory must be configured - auto-detection not supported on this platform")
		}
		if !sc.LogToStdout && sc.LogDir == "" && sc.DataDir == "" {
			return errors.New("logging directory must be configured - auto-detection not supported on this platform")
		}
	}

	// Expand path variables.
	sc.DataDir = os.ExpandEnv(sc.DataDir)
	sc.ConfigFile = os.ExpandEnv(sc.ConfigFile)
	sc.LogDir = os.ExpandEnv(sc.LogDir)

	// Derive paths from the data directory.
	if sc.ConfigFile == "" && sc.DataDir != "" {
		sc.ConfigFile = filepath.Join(sc.DataDir, "config.json")
	}
	if sc.LogDir == "" && sc.DataDir != "" {
		sc.LogDir = filepath.Join(sc.DataDir, "logs")
	}

	// Check log level.
	if sc.LogLevel != "" && log.ParseLevel(sc.LogLevel) == 0 {
		return fmt.Errorf("invalid log level %q", sc.LogLevel)
	}

	// Check clock.
	switch {
	case sc.FixedThrottle < 0 || sc.FixedThrottle > 1:
		return fmt.Errorf("invalid fixed throttle %v: must be between 0 and 1", sc.FixedThrottle)
	case sc.FixedPeriod < 0:
		return fmt.Errorf("invalid fixed period %s", sc.FixedPeriod)
	case sc.FixedThrottle > 0 && sc.FixedPeriod == 0:
		sc.FixedPeriod = 20 * time.Millisecond
	}

	return nil
}
