// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "UVR_LOG_LEVEL"
	EnvLogNoColor = "UVR_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

// Runtime returns the daemon logger, configured once per process. Env
// vars override level and color for operators.
func Runtime(app string) zerolog.Logger {
	return configure(app, ProfileRuntime)
}

// Tests returns a debug-level logger without timestamps for test output.
func Tests(app string) zerolog.Logger {
	return configure(app, ProfileTest)
}

func configure(app string, profile Profile) zerolog.Logger {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		noColor := false
		timestamp := true
		if profile == ProfileTest {
			level = zerolog.DebugLevel
			timestamp = false
			noColor = true
		}
		if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
			level = lvl
		}
		if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
			noColor = v
		}

		zerolog.SetGlobalLevel(level)
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
		logger := zerolog.New(output)
		if timestamp {
			logger = logger.With().Timestamp().Logger()
		}
		log.Logger = logger
	})
	return log.Logger.With().Str("app", app).Logger()
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	default:
		return zerolog.NoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}
