package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger *zerolog.Logger
	loggerOnce    sync.Once
)

// GetDefaultLogger returns the process-wide root logger. The log level is
// taken from the LOG_LEVEL environment variable (trace/debug/info/warn/error),
// defaulting to info. Set LOG_FORMAT=console for human-readable output.
func GetDefaultLogger() *zerolog.Logger {
	loggerOnce.Do(initDefaultLogger)
	return defaultLogger
}

// GetSubsystemLogger returns a logger scoped to the given subsystem name.
func GetSubsystemLogger(subsystem string) *zerolog.Logger {
	l := GetDefaultLogger().With().Str("subsystem", subsystem).Logger()
	return &l
}

func initDefaultLogger() {
	level := zerolog.InfoLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(env)); err == nil {
			level = parsed
		}
	}

	var l zerolog.Logger
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}
		l = zerolog.New(writer)
	} else {
		l = zerolog.New(os.Stderr)
	}

	l = l.Level(level).With().Timestamp().Logger()
	defaultLogger = &l
}
