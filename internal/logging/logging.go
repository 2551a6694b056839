// Package logging provides structured logging for the engine.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	output io.Writer = os.Stderr
	level            = zerolog.InfoLevel
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if lvl := os.Getenv("PATINA_LOG_LEVEL"); lvl != "" {
		SetLevel(lvl)
	}
}

// SetLevel sets the global minimum log level from a string ("debug",
// "info", "warn", "error"). Unknown values keep the current level.
func SetLevel(lvl string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(lvl)))
	if err != nil {
		return
	}
	mu.Lock()
	level = parsed
	mu.Unlock()
}

// SetOutput redirects all loggers created after the call. Tests use this
// to capture log lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()
}

// New returns a logger scoped to the given component. Component names are
// short package-style identifiers ("eventlog", "oracle:semantic").
func New(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return zerolog.New(output).Level(level).With().
		Timestamp().
		Str("component", component).
		Logger()
}
