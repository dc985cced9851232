// Package logger provides component-tagged structured logging on top of zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetOutput redirects all log output. A console writer is used when console is true.
func SetOutput(w io.Writer, console bool) {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	mu.Lock()
	log = zerolog.New(w).With().Timestamp().Logger()
	mu.Unlock()
}

// SetLevel accepts debug, info, warn or error. Unknown values leave the level unchanged.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}

func emit(ev *zerolog.Event, component, message string, fields map[string]interface{}) {
	if ev == nil {
		return
	}
	if component != "" {
		ev = ev.Str("component", component)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func DebugC(component, message string) { emit(current().Debug(), component, message, nil) }
func InfoC(component, message string)  { emit(current().Info(), component, message, nil) }
func WarnC(component, message string)  { emit(current().Warn(), component, message, nil) }
func ErrorC(component, message string) { emit(current().Error(), component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	emit(current().Debug(), component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	emit(current().Info(), component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	emit(current().Warn(), component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	emit(current().Error(), component, message, fields)
}
