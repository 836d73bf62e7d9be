// Package logger provides a minimal structured JSON logger.
package logger

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// Fields carries structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

type Logger interface {
	Info(message string, fields Fields)
	Error(message string, fields Fields)
	Warn(message string, fields Fields)
	Debug(message string, fields Fields)
	Fatal(message string, fields Fields)
}

type jsonLogger struct {
	serviceName string
	debug       bool
	logger      *log.Logger
}

// New returns a Logger writing one JSON object per line to stdout.
// Debug entries are suppressed unless LOG_LEVEL=debug.
func New(serviceName string) Logger {
	return &jsonLogger{
		serviceName: serviceName,
		debug:       strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
		logger:      log.New(os.Stdout, "", 0),
	}
}

func (l *jsonLogger) log(level, message string, fields Fields) {
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     level,
		"service":   l.serviceName,
		"message":   message,
	}

	for k, v := range fields {
		entry[k] = v
	}

	jsonData, _ := json.Marshal(entry)
	l.logger.Println(string(jsonData))
}

func (l *jsonLogger) Info(message string, fields Fields)  { l.log("info", message, fields) }
func (l *jsonLogger) Error(message string, fields Fields) { l.log("error", message, fields) }
func (l *jsonLogger) Warn(message string, fields Fields)  { l.log("warn", message, fields) }

func (l *jsonLogger) Debug(message string, fields Fields) {
	if l.debug {
		l.log("debug", message, fields)
	}
}

func (l *jsonLogger) Fatal(message string, fields Fields) {
	l.log("fatal", message, fields)
	os.Exit(1)
}

// NewNop returns a Logger that discards everything. Intended for tests.
func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields Fields)  {}
func (l *nopLogger) Error(message string, fields Fields) {}
func (l *nopLogger) Warn(message string, fields Fields)  {}
func (l *nopLogger) Debug(message string, fields Fields) {}
func (l *nopLogger) Fatal(message string, fields Fields) {}
