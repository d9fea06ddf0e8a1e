// Package logging owns the process logger. Every line is a JSON object on
// stdout; the *WithFields helpers stamp it with the configured service name.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gookit/slog"
	"github.com/gookit/slog/handler"
)

// Logger is the minimal surface the rest of the service logs through.
type Logger interface {
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Fields are top-level keys added to a JSON log line.
type Fields map[string]any

const defaultService = "llmchat"

// Log is usable before Init is called and logs at info.
var Log Logger = New(Options{})

var service atomic.Value

// Options configure a logger built by New.
type Options struct {
	// Level is a gookit/slog level name; unknown names mean info.
	Level string
	// Out defaults to stdout.
	Out io.Writer
}

// Init replaces Log with a logger at level and sets the service name that
// the *WithFields helpers attach.
func Init(level, serviceName string) {
	Log = New(Options{Level: level})
	SetService(serviceName)
}

// SetService changes the service field; blank restores the default.
func SetService(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultService
	}
	service.Store(name)
}

// Service returns the name stamped on structured lines.
func Service() string {
	if name, ok := service.Load().(string); ok {
		return name
	}
	return defaultService
}

// New builds a JSON-lines logger.
func New(opts Options) Logger {
	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	h := handler.NewSimpleHandler(out, slog.LevelByName(level))
	h.SetFormatter(slog.NewJSONFormatter(func(f *slog.JSONFormatter) {
		f.Fields = []string{
			slog.FieldKeyDatetime,
			slog.FieldKeyLevel,
			slog.FieldKeyMessage,
		}
		f.Aliases = slog.StringMap{
			slog.FieldKeyDatetime: "ts",
			slog.FieldKeyLevel:    "level",
			slog.FieldKeyMessage:  "msg",
		}
		f.TimeFormat = "2006-01-02T15:04:05.000Z07:00"
	}))

	lg := slog.NewWithHandlers(h)
	lg.ReportCaller = false
	return lg
}

func withService(fields Fields) slog.M {
	m := make(slog.M, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	if _, ok := m["service"]; !ok {
		m["service"] = Service()
	}
	return m
}

func logFields(level slog.Level, msg string, fields Fields) {
	lg, ok := Log.(*slog.Logger)
	if !ok {
		switch level {
		case slog.DebugLevel:
			Log.Debug(msg)
		case slog.WarnLevel:
			Log.Warn(msg)
		case slog.ErrorLevel:
			Log.Error(msg)
		default:
			Log.Info(msg)
		}
		return
	}
	lg.WithFields(withService(fields)).Log(level, msg)
}

func DebugWithFields(msg string, fields Fields) { logFields(slog.DebugLevel, msg, fields) }

func InfoWithFields(msg string, fields Fields) { logFields(slog.InfoLevel, msg, fields) }

func WarnWithFields(msg string, fields Fields) { logFields(slog.WarnLevel, msg, fields) }

func ErrorWithFields(msg string, fields Fields) { logFields(slog.ErrorLevel, msg, fields) }
