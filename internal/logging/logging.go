// Package logging provides structured logging for the rigwatch daemon and CLI.
//
// Component loggers are created once at package level and keep working
// after Init reconfigures the output:
//
//	var log = logging.Component("ingestion")
//
//	func main() {
//		logging.Init(slog.LevelDebug, true)
//		log.Debug("now visible, as JSON")
//	}
//
// Calls made with a context (log.InfoContext) pick up the machine and job
// tags set with ContextWithMachineID and ContextWithJob.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var root atomic.Pointer[slog.Handler]

func init() {
	setHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func setHandler(h slog.Handler) {
	root.Store(&h)
	slog.SetDefault(slog.New(h))
}

// Init configures the output of every logger with the given level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter is Init with a custom destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		setHandler(slog.NewJSONHandler(w, opts))
	} else {
		setHandler(slog.NewTextHandler(w, opts))
	}
}

// ParseLevel converts a config level name to a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
func Component(name string) *slog.Logger {
	return slog.New(&lateHandler{}).With("component", name)
}

// =============================================================================
// Handler
// =============================================================================

// lateHandler resolves the configured handler on every record, replaying the
// attributes and groups added through With.
type lateHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *lateHandler) current() slog.Handler {
	out := *root.Load()
	for _, op := range h.ops {
		out = op(out)
	}
	return out
}

func (h *lateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*root.Load()).Enabled(ctx, level)
}

func (h *lateHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r = r.Clone()
		if machineID, ok := ctx.Value(contextKeyMachineID).(string); ok {
			r.AddAttrs(slog.String("machine", machineID))
		}
		if job, ok := ctx.Value(contextKeyJob).(string); ok {
			r.AddAttrs(slog.String("job", job))
		}
	}
	return h.current().Handle(ctx, r)
}

func (h *lateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *lateHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *lateHandler) with(op func(slog.Handler) slog.Handler) *lateHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &lateHandler{ops: append(ops, op)}
}

// =============================================================================
// Context
// =============================================================================

type contextKey int

const (
	contextKeyMachineID contextKey = iota
	contextKeyJob
)

// ContextWithMachineID tags log records made with ctx with a machine id.
func ContextWithMachineID(ctx context.Context, machineID string) context.Context {
	return context.WithValue(ctx, contextKeyMachineID, machineID)
}

// ContextWithJob tags the context with the scheduler job that owns it.
func ContextWithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, contextKeyJob, job)
}
