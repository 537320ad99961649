package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// sink is one installed output. It is replaced as a whole when the output
// or format changes; the level lives outside it so SetLevel never rebuilds.
type sink struct {
	w      io.Writer
	color  bool
	format string
	logger *slog.Logger
}

var (
	level  = new(slog.LevelVar)
	active atomic.Pointer[sink]

	// installMu serializes read-modify-write of the active sink.
	installMu sync.Mutex
)

func init() {
	level.Set(slog.LevelInfo)
	install(os.Stdout, isTerminal(os.Stdout.Fd()), formatText)
}

func install(w io.Writer, color bool, format string) {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if format == formatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = NewColorTextHandler(w, opts, color)
	}

	active.Store(&sink{w: w, color: color, format: format, logger: slog.New(h)})
}

// ParseLevel maps a case-insensitive level name to its slog level.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

// openOutput resolves an output name. Files never get color.
func openOutput(name string) (io.Writer, bool, error) {
	switch strings.ToLower(name) {
	case "", "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return f, false, nil
}

// Init applies cfg. Empty fields leave the current setting untouched.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, color, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		installMu.Lock()
		install(w, color, active.Load().format)
		installMu.Unlock()
	}

	SetLevel(cfg.Level)
	SetFormat(cfg.Format)
	return nil
}

// InitWithWriter routes output to w. Used by tests and embedders.
func InitWithWriter(w io.Writer, lvl, format string, enableColor bool) {
	installMu.Lock()
	install(w, enableColor, active.Load().format)
	installMu.Unlock()

	SetLevel(lvl)
	SetFormat(format)
}

// SetLevel sets the minimum log level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		level.Set(l)
	}
}

// SetFormat switches between text and json. Unknown formats are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != formatText && format != formatJSON {
		return
	}

	installMu.Lock()
	defer installMu.Unlock()
	cur := active.Load()
	if cur.format != format {
		install(cur.w, cur.color, format)
	}
}

func emit(ctx context.Context, lvl slog.Level, msg string, args []any) {
	if lvl < level.Level() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	active.Load().logger.Log(ctx, lvl, msg, appendContextFields(ctx, args)...)
}

// Debug logs at debug level. Args are alternating keys and values.
func Debug(msg string, args ...any) { emit(context.Background(), slog.LevelDebug, msg, args) }

// Info logs at info level.
func Info(msg string, args ...any) { emit(context.Background(), slog.LevelInfo, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { emit(context.Background(), slog.LevelWarn, msg, args) }

// Error logs at error level.
func Error(msg string, args ...any) { emit(context.Background(), slog.LevelError, msg, args) }

// DebugCtx logs at debug level, prefixing the fields of the LogContext
// carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelDebug, msg, args)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelInfo, msg, args)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelWarn, msg, args)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelError, msg, args)
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 12+len(args))
	add := func(key, val string) {
		if val != "" {
			out = append(out, key, val)
		}
	}
	add(KeyTraceID, lc.TraceID)
	add(KeySpanID, lc.SpanID)
	add(KeyOperation, lc.Operation)
	add(KeyClientID, lc.ClientID)
	add(KeyLockID, lc.LockID)
	if lc.ThreadID != 0 {
		out = append(out, KeyThreadID, lc.ThreadID)
	}

	return append(out, args...)
}

// With returns a logger bound to the current output with extra attributes.
func With(args ...any) *slog.Logger {
	return active.Load().logger.With(args...)
}

// Duration returns the time since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
