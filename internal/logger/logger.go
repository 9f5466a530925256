// Package logger provides the engine's leveled, structured log output.
//
// Modeled on a leveled logging package: severities ranked
// TRACE < DEBUG < INFO < WARNING < ERROR < OFF, a text handler for
// interactive/foreground mounts and a JSON handler for supervised runs,
// built on top of the standard library's log/slog rather than a third-party
// logging framework (slog is the standard choice here).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Severity ranks the same way cfg.LogSeverity does.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityOff
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "TRACE"
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "OFF"
	}
}

// slog doesn't have TRACE/WARNING levels out of the box; map those two
// severities onto slog.Level values of their own (TRACE at -8, below Debug;
// WARNING at 2, between Info and slog's Warn) so a custom handler can recover
// the original severity name.
const (
	levelTrace   = slog.Level(-8)
	levelWarning = slog.Level(2)
)

func toSlogLevel(s Severity) slog.Level {
	switch s {
	case SeverityTrace:
		return levelTrace
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return levelWarning
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelError + 100
	}
}

func severityName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < levelWarning:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// severityHandler renders records as "time=... severity=NAME message=..." in
// text mode, matching a conventional leveled-log line format.
type severityHandler struct {
	out    io.Writer
	level  *slog.LevelVar
	json   bool
	prefix string
	attrs  []slog.Attr
}

func newHandler(out io.Writer, level *slog.LevelVar, json bool, prefix string) *severityHandler {
	return &severityHandler{out: out, level: level, json: json, prefix: prefix}
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	msg := h.prefix + r.Message
	if h.json {
		fmt.Fprintf(h.out, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
			r.Time.Unix(), r.Time.Nanosecond(), sev, msg)
		return nil
	}
	fmt.Fprintf(h.out, "time=%q severity=%s message=%q\n", r.Time.Format(time.RFC3339Nano), sev, msg)
	return nil
}

func (h *severityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &n
}

func (h *severityHandler) WithGroup(string) slog.Handler { return h }

// Logger is the engine's leveled logger.
type Logger struct {
	l     *slog.Logger
	level *slog.LevelVar
}

// Options configures a new Logger.
type Options struct {
	Severity Severity
	JSON     bool
	Prefix   string
	Out      io.Writer
}

// New builds a Logger. A nil Out defaults to os.Stderr.
func New(opts Options) *Logger {
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(toSlogLevel(opts.Severity))
	h := newHandler(opts.Out, lv, opts.JSON, opts.Prefix)
	return &Logger{l: slog.New(h), level: lv}
}

// SetSeverity changes the minimum severity logged.
func (lg *Logger) SetSeverity(s Severity) { lg.level.Set(toSlogLevel(s)) }

func (lg *Logger) Tracef(format string, args ...any) {
	lg.l.Log(context.Background(), levelTrace, fmt.Sprintf(format, args...))
}

func (lg *Logger) Debugf(format string, args ...any) {
	lg.l.Debug(fmt.Sprintf(format, args...))
}

func (lg *Logger) Infof(format string, args ...any) {
	lg.l.Info(fmt.Sprintf(format, args...))
}

func (lg *Logger) Warnf(format string, args ...any) {
	lg.l.Log(context.Background(), levelWarning, fmt.Sprintf(format, args...))
}

func (lg *Logger) Errorf(format string, args ...any) {
	lg.l.Error(fmt.Sprintf(format, args...))
}

// defaultLogger is the package-level logger used by code that doesn't carry
// its own Logger through (a package-level default, set once at startup).
var defaultLogger = New(Options{Severity: SeverityInfo})

// SetDefault replaces the package-level default logger, called once at
// startup after cfg.Config.Logging is known.
func SetDefault(lg *Logger) { defaultLogger = lg }

func Tracef(format string, args ...any) { defaultLogger.Tracef(format, args...) }
func Debugf(format string, args ...any) { defaultLogger.Debugf(format, args...) }
func Infof(format string, args ...any)  { defaultLogger.Infof(format, args...) }
func Warnf(format string, args ...any)  { defaultLogger.Warnf(format, args...) }
func Errorf(format string, args ...any) { defaultLogger.Errorf(format, args...) }
