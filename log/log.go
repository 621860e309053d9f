// Copyright 2026 R5 Labs
// This file is part of the lp2p library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

// Package log provides lp2p's structured logger: a thin wrapper over
// log/slog that attaches the caller's frame and renders color on a real
// terminal, falling back to single-line JSON otherwise.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-stack/stack"
	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is the interface every lp2p component logs through.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

const levelTrace = slog.Level(-8)

type logger struct {
	h    slog.Handler
	base []any
}

// Root is the default logger, writing to stderr.
var Root Logger = newLogger(defaultHandler(os.Stderr))

func defaultHandler(f *os.File) slog.Handler {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return &termHandler{w: colorable.NewColorable(f), level: slog.LevelInfo}
	}
	var out io.Writer = f
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo})
}

// New returns a named component logger, e.g. log.New("session").
func New(component string, args ...any) Logger {
	return Root.With(append([]any{"component", component}, args...)...)
}

func newLogger(h slog.Handler) *logger {
	return &logger{h: h}
}

func (l *logger) With(args ...any) Logger {
	return &logger{h: l.h, base: append(append([]any{}, l.base...), args...)}
}

func (l *logger) log(level slog.Level, msg string, args []any) {
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.Add("caller", callerString())
	r.Add(l.base...)
	r.Add(args...)
	_ = l.h.Handle(context.Background(), r)
}

func (l *logger) Trace(msg string, args ...any) { l.log(levelTrace, msg, args) }
func (l *logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

// callerString renders the immediate caller of the exported Logger method
// (skipping this frame and the Trace/Debug/.../log frames) as "file:line",
// using go-stack so lp2p's log lines carry a call site.
func callerString() string {
	cs := stack.Trace().TrimRuntime()
	if len(cs) < 4 {
		return ""
	}
	return cs[3].String()
}
