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

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// termHandler renders records as "LEVEL[time] msg key=val ..." with ANSI
// color on the level, for a developer watching a live node on a terminal.
type termHandler struct {
	mu    sync.Mutex
	w     io.Writer
	level slog.Level
}

var levelColor = map[slog.Level]string{
	levelTrace:      "\x1b[90m",
	slog.LevelDebug: "\x1b[36m",
	slog.LevelInfo:  "\x1b[32m",
	slog.LevelWarn:  "\x1b[33m",
	slog.LevelError: "\x1b[31m",
}

var levelName = map[slog.Level]string{
	levelTrace:      "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO ",
	slog.LevelWarn:  "WARN ",
	slog.LevelError: "ERROR",
}

func (h *termHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	color, ok := levelColor[r.Level]
	if !ok {
		color = "\x1b[37m"
	}
	name, ok := levelName[r.Level]
	if !ok {
		name = r.Level.String()
	}
	fmt.Fprintf(&b, "%s%s\x1b[0m[%s] %s", color, name, r.Time.Format("01-02|15:04:05.000"), r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *termHandler) WithGroup(name string) slog.Handler {
	return h
}
