// Package testenv holds helpers shared by filmsync package tests.
package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/filmindex/filmsync/pkg/logger"
	slogadapter "github.com/filmindex/filmsync/pkg/logger/slog"
)

// LogRecorder is a slog.Handler that renders each record as
// "[index] LEVEL: message k=v, k=v", without timestamps, and keeps the
// lines so tests can assert on them.
type LogRecorder struct {
	sink   *logSink
	attrs  []slog.Attr
	groups []string
}

type logSink struct {
	mu      sync.Mutex
	lines   []string
	records []Record
	echo    bool
}

// Record is one captured log call.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

type LogRecorderOption func(*logSink)

// WithEcho also prints every line to stdout, for debugging a failing test.
func WithEcho() LogRecorderOption {
	return func(s *logSink) {
		s.echo = true
	}
}

func NewLogRecorder(opts ...LogRecorderOption) *LogRecorder {
	s := &logSink{}
	for _, opt := range opts {
		opt(s)
	}
	return &LogRecorder{sink: s}
}

// NewLogger returns a filmsync Logger writing into a fresh recorder.
func NewLogger(opts ...LogRecorderOption) (logger.Logger, *LogRecorder) {
	rec := NewLogRecorder(opts...)
	return slogadapter.New(rec), rec
}

//nolint:gocritic
func (h *LogRecorder) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string)
	attrs := h.render(&r, fields)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	idx := len(h.sink.lines)
	var line string
	if attrs != "" {
		line = fmt.Sprintf("[%d] %s: %s %s", idx, r.Level, r.Message, attrs)
	} else {
		line = fmt.Sprintf("[%d] %s: %s", idx, r.Level, r.Message)
	}
	h.sink.lines = append(h.sink.lines, line)
	h.sink.records = append(h.sink.records, Record{Level: r.Level, Message: r.Message, Attrs: fields})
	if h.sink.echo {
		fmt.Println(line)
	}
	return nil
}

func (h *LogRecorder) render(r *slog.Record, fields map[string]string) string {
	var parts []string
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a, "", fields)...)
	}
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a, prefix, fields)...)
		return true
	})
	return strings.Join(parts, ", ")
}

func formatAttr(a slog.Attr, prefix string, fields map[string]string) []string {
	if a.Value.Kind() == slog.KindGroup {
		var parts []string
		for _, ga := range a.Value.Group() {
			parts = append(parts, formatAttr(ga, prefix+a.Key+".", fields)...)
		}
		return parts
	}
	key := prefix + a.Key
	val := a.Value.String()
	fields[key] = val
	return []string{fmt.Sprintf("%s=%s", key, val)}
}

func (h *LogRecorder) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a = slog.Any(prefix+a.Key, a.Value)
		}
		next = append(next, a)
	}
	return &LogRecorder{sink: h.sink, attrs: next, groups: h.groups}
}

func (h *LogRecorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LogRecorder{
		sink:   h.sink,
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}

// Lines returns a copy of every rendered line so far.
func (h *LogRecorder) Lines() []string {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return append([]string(nil), h.sink.lines...)
}

// Records returns a copy of every captured record so far.
func (h *LogRecorder) Records() []Record {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return append([]Record(nil), h.sink.records...)
}

// Find returns the records with the given level and message.
func (h *LogRecorder) Find(level slog.Level, msg string) []Record {
	var out []Record
	for _, r := range h.Records() {
		if r.Level == level && r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}

// Count is len(Find(level, msg)).
func (h *LogRecorder) Count(level slog.Level, msg string) int {
	return len(h.Find(level, msg))
}
