package log

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

type logger struct {
	level Level
	h     slog.Handler
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *logger) Enabled(level Level) bool { return level >= l.level }

func (l *logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &logger{level: l.level, h: l.h.WithAttrs(attrs(fields))}
}

func (l *logger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, log and the level method
	r := slog.NewRecord(time.Now(), level.slog(), msg, pcs[0])
	r.AddAttrs(attrs(fields)...)
	_ = l.h.Handle(context.Background(), r)
}

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, len(fields))
	for i, f := range fields {
		out[i] = slog.Any(f.Key, f.Value)
	}
	return out
}

// sink is the state shared by a logger and all of its children.
type sink struct {
	level     Level
	formatter Formatter
	outputs   []Output
	redact    map[string]struct{}
	sampler   *sampler
}

// handler is a slog.Handler that resolves records into entries and feeds
// them to the sink's formatter and outputs.
type handler struct {
	sink   *sink
	attrs  []slog.Attr
	prefix string
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return levelOf(l) >= h.sink.level
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	s := h.sink
	level := levelOf(r.Level)
	if s.sampler != nil && !s.sampler.allow(level, r.Message) {
		return nil
	}
	e := &Entry{
		Level:   level,
		Message: r.Message,
		Fields:  make(map[string]interface{}, len(h.attrs)+r.NumAttrs()),
		Time:    r.Time,
		Caller:  caller(r.PC),
	}
	for _, a := range h.attrs {
		e.Fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Fields[h.prefix+a.Key] = a.Value.Any()
		return true
	})
	for k := range s.redact {
		if _, ok := e.Fields[k]; ok {
			e.Fields[k] = "[REDACTED]"
		}
	}

	b, err := s.formatter.Format(e)
	if err != nil {
		return err
	}
	for _, out := range s.outputs {
		_ = out.Write(e, b)
	}
	return nil
}

func (h *handler) WithAttrs(as []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(as))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range as {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

// caller renders pc as dir/file.go:line.
func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if f.File == "" {
		return ""
	}
	return filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)) + ":" + strconv.Itoa(f.Line)
}

// sampler counts records per level and message.
type sampler struct {
	initial, every uint64

	mu     sync.Mutex
	counts map[string]uint64
}

func newSampler(initial, every int) *sampler {
	if initial < 0 {
		initial = 0
	}
	return &sampler{initial: uint64(initial), every: uint64(every), counts: map[string]uint64{}}
}

func (s *sampler) allow(level Level, msg string) bool {
	key := level.String() + "|" + msg
	s.mu.Lock()
	n := s.counts[key]
	s.counts[key] = n + 1
	s.mu.Unlock()
	return n < s.initial || (n-s.initial)%s.every == 0
}
