package log

import (
	"log/slog"
	"time"
)

// Level is the severity of a record.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel

	// offLevel is above every level a record can carry.
	offLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	}
	return "UNKNOWN"
}

func (l Level) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func levelOf(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return DebugLevel
	case l < slog.LevelWarn:
		return InfoLevel
	case l < slog.LevelError:
		return WarnLevel
	}
	return ErrorLevel
}

// Well-known field keys.
const (
	StreamKey    = "stream"
	ReplicaKey   = "replica"
	ComponentKey = "component"
)

// Logger is the leveled, structured logger every replog component takes.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that adds fields to every record.
	With(fields ...Field) Logger
	// Enabled reports whether records at level are written.
	Enabled(level Level) bool
}

// Entry is a resolved record handed to a Formatter.
type Entry struct {
	Level   Level
	Message string
	Fields  map[string]interface{}
	Time    time.Time
	Caller  string
}

// Formatter renders an entry.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

// LoggerOption configures NewLogger.
type LoggerOption func(*sink)

// NewLogger returns a Logger writing JSON to stderr unless options say
// otherwise.
func NewLogger(options ...LoggerOption) Logger {
	s := &sink{level: InfoLevel, formatter: &JSONFormatter{}}
	for _, option := range options {
		option(s)
	}
	if len(s.outputs) == 0 {
		s.outputs = []Output{NewConsoleOutput()}
	}
	return &logger{level: s.level, h: &handler{sink: s}}
}

// NewNopLogger returns a logger that writes nothing.
func NewNopLogger() Logger {
	return &logger{level: offLevel, h: &handler{sink: &sink{level: offLevel}}}
}

// WithLevel sets the minimum level written.
func WithLevel(level Level) LoggerOption {
	return func(s *sink) { s.level = level }
}

func WithFormatter(formatter Formatter) LoggerOption {
	return func(s *sink) { s.formatter = formatter }
}

// WithOutput adds an output; records go to every output.
func WithOutput(output Output) LoggerOption {
	return func(s *sink) { s.outputs = append(s.outputs, output) }
}

// WithRedactedKeys masks the values of the given field keys.
func WithRedactedKeys(keys ...string) LoggerOption {
	return func(s *sink) {
		if s.redact == nil {
			s.redact = make(map[string]struct{}, len(keys))
		}
		for _, k := range keys {
			s.redact[k] = struct{}{}
		}
	}
}

// WithSampling writes the first initial records of each level and message,
// then every thereafter-th one.
func WithSampling(initial, thereafter int) LoggerOption {
	return func(s *sink) {
		if thereafter > 0 {
			s.sampler = newSampler(initial, thereafter)
		}
	}
}
