package log

import (
	"bytes"
	"encoding/json"
	"errors"
	stdlog "log"
	"strings"
	"testing"
)

func newBufferLogger(level Level, f Formatter) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := NewLogger(WithLevel(level), WithFormatter(f), WithOutput(&ConsoleOutput{Writer: buf}))
	return l, buf
}

func TestJSONOutputCarriesFields(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel, &JSONFormatter{})
	l.With(Component("logview")).Info("write committed", Uint64("version", 3), Err(errors.New("boom")))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if got["msg"] != "write committed" {
		t.Fatalf("msg: %v", got["msg"])
	}
	if got["level"] != "INFO" {
		t.Fatalf("level: %v", got["level"])
	}
	if got["component"] != "logview" {
		t.Fatalf("component: %v", got["component"])
	}
	if got["version"] != float64(3) {
		t.Fatalf("version: %v", got["version"])
	}
	if got["error"] != "boom" {
		t.Fatalf("error: %v", got["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(WarnLevel, &TextFormatter{DisableTimestamp: true})
	l.Info("hidden")
	l.Debug("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info leaked through warn level: %q", out)
	}
	if !strings.HasPrefix(out, "WARN  shown") {
		t.Fatalf("unexpected text output: %q", out)
	}
	if l.Enabled(InfoLevel) || !l.Enabled(ErrorLevel) {
		t.Fatalf("Enabled disagrees with level")
	}
}

func TestChildDoesNotMutateParent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel, &TextFormatter{DisableTimestamp: true})
	child := l.With(Stream("a"))
	l.Info("parent")
	if strings.Contains(buf.String(), "stream=") {
		t.Fatalf("parent picked up child field: %q", buf.String())
	}
	buf.Reset()
	child.With(Component("host")).Info("child")
	if out := buf.String(); !strings.Contains(out, "stream=a") || !strings.Contains(out, "component=host") {
		t.Fatalf("child fields missing: %q", out)
	}
}

func TestCallerPointsAtCallSite(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel, &JSONFormatter{})
	l.Info("here")
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "log/log_test.go:") {
		t.Fatalf("caller: %v", got["caller"])
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	if l.Enabled(ErrorLevel) {
		t.Fatalf("nop logger enabled")
	}
	l.With(Stream("a")).Error("dropped")
}

func TestRedaction(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(&ConsoleOutput{Writer: buf}), WithRedactedKeys("password"))
	l.Info("dial", Str("password", "hunter2"), Str("user", "guest"))
	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("secret leaked: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "user=guest") {
		t.Fatalf("missing user field: %q", buf.String())
	}
}

func TestSampling(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(&ConsoleOutput{Writer: buf}), WithSampling(1, 3))
	for i := 0; i < 7; i++ {
		l.Info("tick")
	}
	// records 0, 1 and 4 pass
	if n := strings.Count(buf.String(), "tick"); n != 3 {
		t.Fatalf("expected 3 sampled lines, got %d", n)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err {
			t.Fatalf("ParseLevel(%q) err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyConfig(t *testing.T) {
	if _, err := ApplyConfig(&Config{Level: "info", Format: "yaml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	l, err := ApplyConfig(&Config{Level: "error", Format: "text", Outputs: []string{"null"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if l.Enabled(WarnLevel) || !l.Enabled(ErrorLevel) {
		t.Fatalf("level not applied")
	}
}

func TestToStdLogger(t *testing.T) {
	l, buf := newBufferLogger(DebugLevel, &TextFormatter{DisableTimestamp: true})
	std := ToStdLogger(l, WarnLevel)
	std.Printf("pebble: %s", "compaction")
	if !strings.HasPrefix(buf.String(), "WARN  pebble: compaction") {
		t.Fatalf("unexpected: %q", buf.String())
	}
	var _ *stdlog.Logger = std
}
