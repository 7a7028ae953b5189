package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, level LogLevel, format LogFormat, caller bool) (*StructuredLogger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:         level,
		Output:        &buf,
		Format:        format,
		IncludeCaller: caller,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, &buf
}

func TestNewStructuredLogger(t *testing.T) {
	logger, _ := newTestLogger(t, DEBUG, FormatText, true)
	if logger.GetLevel() != DEBUG {
		t.Errorf("Expected DEBUG level, got %v", logger.GetLevel())
	}

	if _, err := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO}); err == nil {
		t.Error("Expected error for nil output")
	}
}

func TestLogLevels(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, false)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message was logged when level is INFO")
	}

	for _, log := range []struct {
		fn  func(string, ...map[string]interface{})
		msg string
	}{
		{logger.Info, "info message"},
		{logger.Warn, "warn message"},
		{logger.Error, "error message"},
	} {
		buf.Reset()
		log.fn(log.msg)
		if !strings.Contains(buf.String(), log.msg) {
			t.Errorf("%q not found in output %q", log.msg, buf.String())
		}
	}
}

func TestStructuredFields(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, false)

	logger.Info("cache built", map[string]interface{}{
		"path":     "/shots/a.0001.exr",
		"channels": 12,
		"width":    1920,
	})

	output := buf.String()
	if !strings.Contains(output, "{channels=12, path=/shots/a.0001.exr, width=1920}") {
		t.Errorf("fields not rendered in key order: %s", output)
	}
}

func TestWithField(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, false)

	logger.WithField("path", "a.exr").Info("evicted")

	output := buf.String()
	if !strings.Contains(output, "path=a.exr") {
		t.Error("path context field not found in output")
	}
	if !strings.Contains(output, "evicted") {
		t.Error("Message not found in output")
	}
}

func TestWithFieldsDoesNotLeakIntoParent(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, false)

	child := logger.WithFields(map[string]interface{}{"entries": 3, "capacity": 4})
	child.Info("child")
	if !strings.Contains(buf.String(), "capacity=4, entries=3") {
		t.Errorf("child fields missing: %s", buf.String())
	}

	buf.Reset()
	logger.Info("parent")
	if strings.Contains(buf.String(), "entries") {
		t.Errorf("parent logger picked up child fields: %s", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, false)

	logger.WithComponent("pool").Info("configured")

	if !strings.Contains(buf.String(), "component=pool") {
		t.Error("component field not found in output")
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatJSON, false)

	logger.Info("fill", map[string]interface{}{"rows": 42, "channel": "R"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	if entry.Level != "INFO" {
		t.Errorf("Expected level INFO, got %s", entry.Level)
	}
	if entry.Message != "fill" {
		t.Errorf("Expected message 'fill', got %s", entry.Message)
	}
	if entry.Fields["rows"] != float64(42) {
		t.Errorf("Expected rows 42, got %v", entry.Fields["rows"])
	}
	if entry.Fields["channel"] != "R" {
		t.Errorf("Expected channel R, got %v", entry.Fields["channel"])
	}
}

func TestComponentLevels(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, false)

	poolLogger := logger.WithComponent("pool")
	exrLogger := logger.WithComponent("exr")

	// set after deriving: component levels are shared
	logger.SetComponentLevel("pool", DEBUG)

	poolLogger.Debug("pool debug message")
	if buf.Len() == 0 {
		t.Error("pool debug message was not logged despite component level being DEBUG")
	}

	buf.Reset()
	exrLogger.Debug("exr debug message")
	if buf.Len() > 0 {
		t.Error("exr debug message was logged when global level is INFO")
	}
}

func TestFormatfMethods(t *testing.T) {
	logger, buf := newTestLogger(t, DEBUG, FormatText, false)

	tests := []struct {
		fn   func(string, ...interface{})
		want string
	}{
		{logger.Debugf, "Debug test 123"},
		{logger.Infof, "Info test 123"},
		{logger.Warnf, "Warn test 123"},
		{logger.Errorf, "Error test 123"},
	}
	for _, tt := range tests {
		buf.Reset()
		tt.fn(strings.Split(tt.want, " ")[0]+" %s %d", "test", 123)
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("output %q missing %q", buf.String(), tt.want)
		}
	}
}

func TestCaller(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, true)

	logger.Info("Test caller")

	if !strings.Contains(buf.String(), "[structured_logger_test.go:") {
		t.Errorf("Caller should point at the call site: %s", buf.String())
	}

	buf.Reset()
	logger.Infof("Test %s", "callerf")
	if !strings.Contains(buf.String(), "[structured_logger_test.go:") {
		t.Errorf("Caller should point at the call site for Infof: %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	logger, buf := newTestLogger(t, INFO, FormatText, false)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message logged at INFO level")
	}

	logger.SetLevel(DEBUG)
	if logger.GetLevel() != DEBUG {
		t.Errorf("Expected DEBUG level, got %v", logger.GetLevel())
	}

	logger.Debug("debug message")
	if buf.Len() == 0 {
		t.Error("Debug message not logged at DEBUG level")
	}
}

func TestTrace(t *testing.T) {
	logger, buf := newTestLogger(t, TRACE, FormatText, false)

	logger.Trace("trace message")

	if !strings.Contains(buf.String(), "[TRACE] trace message") {
		t.Errorf("unexpected trace output: %s", buf.String())
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	logger.Error("dropped")
	logger.WithComponent("pool").Warn("dropped too")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultStructuredLoggerConfig()

	if config.Level != INFO {
		t.Errorf("Expected default level INFO, got %v", config.Level)
	}
	if config.Format != FormatText {
		t.Errorf("Expected default format FormatText, got %v", config.Format)
	}
	if !config.IncludeCaller {
		t.Error("Expected IncludeCaller to be true")
	}
}
