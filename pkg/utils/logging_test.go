package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{name: "trace level", input: "TRACE", expected: TRACE},
		{name: "debug level", input: "DEBUG", expected: DEBUG},
		{name: "info level", input: "INFO", expected: INFO},
		{name: "warn level", input: "WARN", expected: WARN},
		{name: "warning level", input: "WARNING", expected: WARN},
		{name: "error level", input: "ERROR", expected: ERROR},
		{name: "fatal level", input: "FATAL", expected: FATAL},
		{name: "case insensitive", input: "debug", expected: DEBUG},
		{name: "invalid level", input: "LOUD", expected: INFO, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if result != tt.expected {
				t.Errorf("ParseLogLevel() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{TRACE, "TRACE"},
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{FATAL, "FATAL"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.level.String(); result != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	for input, want := range map[string]LogFormat{"": FormatText, "text": FormatText, "JSON": FormatJSON} {
		got, err := ParseLogFormat(input)
		if err != nil {
			t.Errorf("ParseLogFormat(%q) error = %v", input, err)
		}
		if got != want {
			t.Errorf("ParseLogFormat(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Error("ParseLogFormat(xml) should fail")
	}
}

func TestSetupLogging(t *testing.T) {
	t.Run("writes to file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "exrcache.log")

		logger, closer, err := SetupLogging("debug", "text", logFile)
		if err != nil {
			t.Fatalf("SetupLogging() error = %v", err)
		}
		logger.WithComponent("pool").Info("pool configured", map[string]interface{}{"capacity": 3})
		if err := closer.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		data, err := os.ReadFile(logFile)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !strings.Contains(string(data), "pool configured {capacity=3, component=pool}") {
			t.Errorf("unexpected log file content: %s", data)
		}
	})

	t.Run("rejects bad level", func(t *testing.T) {
		if _, _, err := SetupLogging("chatty", "text", ""); err == nil {
			t.Error("expected error for invalid level")
		}
	})

	t.Run("rejects bad format", func(t *testing.T) {
		if _, _, err := SetupLogging("info", "yaml", ""); err == nil {
			t.Error("expected error for invalid format")
		}
	})

	t.Run("stderr closer is a no-op", func(t *testing.T) {
		logger, closer, err := SetupLogging("info", "", "")
		if err != nil {
			t.Fatalf("SetupLogging() error = %v", err)
		}
		if logger.GetLevel() != INFO {
			t.Errorf("level = %v, want INFO", logger.GetLevel())
		}
		if err := closer.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{"zero bytes", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1024, "1.0 KB"},
		{"megabytes", 1024 * 1024, "1.0 MB"},
		{"gigabytes", 1024 * 1024 * 1024, "1.0 GB"},
		{"fractional", 1536, "1.5 KB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := FormatBytes(tt.bytes); result != tt.expected {
				t.Errorf("FormatBytes() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
		wantErr  bool
	}{
		{name: "bytes", input: "512", expected: 512},
		{name: "bytes with B suffix", input: "512B", expected: 512},
		{name: "kilobytes", input: "2KB", expected: 2048},
		{name: "megabytes", input: "5M", expected: 5 * 1024 * 1024},
		{name: "gigabytes", input: "4GB", expected: 4 * 1024 * 1024 * 1024},
		{name: "fractional", input: "1.5K", expected: 1536},
		{name: "lowercase with spaces", input: " 8 mb ", expected: 8 * 1024 * 1024},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "lots", wantErr: true},
		{name: "negative", input: "-1G", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseBytes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseBytes() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && result != tt.expected {
				t.Errorf("ParseBytes() = %v, want %v", result, tt.expected)
			}
		})
	}
}
