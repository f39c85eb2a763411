package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Errorf("Expected an error for an unknown level")
	}
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	l := CreateLogger("unit")
	l.SetLevel(logger.WARNING)

	l.Infof("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("Expected info message to be filtered, got %q", buf.String())
	}

	l.Warningf("shown %d", 2)
	line := buf.String()
	if !strings.Contains(line, "WARN  | unit       | shown 2") {
		t.Errorf("Unexpected log line %q", line)
	}
}

func TestInitLoggersRejectsInvalidLevel(t *testing.T) {
	if err := InitLoggers("loud"); err == nil {
		t.Errorf("Expected InitLoggers to fail for an invalid level")
	}
	if err := InitLoggers("error"); err != nil {
		t.Errorf("InitLoggers failed: %v", err)
	}
}
