package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWithWriterJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "info")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("k", "v").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %s", out)
	}
	if !strings.Contains(out, `"service":"newsfeed"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := NewWithWriter(&bytes.Buffer{}, "local", "loud"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
}
