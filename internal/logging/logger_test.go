package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "not-a-level", "ledger")

	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"service":"ledger"`) {
		t.Fatalf("expected service attribute: %s", out)
	}
}
