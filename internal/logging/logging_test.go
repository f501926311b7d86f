package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}

	logger, err = New("warn", "console")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info level to be disabled")
	}

	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
