package utils

import (
	"context"
	"strings"
	"testing"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
		{59.9, "00:00:59"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err := cmd.Run(); err == nil {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(cmd.Logs(), "boom") {
		t.Errorf("stderr not captured, got %q", cmd.Logs())
	}

	var nilCmd *SafeCommand
	if nilCmd.Logs() != "" {
		t.Error("nil SafeCommand should have no logs")
	}
}
