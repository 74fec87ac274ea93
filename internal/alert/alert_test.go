package alert

import (
	"errors"
	"testing"
	"time"
)

type captureNotifier struct {
	errorCalls    []string
	recoveryCalls []int
}

func (c *captureNotifier) Notify(string) {}

func (c *captureNotifier) NotifyError(component string, cause error) {
	c.errorCalls = append(c.errorCalls, component)
}

func (c *captureNotifier) NotifyRecovery(component string, failureCount int) {
	c.recoveryCalls = append(c.recoveryCalls, failureCount)
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"key price 60.11", "key price 60\\.11"},
		{"buy_metal*now", "buy\\_metal\\*now"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"spread < 0.33!", "spread < 0\\.33\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFailureTracker_AlertsOnceAndRecovers(t *testing.T) {
	n := &captureNotifier{}
	tr := NewFailureTracker(n, "pricing cycle")

	boom := errors.New("boom")
	tr.Observe(boom)
	tr.Observe(boom)
	tr.Observe(boom)
	if len(n.errorCalls) != 1 {
		t.Fatalf("error notifications = %d, want 1 for the first failure only", len(n.errorCalls))
	}
	if n.errorCalls[0] != "pricing cycle" {
		t.Errorf("component = %q", n.errorCalls[0])
	}

	tr.Observe(nil)
	if len(n.recoveryCalls) != 1 || n.recoveryCalls[0] != 3 {
		t.Fatalf("recovery calls = %v, want one with count 3", n.recoveryCalls)
	}

	// A clean run after recovery stays silent.
	tr.Observe(nil)
	if len(n.errorCalls) != 1 || len(n.recoveryCalls) != 1 {
		t.Errorf("extra notifications after steady state: %d/%d", len(n.errorCalls), len(n.recoveryCalls))
	}

	// The next failure sequence alerts again.
	tr.Observe(boom)
	if len(n.errorCalls) != 2 {
		t.Errorf("new failure sequence should alert, got %d", len(n.errorCalls))
	}
}

func TestNewTelegram_InvalidChatID(t *testing.T) {
	// The chat ID parse runs after the bot token check; an empty token
	// fails fast without a network round trip.
	_, err := NewTelegram("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("expected error for invalid client parameters")
	}
}
