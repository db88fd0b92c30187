package notify

import (
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func TestNew_DisabledWithoutToken(t *testing.T) {
	n, err := New("", 0)
	if err != nil || n != nil {
		t.Fatalf("expected nil notifier: %v %v", n, err)
	}
}

func TestNilNotifierIsNoOp(t *testing.T) {
	var n *Notifier
	// Must not panic.
	n.BudgetAlert("serpapi", 95, 100)
	n.RateLimitAlert("serpapi", 0)
	n.HealthAlert("serpapi", "timeout")
}

func TestAlerts(t *testing.T) {
	f := &fakeSender{}
	n := &Notifier{api: f, chatID: 42, logger: slog.New(slog.DiscardHandler)}

	n.BudgetAlert("serpapi", 95.5, 100)
	n.RateLimitAlert("dataforseo", 2)
	n.HealthAlert("clearbit", "http 503")

	if len(f.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(f.sent))
	}
	if !strings.Contains(f.sent[0], "serpapi") || !strings.Contains(f.sent[0], "$95.50") {
		t.Fatalf("budget alert text: %q", f.sent[0])
	}
	if !strings.Contains(f.sent[1], "2 tokens") {
		t.Fatalf("rate alert text: %q", f.sent[1])
	}
}
