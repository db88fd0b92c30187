// Package notify pushes operational alerts (budget exhaustion, rate-limit
// pressure, provider health) to a Telegram chat. Optional: a nil Notifier
// swallows everything.
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender covers the one BotAPI method used, so tests can stub it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends alerts to one chat.
type Notifier struct {
	api    sender
	chatID int64
	logger *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// New creates a Notifier. Returns nil (alerts disabled) when token or
// chatID is unset.
func New(token string, chatID int64, opts ...Option) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: create bot: %w", err)
	}
	n := &Notifier{
		api:    api,
		chatID: chatID,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// BudgetAlert reports a provider crossing a budget threshold.
func (n *Notifier) BudgetAlert(provider string, spent, limit float64) {
	n.send(fmt.Sprintf("💸 Budget alert: %s at $%.2f of $%.2f", provider, spent, limit))
}

// RateLimitAlert reports an exhausted token bucket.
func (n *Notifier) RateLimitAlert(provider string, availableTokens int) {
	n.send(fmt.Sprintf("⏳ Rate limit: %s down to %d tokens", provider, availableTokens))
}

// HealthAlert reports an unhealthy provider.
func (n *Notifier) HealthAlert(provider, detail string) {
	n.send(fmt.Sprintf("🚨 Health: %s unhealthy (%s)", provider, detail))
}

// send is fire-and-forget: alert delivery failures are logged, never
// propagated into request handling.
func (n *Notifier) send(text string) {
	if n == nil {
		return
	}
	if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		n.logger.Warn("notify: send failed", "error", err)
	}
}
