package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	maxMessageLen  = 4096
)

// Notifier sends operator alerts to a Telegram chat via the bot API.
// A notifier without token or chat id silently drops messages.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(cfg config.TelegramConfig) *Notifier {
	return &Notifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether messages will be delivered.
func (n *Notifier) Enabled() bool {
	return n != nil && n.botToken != "" && n.chatID != ""
}

// Notify posts a plain-text message to the configured chat.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(n.apiBase, "/"), n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", truncate(message, maxMessageLen))
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
