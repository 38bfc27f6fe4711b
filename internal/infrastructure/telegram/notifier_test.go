package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"NewsDesk/internal/config"
)

func TestNotifierSendsMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("chat_id") != "42" || r.PostForm.Get("text") != "scrape failed" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "TOKEN", ChatID: "42"})
	n.apiBase = srv.URL
	n.client = srv.Client()

	if err := n.Notify(context.Background(), "scrape failed"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestNotifierReportsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "bad", ChatID: "42"})
	n.apiBase = srv.URL
	n.client = srv.Client()

	if err := n.Notify(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestNotifierDisabledIsNoop(t *testing.T) {
	t.Parallel()

	n := NewNotifier(config.TelegramConfig{})
	if n.Enabled() {
		t.Fatalf("notifier without token must be disabled")
	}
	if err := n.Notify(context.Background(), "ignored"); err != nil {
		t.Fatalf("disabled notifier returned %v", err)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("я", 10)
	got := truncate(long, 5)
	if utf8.RuneCountInString(got) != 5 || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if truncate("short", 5) != "short" {
		t.Fatalf("short message must be kept")
	}
}
