package channels

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Compile-time interface check: TelegramChannel must implement Channel.
var _ Channel = (*TelegramChannel)(nil)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramChannel_Name(t *testing.T) {
	ch := NewTelegramChannel("fake-token", nil)
	if got := ch.Name(); got != "telegram" {
		t.Fatalf("Name() = %q, want %q", got, "telegram")
	}
}

func TestTelegramChannel_NotifySends(t *testing.T) {
	fake := &fakeSender{}
	ch := NewTelegramChannel("fake-token", nil)
	ch.bot = fake

	if err := ch.Notify(context.Background(), "-100123", "Memo ready"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.sent) != 1 || fake.sent[0].ChatID != -100123 || fake.sent[0].Text != "Memo ready" {
		t.Fatalf("sent = %+v", fake.sent)
	}
}

func TestTelegramChannel_NotifySplitsLongText(t *testing.T) {
	fake := &fakeSender{}
	ch := NewTelegramChannel("fake-token", nil)
	ch.bot = fake

	text := strings.Repeat("a", maxMessageRunes) + "b"
	if err := ch.Notify(context.Background(), "42", text); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.sent) != 2 || fake.sent[1].Text != "b" {
		t.Fatalf("expected two parts, got %d", len(fake.sent))
	}
}

func TestTelegramChannel_NotifyErrors(t *testing.T) {
	ch := NewTelegramChannel("", nil)
	if err := ch.Notify(context.Background(), "abc", "x"); !errors.Is(err, ErrInvalidChatID) {
		t.Fatalf("expected ErrInvalidChatID, got %v", err)
	}
	if err := ch.Notify(context.Background(), "42", "x"); err == nil {
		t.Fatal("expected missing token error")
	}

	ch.bot = &fakeSender{err: errors.New("forbidden")}
	if err := ch.Notify(context.Background(), "42", "x"); err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	got := SplitMessage("line one\nline two\nline three", 12)
	want := []string{"line one\n", "line two\n", "line three"}
	if len(got) != len(want) {
		t.Fatalf("parts = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("part %d = %q, want %q", i, got[i], want[i])
		}
	}
	if parts := SplitMessage("short", 4096); len(parts) != 1 || parts[0] != "short" {
		t.Fatalf("parts = %q", parts)
	}
	if parts := SplitMessage("abcdef", 4); len(parts) != 2 || parts[0] != "abcd" || parts[1] != "ef" {
		t.Fatalf("parts = %q", parts)
	}
}
