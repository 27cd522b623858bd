package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageRunes is Telegram's limit on the text of a single message.
const maxMessageRunes = 4096

var ErrInvalidChatID = errors.New("invalid telegram chat id")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel pushes memo notifications to Telegram chats.
type TelegramChannel struct {
	token  string
	logger *slog.Logger

	mu  sync.Mutex
	bot sender
}

func NewTelegramChannel(token string, logger *slog.Logger) *TelegramChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{token: token, logger: logger}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

// client connects on first use so a daemon with a bad token still starts.
func (t *TelegramChannel) client() (sender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if t.token == "" {
		return nil, errors.New("telegram token not configured")
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot connected", "user", bot.Self.UserName)
	t.bot = bot
	return bot, nil
}

func (t *TelegramChannel) Notify(ctx context.Context, chatID, text string) error {
	id, err := ParseChatID(chatID)
	if err != nil {
		return err
	}
	bot, err := t.client()
	if err != nil {
		return err
	}
	for i, part := range SplitMessage(text, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return fmt.Errorf("send telegram message part %d: %w", i+1, err)
		}
	}
	t.logger.Debug("telegram notification sent", "chat_id", id, "chars", utf8.RuneCountInString(text))
	return nil
}

// ParseChatID accepts numeric chat ids, including negative group ids.
func ParseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChatID, s)
	}
	return id, nil
}

// SplitMessage cuts text into parts of at most limit runes, preferring line
// breaks as cut points.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
