package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

// telegramTextLimit is the Bot API message size limit in characters.
const telegramTextLimit = 4096

var (
	// ErrInvalidTelegramConfig is returned by NewTelegram without token or chat.
	ErrInvalidTelegramConfig = errors.New("invalid telegram config")

	_ dispatch.Transport = (*Telegram)(nil)
)

// Telegram posts notifications to one chat (and optionally one forum topic) through a bot.
// The bot never polls for updates.
type Telegram struct {
	bot      *tele.Bot
	chatID   int64
	threadID int
}

// NewTelegram returns a Telegram transport. APIURL overrides the Bot API endpoint.
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	switch {
	case strings.TrimSpace(cfg.Token) == "":
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidTelegramConfig)
	case cfg.ChatID == 0:
		return nil, fmt.Errorf("%w: chat_id is required", ErrInvalidTelegramConfig)
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init failed: %w", err)
	}

	return &Telegram{bot: bot, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

// Name implements dispatch.Transport.
func (t *Telegram) Name() string { return "telegram" }

// Send implements dispatch.Transport.
func (t *Telegram) Send(ctx context.Context, n dispatch.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := truncateText(Subject(n)+"\n\n"+Body(n), telegramTextLimit)

	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ThreadID:              t.threadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}

	return nil
}

// truncateText cuts s to at most limit runes, marking the cut with an ellipsis.
func truncateText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return string(runes[:limit-1]) + "…"
}
