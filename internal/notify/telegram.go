package notify

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v3"
)

// TelegramSink pushes alerts to a single chat. Notification only, no
// command handling.
type TelegramSink struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: b, chat: &tele.Chat{ID: chatID}}, nil
}

func (s *TelegramSink) Send(_ context.Context, text string) error {
	if _, err := s.bot.Send(s.chat, text); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
