// Package telegram sends mirrored log lines to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Sender implements logx.Sender on top of telebot.
//
// The bot runs offline (no poller, no getMe on startup); it only sends.
type Sender struct {
	bot *tele.Bot
}

func New(token string) (*Sender, error) {
	return newSender(token, "")
}

// newSender with an empty apiURL uses the public Bot API.
func newSender(token, apiURL string) (*Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b}, nil
}

func (s *Sender) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              threadID,
	})
	return err
}
