package telegram

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// telebotSender is the production Sender. The bot is send-only: no poller is
// attached and Start is never called on it.
type telebotSender struct {
	bot *tele.Bot
}

func newTelebotSender(token string) (Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errNoToken
	}
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &telebotSender{bot: bot}, nil
}

func (t *telebotSender) Send(ctx context.Context, chatID int64, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}
