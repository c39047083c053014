// Package telegram connects the review machine to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/dvloznov/expense-review-bot/internal/bot"
)

// API is the subset of *tgbotapi.BotAPI used here.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ API = (*tgbotapi.BotAPI)(nil)

// Transport implements bot.Transport. Every outgoing call waits on a shared
// limiter so bursts of notifications stay under Telegram's flood limits.
type Transport struct {
	api     API
	limiter *rate.Limiter
}

var _ bot.Transport = (*Transport)(nil)

// NewTransport sends through api at no more than perSecond calls per
// second. A non-positive rate disables limiting.
func NewTransport(api API, perSecond float64) *Transport {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Transport{api: api, limiter: rate.NewLimiter(limit, burst)}
}

// Send implements bot.Transport.
func (t *Transport) Send(ctx context.Context, chatID int64, out bot.Outgoing) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("telegram.Send: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, out.Text)
	if out.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if out.ReplyTo != 0 {
		msg.ReplyToMessageID = out.ReplyTo
	}
	switch {
	case out.ForceReply:
		msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	case len(out.Choices) > 0:
		msg.ReplyMarkup = keyboard(out.Choices)
	}

	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("telegram.Send: chat %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

// Edit implements bot.Transport.
func (t *Transport) Edit(ctx context.Context, chatID int64, messageID int, out bot.Outgoing) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram.Edit: %w", err)
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, out.Text)
	if out.HTML {
		edit.ParseMode = tgbotapi.ModeHTML
	}
	if len(out.Choices) > 0 {
		kb := keyboard(out.Choices)
		edit.ReplyMarkup = &kb
	}

	if _, err := t.api.Request(edit); err != nil {
		return fmt.Errorf("telegram.Edit: chat %d message %d: %w", chatID, messageID, err)
	}
	return nil
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram.AnswerCallback: %w", err)
	}
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram.AnswerCallback: %w", err)
	}
	return nil
}

func keyboard(choices [][]bot.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, row := range choices {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, c := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Text, c.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
