package telegram

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/bot"
	"github.com/dvloznov/expense-review-bot/internal/ingest"
)

// Bot command names.
const (
	CmdStart     = "start"
	CmdCheck     = "check"
	CmdCancel    = "cancel"
	CmdAuthorize = "authorize"
)

// Conversations is the review machine as seen by the router.
type Conversations interface {
	HandleCallback(ctx context.Context, cb bot.Callback)
	HandleReply(ctx context.Context, r bot.Reply) bool
	Cancel(ctx context.Context, userID, chatID int64) int
}

// Checker runs an on-demand poll.
type Checker interface {
	Check(ctx context.Context) (ingest.Result, error)
}

// Authorizer decides who may use the bot.
type Authorizer interface {
	IsAuthorized(userID int64) bool
	Add(userID int64) (bool, error)
}

// Responder sends replies and acknowledges button presses.
type Responder interface {
	bot.Transport
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Router turns Telegram updates into machine events and command replies.
type Router struct {
	conversations Conversations
	checker       Checker
	auth          Authorizer
	out           Responder
	lanes         *lanes
	log           zerolog.Logger
}

// NewRouter wires a router.
func NewRouter(conversations Conversations, checker Checker, auth Authorizer, out Responder, log zerolog.Logger) *Router {
	return &Router{
		conversations: conversations,
		checker:       checker,
		auth:          auth,
		out:           out,
		lanes:         newLanes(),
		log:           log.With().Str("component", "router").Logger(),
	}
}

// Run long-polls api until ctx is done, then waits for in-flight updates.
func (r *Router) Run(ctx context.Context, api API) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	r.log.Info().Msg("listening for updates")
	defer r.lanes.wait()

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			r.log.Info().Msg("stopped listening for updates")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			r.Dispatch(ctx, update)
		}
	}
}

// Dispatch queues an update behind the same user's earlier updates.
func (r *Router) Dispatch(ctx context.Context, update tgbotapi.Update) {
	userID := senderID(update)
	if userID == 0 {
		return
	}
	r.lanes.submit(userID, func() { r.HandleUpdate(ctx, update) })
}

// Wait blocks until dispatched updates are handled.
func (r *Router) Wait() {
	r.lanes.wait()
}

func senderID(update tgbotapi.Update) int64 {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	}
	return 0
}

// HandleUpdate processes one update synchronously.
func (r *Router) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Int("update_id", update.UpdateID).
				Msg("panic handling update")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	}
}

func (r *Router) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	log := r.log.With().Int64("user_id", cq.From.ID).Logger()

	if !r.auth.IsAuthorized(cq.From.ID) {
		if err := r.out.AnswerCallback(ctx, cq.ID, bot.UnauthorizedText()); err != nil {
			log.Warn().Err(err).Msg("failed to answer callback")
		}
		log.Warn().Msg("callback from unauthorized user")
		return
	}

	if err := r.out.AnswerCallback(ctx, cq.ID, ""); err != nil {
		log.Warn().Err(err).Msg("failed to answer callback")
	}
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}

	r.conversations.HandleCallback(ctx, bot.Callback{
		UserID:    cq.From.ID,
		ChatID:    cq.Message.Chat.ID,
		MessageID: cq.Message.MessageID,
		Data:      cq.Data,
	})
}

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	userID, chatID := msg.From.ID, msg.Chat.ID
	log := r.log.With().Int64("user_id", userID).Logger()

	if !r.auth.IsAuthorized(userID) {
		log.Warn().Str("text", msg.Text).Msg("message from unauthorized user")
		r.send(ctx, chatID, bot.Outgoing{Text: bot.UnauthorizedText()})
		return
	}

	if msg.IsCommand() {
		r.handleCommand(ctx, msg)
		return
	}

	if msg.ReplyToMessage != nil {
		handled := r.conversations.HandleReply(ctx, bot.Reply{
			UserID:           userID,
			ChatID:           chatID,
			MessageID:        msg.MessageID,
			ReplyToMessageID: msg.ReplyToMessage.MessageID,
			Text:             msg.Text,
		})
		if !handled {
			log.Debug().Int("reply_to", msg.ReplyToMessage.MessageID).Msg("reply matched no conversation")
		}
	}
}

func (r *Router) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID, chatID := msg.From.ID, msg.Chat.ID
	log := r.log.With().Int64("user_id", userID).Str("command", msg.Command()).Logger()

	switch msg.Command() {
	case CmdStart:
		r.send(ctx, chatID, bot.Outgoing{Text: bot.StartText(msg.From.FirstName), HTML: true})

	case CmdCheck:
		r.send(ctx, chatID, bot.Outgoing{Text: bot.CheckingText()})
		res, err := r.checker.Check(ctx)
		if err != nil {
			log.Error().Err(err).Msg("on-demand check failed")
			r.send(ctx, chatID, bot.Outgoing{Text: bot.GeneralErrorText()})
			return
		}
		r.send(ctx, chatID, bot.Outgoing{Text: bot.CheckResultText(len(res.Transactions))})

	case CmdCancel:
		r.conversations.Cancel(ctx, userID, chatID)

	case CmdAuthorize:
		id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
		if err != nil || id <= 0 {
			r.send(ctx, chatID, bot.Outgoing{Text: bot.AuthorizeUsageText()})
			return
		}
		added, err := r.auth.Add(id)
		if err != nil {
			log.Error().Err(err).Int64("target", id).Msg("failed to authorize user")
			r.send(ctx, chatID, bot.Outgoing{Text: bot.GeneralErrorText()})
			return
		}
		log.Info().Int64("target", id).Bool("added", added).Msg("user authorized")
		r.send(ctx, chatID, bot.Outgoing{Text: bot.AuthorizedText(id)})

	default:
		log.Debug().Msg("unknown command")
	}
}

func (r *Router) send(ctx context.Context, chatID int64, out bot.Outgoing) {
	if _, err := r.out.Send(ctx, chatID, out); err != nil {
		r.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}
