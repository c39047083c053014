// Package bot drives the review conversation for each transaction: pick a
// category, say whether the expense was shared, enter a share when it was,
// then persist.
package bot

import (
	"context"
	"fmt"
	"html"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/conversation"
	"github.com/dvloznov/expense-review-bot/internal/domain"
	"github.com/dvloznov/expense-review-bot/internal/logger"
)

// Choice is one inline button.
type Choice struct {
	Text string
	Data string
}

// Outgoing is a message to send or the new content of an edited message.
type Outgoing struct {
	Text       string
	HTML       bool
	Choices    [][]Choice
	ForceReply bool
	ReplyTo    int
}

// Transport delivers messages to a chat.
type Transport interface {
	Send(ctx context.Context, chatID int64, msg Outgoing) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, msg Outgoing) error
}

// Persister stores a finalized transaction and reports whether the
// record-of-truth accepted it.
type Persister interface {
	Write(ctx context.Context, tx domain.Transaction) bool
}

// Callback is a press on an inline button.
type Callback struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// Reply is a free-text message sent as a reply to an earlier message.
type Reply struct {
	UserID           int64
	ChatID           int64
	MessageID        int
	ReplyToMessageID int
	Text             string
}

// Machine runs the review conversations. Events for one user are handled
// one at a time; different users proceed in parallel.
type Machine struct {
	store     *conversation.Store
	transport Transport
	persister Persister
	locks     *keyedMutex
	log       zerolog.Logger
}

// NewMachine creates a Machine.
func NewMachine(store *conversation.Store, transport Transport, persister Persister, log zerolog.Logger) *Machine {
	return &Machine{
		store:     store,
		transport: transport,
		persister: persister,
		locks:     newKeyedMutex(),
		log:       log.With().Str("component", "machine").Logger(),
	}
}

// Notify sends the new-transaction message to the user and opens the
// conversation in SelectingCategory. Private chats share the user's ID.
func (m *Machine) Notify(ctx context.Context, userID int64, tx domain.Transaction) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	msgID, err := m.transport.Send(ctx, userID, Outgoing{
		Text:    notificationText(tx),
		HTML:    true,
		Choices: categoryKeyboard(tx.TransactionID),
	})
	if err != nil {
		return fmt.Errorf("Machine.Notify: send to %d: %w", userID, err)
	}

	m.store.Open(userID, tx, conversation.SelectingCategory{})
	m.store.LinkMessage(userID, tx.TransactionID, msgID)

	txLog := logger.ForTransaction(m.log, userID, tx.TransactionID)
	txLog.Info().
		Int("message_id", msgID).
		Msg("conversation opened")
	return nil
}

// HandleCallback applies an inline button press.
func (m *Machine) HandleCallback(ctx context.Context, cb Callback) {
	unlock := m.locks.Lock(cb.UserID)
	defer unlock()

	act, err := parseCallback(cb.Data)
	if err != nil {
		m.log.Warn().Err(err).Int64("user_id", cb.UserID).Msg("ignoring callback")
		return
	}

	log := logger.ForTransaction(m.log, cb.UserID, act.transactionID)
	edit := m.editor(ctx, cb.ChatID, cb.MessageID, log)

	if act.kind == actionCancel {
		m.store.Close(cb.UserID, act.transactionID)
		edit(Outgoing{Text: msgCancelled})
		log.Info().Msg("conversation cancelled")
		return
	}

	entry, ok := m.store.Get(cb.UserID, act.transactionID)
	if !ok || entry.Transaction == nil {
		m.store.Close(cb.UserID, act.transactionID)
		edit(Outgoing{Text: msgContextNotFound})
		log.Warn().Bool("entry", ok).Msg("conversation context not found")
		return
	}

	switch act.kind {
	case actionCategory:
		m.selectCategory(entry, act.index, edit, log)
	case actionShared, actionSolo:
		m.selectSharing(ctx, cb, entry, act.kind == actionShared, edit, log)
	}
}

func (m *Machine) selectCategory(entry conversation.Entry, index int, edit respondFunc, log zerolog.Logger) {
	if entry.State.Kind() != conversation.KindSelectingCategory {
		log.Info().Str("state", entry.StateName).Msg("ignoring stale category choice")
		return
	}

	if index < 0 || index >= len(Categories) {
		m.store.Close(entry.UserID, entry.TransactionID)
		edit(Outgoing{Text: msgGeneralError})
		log.Error().Int("index", index).Msg("category index out of range")
		return
	}

	category := Categories[index]
	m.store.SetCategory(entry.UserID, entry.TransactionID, category)
	m.store.Transition(entry.UserID, entry.TransactionID, conversation.SelectingSharingType{Category: category})

	edit(Outgoing{
		Text:    fmt.Sprintf(msgCategorySelected, html.EscapeString(category)),
		HTML:    true,
		Choices: sharingKeyboard(entry.TransactionID),
	})
	log.Info().Str("category", category).Msg("category selected")
}

func (m *Machine) selectSharing(ctx context.Context, cb Callback, entry conversation.Entry, shared bool, edit respondFunc, log zerolog.Logger) {
	if entry.State.Kind() != conversation.KindSelectingSharingType {
		log.Info().Str("state", entry.StateName).Msg("ignoring stale sharing choice")
		return
	}

	userID, txID := entry.UserID, entry.TransactionID
	m.store.SetIsShared(userID, txID, shared)

	if !shared {
		m.store.SetUserShare(userID, txID, entry.Transaction.Amount)
		log.Info().Msg("solo expense")
		m.complete(ctx, userID, txID, edit, log)
		return
	}

	edit(Outgoing{
		Text: fmt.Sprintf(msgSharedExpense, domain.FormatAmount(entry.Transaction.Amount)),
		HTML: true,
	})

	promptID, err := m.transport.Send(ctx, cb.ChatID, Outgoing{
		Text:       msgSharePrompt,
		ForceReply: true,
		ReplyTo:    cb.MessageID,
	})
	if err != nil {
		// Still waiting for the amount; a reply to the edited message works too.
		log.Error().Err(err).Msg("failed to send share prompt")
		m.store.LinkMessage(userID, txID, cb.MessageID)
		m.store.Transition(userID, txID, conversation.EnteringShareAmount{PromptMessageID: cb.MessageID})
		return
	}

	m.store.LinkMessage(userID, txID, promptID)
	m.store.Transition(userID, txID, conversation.EnteringShareAmount{PromptMessageID: promptID})
	log.Info().Int("prompt_id", promptID).Msg("waiting for share amount")
}

// HandleReply applies a free-text reply. It reports whether the reply
// belonged to a conversation waiting for a share amount; other replies are
// left untouched.
func (m *Machine) HandleReply(ctx context.Context, r Reply) bool {
	unlock := m.locks.Lock(r.UserID)
	defer unlock()

	txID, entry, ok := m.awaitingReply(r.UserID, r.ReplyToMessageID)
	if !ok {
		return false
	}

	log := logger.ForTransaction(m.log, r.UserID, txID)
	reply := m.replier(ctx, r.ChatID, r.MessageID, log)

	if entry.Transaction == nil {
		m.store.Close(r.UserID, txID)
		reply(Outgoing{Text: msgContextNotFound})
		return true
	}

	share, err := domain.ParseShare(r.Text)
	switch {
	case err != nil:
		m.reprompt(ctx, r, txID, msgInvalidFormat, log)
		return true
	case share.IsNegative():
		m.reprompt(ctx, r, txID, msgInvalidNegative, log)
		return true
	case share.GreaterThan(entry.Transaction.Amount):
		m.reprompt(ctx, r, txID, fmt.Sprintf(msgInvalidExceeds,
			domain.FormatAmount(share), domain.FormatAmount(entry.Transaction.Amount)), log)
		return true
	}

	m.store.SetUserShare(r.UserID, txID, share)
	log.Info().Str("share", domain.FormatAmount(share)).Msg("share amount entered")
	m.complete(ctx, r.UserID, txID, reply, log)
	return true
}

// awaitingReply finds the conversation in EnteringShareAmount that owns
// the replied-to message.
func (m *Machine) awaitingReply(userID int64, replyTo int) (string, conversation.Entry, bool) {
	if replyTo == 0 {
		return "", conversation.Entry{}, false
	}

	txID, ok := m.store.Resolve(userID, replyTo)
	if !ok {
		return "", conversation.Entry{}, false
	}

	waiting := m.store.FindByState(userID, conversation.KindEnteringShareAmount)
	entry, ok := waiting[txID]
	if !ok {
		return "", conversation.Entry{}, false
	}
	for _, id := range entry.RelatedMessageIDs {
		if id == replyTo {
			return txID, entry, true
		}
	}
	return "", conversation.Entry{}, false
}

func (m *Machine) reprompt(ctx context.Context, r Reply, txID, text string, log zerolog.Logger) {
	log.Info().Str("input", r.Text).Msg("rejected share amount")

	promptID, err := m.transport.Send(ctx, r.ChatID, Outgoing{
		Text:       text,
		ForceReply: true,
		ReplyTo:    r.MessageID,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to send re-prompt")
		return
	}
	m.store.LinkMessage(r.UserID, txID, promptID)
	m.store.Transition(r.UserID, txID, conversation.EnteringShareAmount{PromptMessageID: promptID})
}

// complete persists the transaction and always removes the conversation.
func (m *Machine) complete(ctx context.Context, userID int64, txID string, respond respondFunc, log zerolog.Logger) {
	defer m.store.Close(userID, txID)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("completing transaction panicked")
			func() {
				defer func() { _ = recover() }()
				respond(Outgoing{Text: msgGeneralError})
			}()
		}
	}()

	entry, ok := m.store.Get(userID, txID)
	if !ok || entry.Transaction == nil {
		respond(Outgoing{Text: msgContextNotFound})
		return
	}

	tx := entry.Transaction.Clone()
	if !tx.Shared() {
		tx.UserShare = tx.Amount
	}
	m.store.Transition(userID, txID, conversation.Completed{})

	if m.persister.Write(ctx, tx) {
		respond(Outgoing{Text: updatedText(tx), HTML: true})
		log.Info().Str("category", tx.CategoryName()).Bool("shared", tx.Shared()).Msg("transaction completed")
		return
	}

	respond(Outgoing{Text: msgUpdateFailed, HTML: true})
	log.Error().Msg("transaction not persisted")
}

// Cancel abandons every open conversation of the user without persisting.
func (m *Machine) Cancel(ctx context.Context, userID, chatID int64) int {
	unlock := m.locks.Lock(userID)
	defer unlock()

	closed := m.store.CloseAll(userID)

	text := msgNothingToCancel
	if len(closed) > 0 {
		text = fmt.Sprintf(msgCancelledAll, len(closed))
	}
	if _, err := m.transport.Send(ctx, chatID, Outgoing{Text: text}); err != nil {
		m.log.Error().Err(err).Int64("user_id", userID).Msg("failed to confirm cancel")
	}

	m.log.Info().Int64("user_id", userID).Int("closed", len(closed)).Msg("conversations cancelled")
	return len(closed)
}

type respondFunc func(Outgoing)

func (m *Machine) editor(ctx context.Context, chatID int64, messageID int, log zerolog.Logger) respondFunc {
	return func(out Outgoing) {
		if err := m.transport.Edit(ctx, chatID, messageID, out); err != nil {
			log.Error().Err(err).Int("message_id", messageID).Msg("failed to edit message")
		}
	}
}

func (m *Machine) replier(ctx context.Context, chatID int64, replyTo int, log zerolog.Logger) respondFunc {
	return func(out Outgoing) {
		out.ReplyTo = replyTo
		if _, err := m.transport.Send(ctx, chatID, out); err != nil {
			log.Error().Err(err).Msg("failed to send reply")
		}
	}
}
