package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-review-bot/internal/bot"
	"github.com/dvloznov/expense-review-bot/internal/domain"
	"github.com/dvloznov/expense-review-bot/internal/ingest"
	"github.com/dvloznov/expense-review-bot/internal/logger"
)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requested []tgbotapi.Chattable
	nextID    int
	sendErr   error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func TestTransport_SendWithChoices(t *testing.T) {
	api := &fakeAPI{nextID: 41}
	tr := NewTransport(api, 0)

	id, err := tr.Send(context.Background(), 7, bot.Outgoing{
		Text:    "pick",
		HTML:    true,
		Choices: [][]bot.Choice{{{Text: "A", Data: "a"}, {Text: "B", Data: "b"}}, {{Text: "C", Data: "c"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	cfg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(7), cfg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, cfg.ParseMode)
	markup := cfg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Equal(t, "c", *markup.InlineKeyboard[1][0].CallbackData)
}

func TestTransport_SendForceReply(t *testing.T) {
	api := &fakeAPI{}
	tr := NewTransport(api, 10)

	_, err := tr.Send(context.Background(), 7, bot.Outgoing{Text: "share?", ForceReply: true, ReplyTo: 5})
	require.NoError(t, err)

	cfg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, 5, cfg.ReplyToMessageID)
	assert.Equal(t, "", cfg.ParseMode)
	fr := cfg.ReplyMarkup.(tgbotapi.ForceReply)
	assert.True(t, fr.ForceReply)
}

func TestTransport_SendError(t *testing.T) {
	boom := errors.New("bot was blocked by the user")
	tr := NewTransport(&fakeAPI{sendErr: boom}, 0)

	_, err := tr.Send(context.Background(), 7, bot.Outgoing{Text: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestTransport_Edit(t *testing.T) {
	api := &fakeAPI{}
	tr := NewTransport(api, 0)

	require.NoError(t, tr.Edit(context.Background(), 7, 9, bot.Outgoing{Text: "done", HTML: true}))
	edit := api.requested[0].(tgbotapi.EditMessageTextConfig)
	assert.Equal(t, 9, edit.MessageID)
	assert.Nil(t, edit.ReplyMarkup)

	require.NoError(t, tr.Edit(context.Background(), 7, 9, bot.Outgoing{Text: "pick", Choices: [][]bot.Choice{{{Text: "A", Data: "a"}}}}))
	edit = api.requested[1].(tgbotapi.EditMessageTextConfig)
	require.NotNil(t, edit.ReplyMarkup)
	assert.Len(t, edit.ReplyMarkup.InlineKeyboard, 1)
}

func TestTransport_CancelledContext(t *testing.T) {
	tr := NewTransport(&fakeAPI{}, 0.001)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Send(ctx, 1, bot.Outgoing{Text: "x"})
	assert.Error(t, err)
}

// fakeResponder records what the router sends.
type fakeResponder struct {
	mu       sync.Mutex
	texts    []string
	answered []string
}

func (f *fakeResponder) Send(_ context.Context, _ int64, out bot.Outgoing) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, out.Text)
	return len(f.texts), nil
}

func (f *fakeResponder) Edit(context.Context, int64, int, bot.Outgoing) error { return nil }

func (f *fakeResponder) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+":"+text)
	return nil
}

type fakeConversations struct {
	mu        sync.Mutex
	callbacks []bot.Callback
	replies   []bot.Reply
	cancels   int
}

func (f *fakeConversations) HandleCallback(_ context.Context, cb bot.Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
}

func (f *fakeConversations) HandleReply(_ context.Context, r bot.Reply) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r)
	return true
}

func (f *fakeConversations) Cancel(context.Context, int64, int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return 0
}

type fakeChecker struct {
	result ingest.Result
	err    error
}

func (f *fakeChecker) Check(context.Context) (ingest.Result, error) { return f.result, f.err }

type fakeAuth struct {
	users map[int64]bool
}

func (f *fakeAuth) IsAuthorized(id int64) bool { return f.users[id] }

func (f *fakeAuth) Add(id int64) (bool, error) {
	added := !f.users[id]
	f.users[id] = true
	return added, nil
}

func command(userID int64, text string) tgbotapi.Update {
	length := len(text)
	if i := strings.Index(text, " "); i >= 0 {
		length = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 100,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ann"},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

type routerFixture struct {
	router *Router
	out    *fakeResponder
	conv   *fakeConversations
	check  *fakeChecker
	auth   *fakeAuth
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		out:   &fakeResponder{},
		conv:  &fakeConversations{},
		check: &fakeChecker{},
		auth:  &fakeAuth{users: map[int64]bool{1: true}},
	}
	f.router = NewRouter(f.conv, f.check, f.auth, f.out, logger.Nop())
	return f
}

func TestRouter_Start(t *testing.T) {
	f := newRouterFixture()
	f.router.HandleUpdate(context.Background(), command(1, "/start"))

	require.Len(t, f.out.texts, 1)
	assert.Contains(t, f.out.texts[0], "Hi Ann!")
}

func TestRouter_Check(t *testing.T) {
	tests := []struct {
		name   string
		result ingest.Result
		err    error
		want   string
	}{
		{name: "none", want: "No new transactions found."},
		{name: "some", result: ingest.Result{Transactions: make([]domain.Transaction, 3)}, want: "Found 3 new transactions."},
		{name: "error", err: errors.New("sheet down"), want: "An error occurred. Please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture()
			f.check.result, f.check.err = tt.result, tt.err

			f.router.HandleUpdate(context.Background(), command(1, "/check"))

			require.Len(t, f.out.texts, 2)
			assert.Equal(t, "Checking for new transactions...", f.out.texts[0])
			assert.Equal(t, tt.want, f.out.texts[1])
		})
	}
}

func TestRouter_Cancel(t *testing.T) {
	f := newRouterFixture()
	f.router.HandleUpdate(context.Background(), command(1, "/cancel"))
	assert.Equal(t, 1, f.conv.cancels)
}

func TestRouter_Authorize(t *testing.T) {
	f := newRouterFixture()

	f.router.HandleUpdate(context.Background(), command(1, "/authorize 42"))
	assert.True(t, f.auth.users[42])
	assert.Equal(t, "User 42 is now authorized.", f.out.texts[0])

	f.router.HandleUpdate(context.Background(), command(1, "/authorize nope"))
	assert.Equal(t, "Usage: /authorize <user_id>", f.out.texts[1])
}

func TestRouter_Unauthorized(t *testing.T) {
	f := newRouterFixture()

	f.router.HandleUpdate(context.Background(), command(2, "/check"))
	require.Len(t, f.out.texts, 1)
	assert.Equal(t, "Sorry, you are not authorized to use this bot.", f.out.texts[0])

	f.router.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: 2},
		Data: "cat_x_0",
	}})
	assert.Empty(t, f.conv.callbacks)
	assert.Equal(t, []string{"cb:Sorry, you are not authorized to use this bot."}, f.out.answered)
}

func TestRouter_CallbackAndReply(t *testing.T) {
	f := newRouterFixture()

	f.router.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{MessageID: 10, Chat: &tgbotapi.Chat{ID: 1}},
		Data:    "share_yes_x",
	}})
	require.Len(t, f.conv.callbacks, 1)
	assert.Equal(t, bot.Callback{UserID: 1, ChatID: 1, MessageID: 10, Data: "share_yes_x"}, f.conv.callbacks[0])
	assert.Equal(t, []string{"cb1:"}, f.out.answered)

	f.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      12,
		From:           &tgbotapi.User{ID: 1},
		Chat:           &tgbotapi.Chat{ID: 1},
		Text:           "40",
		ReplyToMessage: &tgbotapi.Message{MessageID: 11},
	}})
	require.Len(t, f.conv.replies, 1)
	assert.Equal(t, bot.Reply{UserID: 1, ChatID: 1, MessageID: 12, ReplyToMessageID: 11, Text: "40"}, f.conv.replies[0])

	// Plain text that is not a reply is ignored.
	f.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "hello",
	}})
	assert.Len(t, f.conv.replies, 1)
	assert.Empty(t, f.out.texts)
}

func TestRouter_DispatchKeepsPerUserOrder(t *testing.T) {
	f := newRouterFixture()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		f.router.Dispatch(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
			MessageID:      i,
			From:           &tgbotapi.User{ID: 1},
			Chat:           &tgbotapi.Chat{ID: 1},
			Text:           "x",
			ReplyToMessage: &tgbotapi.Message{MessageID: 1},
		}})
	}
	f.router.Wait()

	require.Len(t, f.conv.replies, 50)
	for i, r := range f.conv.replies {
		assert.Equal(t, i, r.MessageID)
	}
}
