package telegram

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_lottery_bot/internal/config"
	"tg_lottery_bot/internal/feature/command"
)

type fakeBot struct {
	startedWith context.Context
	sent        []*bot.SendMessageParams
	answered    []*bot.AnswerCallbackQueryParams
	commands    []*bot.SetMyCommandsParams
	webhook     []*bot.DeleteWebhookParams
	sendErr     error
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	return &models.Message{}, nil
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.answered = append(f.answered, params)
	return true, nil
}

func (f *fakeBot) SetMyCommands(_ context.Context, params *bot.SetMyCommandsParams) (bool, error) {
	f.commands = append(f.commands, params)
	return true, nil
}

func (f *fakeBot) DeleteWebhook(_ context.Context, params *bot.DeleteWebhookParams) (bool, error) {
	f.webhook = append(f.webhook, params)
	return true, nil
}

type fakeDispatcher struct {
	handled   []command.Request
	callbacks []string
	reply     command.Reply
}

func (f *fakeDispatcher) Handle(_ context.Context, req command.Request) command.Reply {
	f.handled = append(f.handled, req)
	return f.reply
}

func (f *fakeDispatcher) HandleCallback(_ context.Context, req command.Request, data string) command.Reply {
	f.handled = append(f.handled, req)
	f.callbacks = append(f.callbacks, data)
	return f.reply
}

func (f *fakeDispatcher) RateLimited(command.Request) command.Reply {
	return command.Reply{Text: "slow down"}
}

func (f *fakeDispatcher) Menu(lang string) []command.MenuCommand {
	return []command.MenuCommand{{Command: "start", Description: "start-" + lang}}
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   []int64
}

func (f *fakeLimiter) Allow(_ context.Context, userID int64) (bool, error) {
	f.calls = append(f.calls, userID)
	return f.allowed, f.err
}

func newTestClient(t *testing.T, reply command.Reply) (*Client, *fakeBot, *fakeDispatcher, *logtest.Hook) {
	t.Helper()

	hookLogger, hook := logtest.NewNullLogger()
	hookLogger.SetLevel(logrus.DebugLevel)
	fb := &fakeBot{}
	fd := &fakeDispatcher{reply: reply}

	return &Client{
		bot:        fb,
		dispatcher: fd,
		logger:     logrus.NewEntry(hookLogger),
	}, fb, fd, hook
}

func messageUpdate(userID int64, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			From: &models.User{ID: userID, Username: "alice", FirstName: "Alice", LanguageCode: "zh-hans"},
			Chat: models.Chat{ID: userID},
			Text: text,
		},
	}
}

func TestNewClientCreatesBot(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotToken string
	var gotOptions []bot.Option
	b := &fakeBot{}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		gotToken = token
		gotOptions = options
		return b, nil
	}

	cfg := config.Config{TelegramToken: "token-123"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := NewClient(cfg, &fakeDispatcher{}, nil, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if client == nil || client.bot == nil {
		t.Fatalf("expected client and bot to be initialized")
	}

	if gotToken != cfg.TelegramToken {
		t.Fatalf("expected token %q, got %q", cfg.TelegramToken, gotToken)
	}

	if len(gotOptions) != 4 {
		t.Fatalf("expected 4 bot options (allowed updates, default handler, error handler, middleware), got %d", len(gotOptions))
	}
}

func TestNewClientValidatesInputs(t *testing.T) {
	if _, err := NewClient(config.Config{}, &fakeDispatcher{}, nil, nil); err == nil {
		t.Fatalf("expected error for missing token")
	}
	if _, err := NewClient(config.Config{TelegramToken: "token"}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for missing dispatcher")
	}
}

func TestNewClientPropagatesBotError(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	expected := errors.New("boom")
	createBot = func(string, ...bot.Option) (botAPI, error) {
		return nil, expected
	}

	_, err := NewClient(config.Config{TelegramToken: "token"}, &fakeDispatcher{}, nil, nil)
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestClientStartLogsAndUsesContext(t *testing.T) {
	client, fb, _, hook := newTestClient(t, command.Reply{})

	ctx := context.Background()
	client.Start(ctx)

	if fb.startedWith != ctx {
		t.Fatalf("expected bot to start with provided context")
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries (start/stop), got %d", len(entries))
	}

	if entries[0].Data["event"] != "telegram_listen" {
		t.Fatalf("expected start log event, got %v", entries[0].Data["event"])
	}
	if entries[1].Data["event"] != "telegram_stopped" {
		t.Fatalf("expected stop log event, got %v", entries[1].Data["event"])
	}
}

func TestSetupDropsPendingUpdatesAndRegistersMenus(t *testing.T) {
	client, fb, _, _ := newTestClient(t, command.Reply{})

	if err := client.Setup(context.Background(), []string{"en", "ru", "zh"}); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}

	if len(fb.webhook) != 1 || !fb.webhook[0].DropPendingUpdates {
		t.Fatalf("expected webhook deletion with pending updates dropped, got %+v", fb.webhook)
	}

	var got []string
	for _, params := range fb.commands {
		got = append(got, params.LanguageCode+":"+params.Commands[0].Description)
	}
	want := []string{":start-en", "ru:start-ru", "zh:start-zh"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("command menus mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleUpdateRoutesMessageAndRendersButtons(t *testing.T) {
	reply := command.Reply{
		Text:    "welcome",
		Buttons: [][]command.Button{{{Text: "Open", URL: "https://app.example"}}},
	}
	client, fb, fd, hook := newTestClient(t, reply)

	client.handleUpdate(context.Background(), nil, messageUpdate(99, " /start "))

	want := []command.Request{{
		UserID:       99,
		ChatID:       99,
		Username:     "alice",
		FirstName:    "Alice",
		LanguageCode: "zh-hans",
		Text:         "/start",
	}}
	if diff := cmp.Diff(want, fd.handled); diff != "" {
		t.Fatalf("dispatched request mismatch (-want +got):\n%s", diff)
	}

	if len(fb.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(fb.sent))
	}
	params := fb.sent[0]
	if params.ChatID != int64(99) || params.Text != "welcome" {
		t.Fatalf("unexpected reply params: %+v", params)
	}
	markup, ok := params.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard markup, got %T", params.ReplyMarkup)
	}
	button := markup.InlineKeyboard[0][0]
	if button.Text != "Open" || button.WebApp == nil || button.WebApp.URL != "https://app.example" {
		t.Fatalf("unexpected button: %+v", button)
	}

	entry := hook.AllEntries()[0]
	if entry.Data["event"] != "telegram_update" || entry.Data["update_type"] != "message" {
		t.Fatalf("expected telegram_update log, got %v", entry.Data)
	}
}

func TestHandleUpdateIgnoresNonTextMessages(t *testing.T) {
	client, fb, fd, _ := newTestClient(t, command.Reply{Text: "x"})

	client.handleUpdate(context.Background(), nil, messageUpdate(1, "   "))

	if len(fd.handled) != 0 || len(fb.sent) != 0 {
		t.Fatalf("expected empty message to be ignored")
	}
}

func TestHandleUpdateAnswersCallbackAndReplies(t *testing.T) {
	client, fb, fd, _ := newTestClient(t, command.Reply{Text: "balance"})

	update := &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb-1",
			From: models.User{ID: 12},
			Data: command.CallbackViewBalance,
		},
	}
	client.handleUpdate(context.Background(), nil, update)

	if len(fb.answered) != 1 || fb.answered[0].CallbackQueryID != "cb-1" {
		t.Fatalf("expected callback to be answered, got %+v", fb.answered)
	}
	if diff := cmp.Diff([]string{command.CallbackViewBalance}, fd.callbacks); diff != "" {
		t.Fatalf("callback data mismatch (-want +got):\n%s", diff)
	}
	if len(fb.sent) != 1 || fb.sent[0].ChatID != int64(12) {
		t.Fatalf("expected reply to fall back to the sender's private chat, got %+v", fb.sent)
	}
	if fb.sent[0].ReplyMarkup != nil {
		t.Fatalf("expected no markup for a reply without buttons")
	}
}

func TestHandleUpdateLogsSendFailure(t *testing.T) {
	client, fb, _, hook := newTestClient(t, command.Reply{Text: "x"})
	fb.sendErr = errors.New("forbidden: bot was blocked by the user")

	client.handleUpdate(context.Background(), nil, messageUpdate(5, "hi"))

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "reply_failed" {
		t.Fatalf("expected reply_failed log entry, got %v", entry)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		limiter    *fakeLimiter
		update     *models.Update
		wantNext   bool
		wantAnswer string
	}{
		{
			name:     "allowed",
			limiter:  &fakeLimiter{allowed: true},
			update:   messageUpdate(1, "hi"),
			wantNext: true,
		},
		{
			name:     "limiter unavailable fails open",
			limiter:  &fakeLimiter{allowed: true, err: errors.New("redis down")},
			update:   messageUpdate(1, "hi"),
			wantNext: true,
		},
		{
			name:    "message dropped",
			limiter: &fakeLimiter{},
			update:  messageUpdate(1, "hi"),
		},
		{
			name:    "callback answered with notice",
			limiter: &fakeLimiter{},
			update: &models.Update{
				CallbackQuery: &models.CallbackQuery{ID: "cb", From: models.User{ID: 3}},
			},
			wantAnswer: "slow down",
		},
		{
			name:     "update without user",
			limiter:  &fakeLimiter{},
			update:   &models.Update{},
			wantNext: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			client, fb, _, _ := newTestClient(t, command.Reply{})
			client.limiter = tt.limiter

			var called bool
			handler := client.rateLimit(func(context.Context, *bot.Bot, *models.Update) { called = true })
			handler(context.Background(), nil, tt.update)

			if called != tt.wantNext {
				t.Fatalf("expected next called=%v, got %v", tt.wantNext, called)
			}
			if tt.wantAnswer != "" {
				if len(fb.answered) != 1 || fb.answered[0].Text != tt.wantAnswer {
					t.Fatalf("expected callback answer %q, got %+v", tt.wantAnswer, fb.answered)
				}
			}
			if len(fb.sent) != 0 {
				t.Fatalf("expected no chat messages from the middleware, got %d", len(fb.sent))
			}
		})
	}
}

func TestSendText(t *testing.T) {
	client, fb, _, _ := newTestClient(t, command.Reply{})

	if err := client.SendText(context.Background(), 42, "You won"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	if len(fb.sent) != 1 || fb.sent[0].Text != "You won" || fb.sent[0].ReplyMarkup != nil {
		t.Fatalf("unexpected sent message: %+v", fb.sent)
	}

	if err := client.SendText(context.Background(), 0, "x"); err == nil {
		t.Fatalf("expected error for missing chat id")
	}

	fb.sendErr = errors.New("boom")
	if err := client.SendText(context.Background(), 42, "x"); !errors.Is(err, fb.sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}

	var nilClient *Client
	if err := nilClient.SendText(context.Background(), 42, "x"); err == nil {
		t.Fatalf("expected nil client to error")
	}
}

func TestExtractUpdateMeta(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		want   updateMeta
	}{
		{
			name: "message",
			update: &models.Update{
				Message: &models.Message{
					From: &models.User{ID: 10},
					Chat: models.Chat{ID: 20},
					Text: " hello ",
				},
			},
			want: updateMeta{userID: 10, chatID: 20, text: "hello", updateType: "message"},
		},
		{
			name: "callback query",
			update: &models.Update{
				CallbackQuery: &models.CallbackQuery{
					From: models.User{ID: 12},
					Data: "view_products",
					Message: models.MaybeInaccessibleMessage{
						Type: models.MaybeInaccessibleMessageTypeMessage,
						Message: &models.Message{
							Chat: models.Chat{ID: 22},
						},
					},
				},
			},
			want: updateMeta{userID: 12, chatID: 22, text: "view_products", updateType: "callback_query"},
		},
		{
			name: "callback on inaccessible message",
			update: &models.Update{
				CallbackQuery: &models.CallbackQuery{
					From: models.User{ID: 13},
					Message: models.MaybeInaccessibleMessage{
						Type:                models.MaybeInaccessibleMessageTypeInaccessibleMessage,
						InaccessibleMessage: &models.InaccessibleMessage{Chat: models.Chat{ID: 23}},
					},
				},
			},
			want: updateMeta{userID: 13, chatID: 23, updateType: "callback_query"},
		},
		{
			name:   "unknown",
			update: &models.Update{},
			want:   updateMeta{updateType: "unknown"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := extractUpdateMeta(tt.update)
			if got != tt.want {
				t.Fatalf("extractUpdateMeta() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestErrorHandlerLogs(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	handler := errorHandler(logrus.NewEntry(hookLogger))

	handler(nil)
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("expected nil error to be ignored")
	}

	handler(errors.New("conflict: terminated by other getUpdates request"))
	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "telegram_error" || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected telegram_error entry, got %v", entry)
	}
}
