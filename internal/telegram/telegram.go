// Package telegram hosts the Telegram client, update routing, and outbound sends.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_lottery_bot/internal/config"
	"tg_lottery_bot/internal/feature/command"
	"tg_lottery_bot/internal/logging"
)

type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
}

type dispatcher interface {
	Handle(ctx context.Context, req command.Request) command.Reply
	HandleCallback(ctx context.Context, req command.Request, data string) command.Reply
	RateLimited(req command.Request) command.Reply
	Menu(lang string) []command.MenuCommand
}

type limiter interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance, the command dispatcher and logging
// dependencies.
type Client struct {
	bot        botAPI
	dispatcher dispatcher
	limiter    limiter
	logger     *logrus.Entry
}

// NewClient initializes the Telegram bot with long polling, update routing to
// the dispatcher and optional per-user rate limiting. limiter may be nil.
func NewClient(cfg config.Config, dispatcher dispatcher, limiter limiter, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		dispatcher: dispatcher,
		limiter:    limiter,
		logger:     logger,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
		bot.WithMiddlewares(client.rateLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	client.bot = tgBot

	return client, nil
}

// Setup drops updates queued while the bot was offline and publishes the
// command menu for the default language and each of languages.
func (c *Client) Setup(ctx context.Context, languages []string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if _, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	if err := c.setCommands(ctx, "", "en"); err != nil {
		return err
	}
	for _, lang := range languages {
		if lang == "en" {
			continue
		}
		if err := c.setCommands(ctx, lang, lang); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) setCommands(ctx context.Context, languageCode, lang string) error {
	menu := c.dispatcher.Menu(lang)
	commands := make([]models.BotCommand, 0, len(menu))
	for _, item := range menu {
		commands = append(commands, models.BotCommand{Command: item.Command, Description: item.Description})
	}

	if _, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands:     commands,
		LanguageCode: languageCode,
	}); err != nil {
		return fmt.Errorf("set commands %q: %w", languageCode, err)
	}

	return nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.sendReply(ctx, chatID, command.Reply{Text: text})
}

func (c *Client) sendReply(ctx context.Context, chatID int64, reply command.Reply) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   reply.Text,
	}
	if markup := inlineKeyboard(reply.Buttons); markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}

	return nil
}

func inlineKeyboard(rows [][]command.Button) *models.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}

	keyboard := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:   button.Text,
				WebApp: &models.WebAppInfo{URL: button.URL},
			})
		}
		keyboard = append(keyboard, buttons)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)
	logging.WithContext(c.logger, logging.Context{
		UserID: meta.userID,
		ChatID: meta.chatID,
		Event:  "telegram_update",
	}).WithFields(logging.Fields{
		"text":        meta.text,
		"update_type": meta.updateType,
	}).Debug("telegram update received")

	switch {
	case update.Message != nil && update.Message.From != nil:
		if meta.text == "" {
			return
		}
		req := requestFor(update.Message.From, meta.chatID, meta.text)
		c.deliver(ctx, req, c.dispatcher.Handle(ctx, req))

	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		if _, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
			c.logger.WithField("event", "callback_answer_failed").WithError(err).Warn("failed to answer callback query")
		}

		chat := meta.chatID
		if chat == 0 {
			chat = query.From.ID
		}
		req := requestFor(&query.From, chat, "")
		c.deliver(ctx, req, c.dispatcher.HandleCallback(ctx, req, meta.text))
	}
}

func (c *Client) deliver(ctx context.Context, req command.Request, reply command.Reply) {
	if err := c.sendReply(ctx, req.ChatID, reply); err != nil {
		logging.WithContext(c.logger, logging.Context{
			UserID: req.UserID,
			ChatID: req.ChatID,
			Event:  "reply_failed",
		}).WithError(err).Warn("failed to send reply")
	}
}

// rateLimit drops updates from users over their per-minute budget. Callback
// queries are answered with a toast so the client stops spinning.
func (c *Client) rateLimit(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if c.limiter == nil || update == nil {
			next(ctx, b, update)
			return
		}

		meta := extractUpdateMeta(update)
		if meta.userID == 0 {
			next(ctx, b, update)
			return
		}

		allowed, err := c.limiter.Allow(ctx, meta.userID)
		if err != nil {
			c.logger.WithFields(logging.Fields{
				"event":   "rate_limit_unavailable",
				"user_id": meta.userID,
			}).WithError(err).Warn("rate limiter unavailable, allowing update")
		}
		if allowed {
			next(ctx, b, update)
			return
		}

		c.logger.WithFields(logging.Fields{
			"event":       "rate_limited",
			"user_id":     meta.userID,
			"update_type": meta.updateType,
		}).Info("dropped update over rate limit")

		if update.CallbackQuery != nil {
			req := requestFor(&update.CallbackQuery.From, meta.chatID, "")
			_, _ = c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
				CallbackQueryID: update.CallbackQuery.ID,
				Text:            c.dispatcher.RateLimited(req).Text,
			})
		}
	}
}

func requestFor(from *models.User, chatID int64, text string) command.Request {
	req := command.Request{ChatID: chatID, Text: text}
	if from != nil {
		req.UserID = from.ID
		req.Username = from.Username
		req.FirstName = from.FirstName
		req.LastName = from.LastName
		req.LanguageCode = from.LanguageCode
	}
	return req
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     userID(&update.CallbackQuery.From),
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}
