// Package command translates inbound chat commands, free text and callback
// buttons into localized replies with deep links into the web app.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_lottery_bot/internal/domain"
	"tg_lottery_bot/internal/feature/user"
	"tg_lottery_bot/internal/locale"
	"tg_lottery_bot/internal/logging"
)

// Callback payloads carried by inline buttons.
const (
	CallbackViewProducts = "view_products"
	CallbackViewBalance  = "view_balance"
)

const defaultFirstName = "User"

type dataStore interface {
	GetUser(ctx context.Context, telegramID int64) (domain.User, error)
	GetBalance(ctx context.Context, telegramID int64) (float64, error)
}

type registrar interface {
	EnsureUser(ctx context.Context, profile user.Profile) (domain.User, bool, error)
}

type messageCatalog interface {
	Message(lang, key string, args locale.Args) string
	Normalize(code string) string
}

// Request is one inbound chat event.
type Request struct {
	UserID       int64
	ChatID       int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	Text         string
}

func (r Request) profile() user.Profile {
	return user.Profile{
		TelegramID:   r.UserID,
		Username:     r.Username,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		LanguageCode: r.LanguageCode,
	}
}

// Button is an inline button that opens URL in the web app.
type Button struct {
	Text string
	URL  string
}

// Reply is the message sent back for a request. Buttons are laid out one row
// per slice.
type Reply struct {
	Text    string
	Buttons [][]Button
}

// MenuCommand is an entry of the bot's command menu.
type MenuCommand struct {
	Command     string
	Description string
}

type handlerFunc func(ctx context.Context, req Request, lang string) (Reply, error)

type commandSpec struct {
	name    string
	menuKey string
	handle  handlerFunc
	// ownLanguage handlers load the user themselves; run passes the client
	// locale instead of looking the user up first.
	ownLanguage bool
}

// Dispatcher routes requests to handlers. Handlers never surface internal
// error text: failures are logged and answered with error_generic.
type Dispatcher struct {
	store     dataStore
	registrar registrar
	messages  messageCatalog
	webAppURL string
	logger    *logrus.Entry
	commands  []commandSpec
	byName    map[string]commandSpec
}

// NewDispatcher wires the command table.
func NewDispatcher(store dataStore, registrar registrar, messages messageCatalog, webAppURL string, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logging.Logger()
	}

	d := &Dispatcher{
		store:     store,
		registrar: registrar,
		messages:  messages,
		webAppURL: strings.TrimRight(webAppURL, "/"),
		logger:    logger.WithField("component", "dispatcher"),
	}

	d.commands = []commandSpec{
		{name: "start", menuKey: "menu_start", handle: d.start, ownLanguage: true},
		{name: "products", menuKey: "menu_products", handle: d.products},
		{name: "profile", menuKey: "menu_profile", handle: d.profile},
		{name: "balance", menuKey: "menu_balance", handle: d.balance},
		{name: "orders", menuKey: "menu_orders", handle: d.orders},
		{name: "referral", menuKey: "menu_referral", handle: d.referral},
		{name: "resales", menuKey: "menu_resales", handle: d.resales},
		{name: "balance_top", menuKey: "menu_balance_top", handle: d.topUp},
		{name: "my_tickets", menuKey: "menu_my_tickets", handle: d.orders},
		{name: "help", menuKey: "menu_help", handle: d.help},
	}
	d.byName = make(map[string]commandSpec, len(d.commands))
	for _, spec := range d.commands {
		d.byName[spec.name] = spec
	}

	return d
}

// Menu lists the command menu localized for lang.
func (d *Dispatcher) Menu(lang string) []MenuCommand {
	menu := make([]MenuCommand, 0, len(d.commands))
	for _, spec := range d.commands {
		menu = append(menu, MenuCommand{
			Command:     spec.name,
			Description: d.messages.Message(lang, spec.menuKey, nil),
		})
	}
	return menu
}

// Handle answers a command or free-text message.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Reply {
	name, isCommand := ParseCommand(req.Text)

	if !isCommand {
		category := Classify(req.Text)
		return d.run(ctx, req, commandSpec{name: "text_" + string(category), handle: d.handlerForCategory(category)})
	}

	spec, ok := d.byName[name]
	if !ok {
		spec = commandSpec{name: name, handle: d.unknown}
	}
	return d.run(ctx, req, spec)
}

// HandleCallback answers an inline button press.
func (d *Dispatcher) HandleCallback(ctx context.Context, req Request, data string) Reply {
	spec := commandSpec{name: "callback_" + data, handle: d.unknown}
	switch data {
	case CallbackViewProducts:
		spec.handle = d.products
	case CallbackViewBalance:
		spec.handle = d.balance
	}

	return d.run(ctx, req, spec)
}

// RateLimited is the reply for a user who exceeded the inbound limit.
func (d *Dispatcher) RateLimited(req Request) Reply {
	return Reply{Text: d.messages.Message(d.messages.Normalize(req.LanguageCode), "rate_limited", nil)}
}

func (d *Dispatcher) run(ctx context.Context, req Request, spec commandSpec) Reply {
	entry := logging.WithContext(d.logger, logging.Context{
		UserID:  req.UserID,
		ChatID:  req.ChatID,
		Command: spec.name,
	})

	lang := d.messages.Normalize(req.LanguageCode)
	var err error
	if !spec.ownLanguage {
		lang, err = d.language(ctx, req)
	}
	if err == nil {
		var reply Reply
		reply, err = spec.handle(ctx, req, lang)
		if err == nil {
			entry.WithField("event", "command_handled").Debug("handled request")
			return reply
		}
	}

	entry.WithField("event", "command_failed").WithError(err).Error("request failed")
	return Reply{Text: d.messages.Message(d.messages.Normalize(req.LanguageCode), "error_generic", nil)}
}

// language prefers the stored user language, then the client locale.
func (d *Dispatcher) language(ctx context.Context, req Request) (string, error) {
	stored, err := d.store.GetUser(ctx, req.UserID)
	switch {
	case err == nil && stored.Language != "":
		return d.messages.Normalize(stored.Language), nil
	case err == nil, errors.Is(err, domain.ErrNotFound):
		return d.messages.Normalize(req.LanguageCode), nil
	default:
		return "", fmt.Errorf("resolve language: %w", err)
	}
}

func (d *Dispatcher) handlerForCategory(category Category) handlerFunc {
	switch category {
	case CategoryHelp:
		return d.help
	case CategoryBalance:
		return d.balance
	case CategoryProducts:
		return d.products
	default:
		return d.unknown
	}
}

func (d *Dispatcher) start(ctx context.Context, req Request, lang string) (Reply, error) {
	stored, created, err := d.registrar.EnsureUser(ctx, req.profile())
	if err != nil {
		return Reply{}, err
	}
	if stored.Language != "" {
		lang = d.messages.Normalize(stored.Language)
	}

	text := d.messages.Message(lang, "welcome", nil)
	if created {
		firstName := strings.TrimSpace(req.FirstName)
		if firstName == "" {
			firstName = defaultFirstName
		}
		text = d.messages.Message(lang, locale.KeyRegisterSuccess, locale.Args{"username": firstName})
	}

	return Reply{
		Text: text,
		Buttons: [][]Button{
			{d.button(lang, "button_open_app", "/")},
			{d.button(lang, "button_profile", "/profile")},
		},
	}, nil
}

func (d *Dispatcher) help(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{Text: d.messages.Message(lang, "help", nil)}, nil
}

func (d *Dispatcher) products(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{
		Text:    d.messages.Message(lang, "products", nil),
		Buttons: [][]Button{{d.button(lang, "button_view_products", "/")}},
	}, nil
}

func (d *Dispatcher) profile(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{
		Text:    d.messages.Message(lang, "profile", nil),
		Buttons: [][]Button{{d.button(lang, "button_profile_center", "/profile")}},
	}, nil
}

func (d *Dispatcher) balance(ctx context.Context, req Request, lang string) (Reply, error) {
	balance, err := d.store.GetBalance(ctx, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return Reply{Text: d.messages.Message(lang, "not_registered", nil)}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	return Reply{
		Text: d.messages.Message(lang, "balance", locale.Args{"balance": FormatAmount(balance)}),
		Buttons: [][]Button{
			{d.button(lang, "button_view_balance", "/profile")},
			{d.button(lang, "button_top_up", "/topup")},
		},
	}, nil
}

func (d *Dispatcher) orders(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{
		Text:    d.messages.Message(lang, "orders", nil),
		Buttons: [][]Button{{d.button(lang, "button_my_orders", "/orders")}},
	}, nil
}

func (d *Dispatcher) referral(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{
		Text:    d.messages.Message(lang, "referral", nil),
		Buttons: [][]Button{{d.button(lang, "button_invite_friends", "/referral")}},
	}, nil
}

func (d *Dispatcher) resales(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{
		Text: d.messages.Message(lang, "resales", nil),
		Buttons: [][]Button{
			{d.button(lang, "button_resale_market", "/resale-market")},
			{d.button(lang, "button_my_resales", "/my-resales")},
		},
	}, nil
}

func (d *Dispatcher) topUp(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{
		Text:    d.messages.Message(lang, "topup", nil),
		Buttons: [][]Button{{d.button(lang, "button_top_up", "/topup")}},
	}, nil
}

func (d *Dispatcher) unknown(_ context.Context, _ Request, lang string) (Reply, error) {
	return Reply{Text: d.messages.Message(lang, "unknown", nil)}, nil
}

func (d *Dispatcher) button(lang, key, path string) Button {
	return Button{
		Text: d.messages.Message(lang, key, nil),
		URL:  d.webAppURL + path,
	}
}

// ParseCommand extracts the lowercased command name from "/cmd@bot args".
func ParseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	return strings.ToLower(name), true
}

// FormatAmount renders a dollar amount the way the web app shows it.
func FormatAmount(amount float64) string {
	return fmt.Sprintf("$%.2f", amount)
}
