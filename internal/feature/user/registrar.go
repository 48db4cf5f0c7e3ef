// Package user provides registration of Telegram profiles as lottery users.
package user

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_lottery_bot/internal/domain"
	"tg_lottery_bot/internal/logging"
)

type userStore interface {
	GetUser(ctx context.Context, telegramID int64) (domain.User, error)
	RegisterUser(ctx context.Context, user domain.User) (domain.User, bool, error)
}

type languageNormalizer interface {
	Normalize(code string) string
}

// Profile is the subset of a Telegram user the bot stores.
type Profile struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// Registrar ensures Telegram users have a lottery account.
type Registrar struct {
	users     userStore
	languages languageNormalizer
	logger    *logrus.Entry
}

// NewRegistrar constructs a Registrar over the data facade.
func NewRegistrar(users userStore, languages languageNormalizer, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:     users,
		languages: languages,
		logger:    logger,
	}
}

// EnsureUser returns the account for profile, creating it with a zero balance
// when the Telegram id is unknown. created reports whether this call inserted
// the row; a concurrent registration of the same id yields created=false.
func (r *Registrar) EnsureUser(ctx context.Context, profile Profile) (domain.User, bool, error) {
	if r == nil || r.users == nil {
		return domain.User{}, false, errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return domain.User{}, false, errors.New("context is required")
	}
	if profile.TelegramID == 0 {
		return domain.User{}, false, errors.New("user id is required")
	}

	existing, err := r.users.GetUser(ctx, profile.TelegramID)
	switch {
	case err == nil:
		r.logger.WithFields(logging.Fields{
			"event":   "user_seen",
			"user_id": profile.TelegramID,
		}).Debug("user already registered")
		return existing, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, false, fmt.Errorf("ensure user: %w", err)
	}

	stored, created, err := r.users.RegisterUser(ctx, r.newUser(profile))
	if err != nil {
		return domain.User{}, false, fmt.Errorf("ensure user: %w", err)
	}

	return stored, created, nil
}

func (r *Registrar) newUser(profile Profile) domain.User {
	username := strings.TrimSpace(profile.Username)
	if username == "" {
		username = "user_" + strconv.FormatInt(profile.TelegramID, 10)
	}

	language := domain.DefaultLanguage
	if r.languages != nil {
		language = r.languages.Normalize(profile.LanguageCode)
	}

	return domain.User{
		TelegramID: profile.TelegramID,
		Username:   username,
		FullName:   strings.TrimSpace(profile.FirstName + " " + profile.LastName),
		Language:   language,
		Balance:    0,
	}
}
