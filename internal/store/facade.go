package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tg_lottery_bot/internal/domain"
	"tg_lottery_bot/internal/logging"
)

// Facade is the single entry point handlers and notifiers use to read and
// write lottery data. Every call returns an explicit result; ErrNotFound
// separates "no data" from a failed query.
type Facade struct {
	users         *domain.UserRepository
	rounds        *domain.RoundRepository
	notifications *domain.NotificationRepository
	logger        *logrus.Entry
}

// NewFacade builds a facade over db.
func NewFacade(db *gorm.DB, logger *logrus.Entry) *Facade {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Facade{
		users:         domain.NewUserRepository(db),
		rounds:        domain.NewRoundRepository(db),
		notifications: domain.NewNotificationRepository(db),
		logger:        logger.WithField("component", "store"),
	}
}

// GetUser returns the user row for telegramID or domain.ErrNotFound.
func (f *Facade) GetUser(ctx context.Context, telegramID int64) (domain.User, error) {
	if f == nil {
		return domain.User{}, errors.New("facade is not initialized")
	}

	user, err := f.users.GetByTelegramID(ctx, telegramID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		f.fail("get_user_failed", err, logrus.Fields{"user_id": telegramID})
		return domain.User{}, fmt.Errorf("get user %d: %w", telegramID, err)
	}

	return user, err
}

// IsRegistered reports whether a user row exists for telegramID.
func (f *Facade) IsRegistered(ctx context.Context, telegramID int64) (bool, error) {
	if f == nil {
		return false, errors.New("facade is not initialized")
	}

	exists, err := f.users.ExistsByTelegramID(ctx, telegramID)
	if err != nil {
		f.fail("is_registered_failed", err, logrus.Fields{"user_id": telegramID})
		return false, fmt.Errorf("check registration %d: %w", telegramID, err)
	}

	return exists, nil
}

// RegisterUser inserts user unless its telegram_id is already registered. The
// flag reports whether this call created the row.
func (f *Facade) RegisterUser(ctx context.Context, user domain.User) (domain.User, bool, error) {
	if f == nil {
		return domain.User{}, false, errors.New("facade is not initialized")
	}

	stored, created, err := f.users.Create(ctx, user)
	if err != nil {
		f.fail("register_user_failed", err, logrus.Fields{"user_id": user.TelegramID})
		return domain.User{}, false, fmt.Errorf("register user %d: %w", user.TelegramID, err)
	}

	if created {
		f.logger.WithFields(logrus.Fields{
			"event":    "user_registered",
			"user_id":  stored.TelegramID,
			"language": stored.Language,
		}).Info("registered new user")
	}

	return stored, created, nil
}

// GetBalance returns the user's balance or domain.ErrNotFound for unknown users.
func (f *Facade) GetBalance(ctx context.Context, telegramID int64) (float64, error) {
	user, err := f.GetUser(ctx, telegramID)
	if err != nil {
		return 0, err
	}

	return user.Balance, nil
}

// FindRecentWinners returns completed rounds updated at or after since, with
// the winner's chat id and the product attached.
func (f *Facade) FindRecentWinners(ctx context.Context, since time.Time) ([]domain.WinnerNotice, error) {
	if f == nil {
		return nil, errors.New("facade is not initialized")
	}

	notices, err := f.rounds.CompletedSince(ctx, since)
	if err != nil {
		f.fail("find_recent_winners_failed", err, logrus.Fields{"since": since})
		return nil, fmt.Errorf("find recent winners: %w", err)
	}

	return notices, nil
}

// FindLowBalanceUsers returns users whose balance is below threshold.
func (f *Facade) FindLowBalanceUsers(ctx context.Context, threshold float64) ([]domain.User, error) {
	if f == nil {
		return nil, errors.New("facade is not initialized")
	}

	users, err := f.users.ListBelowBalance(ctx, threshold)
	if err != nil {
		f.fail("find_low_balance_users_failed", err, logrus.Fields{"threshold": threshold})
		return nil, fmt.Errorf("find low balance users: %w", err)
	}

	return users, nil
}

// ClaimNotification records that (kind, subjectID) is being notified. It
// reports false when an earlier pass already claimed it.
func (f *Facade) ClaimNotification(ctx context.Context, kind, subjectID string, telegramID int64) (bool, error) {
	if f == nil {
		return false, errors.New("facade is not initialized")
	}

	claimed, err := f.notifications.Claim(ctx, kind, subjectID, telegramID)
	if err != nil {
		f.fail("claim_notification_failed", err, logrus.Fields{"kind": kind, "subject_id": subjectID})
		return false, fmt.Errorf("claim %s %s: %w", kind, subjectID, err)
	}

	return claimed, nil
}

// ReleaseNotification drops a claim so the notification is retried later.
func (f *Facade) ReleaseNotification(ctx context.Context, kind, subjectID string) error {
	if f == nil {
		return errors.New("facade is not initialized")
	}

	if err := f.notifications.Release(ctx, kind, subjectID); err != nil {
		f.fail("release_notification_failed", err, logrus.Fields{"kind": kind, "subject_id": subjectID})
		return fmt.Errorf("release %s %s: %w", kind, subjectID, err)
	}

	return nil
}

func (f *Facade) fail(event string, err error, fields logrus.Fields) {
	f.logger.WithFields(fields).WithField("event", event).WithError(err).Error("store operation failed")
}
