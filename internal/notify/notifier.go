// Package notify sends the bot's outbound notifications: lottery winner
// announcements, low balance reminders, and other templated account events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tg_lottery_bot/internal/domain"
	"tg_lottery_bot/internal/locale"
	"tg_lottery_bot/internal/logging"
)

// Sender delivers a plain text message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type dataStore interface {
	FindRecentWinners(ctx context.Context, since time.Time) ([]domain.WinnerNotice, error)
	FindLowBalanceUsers(ctx context.Context, threshold float64) ([]domain.User, error)
	ClaimNotification(ctx context.Context, kind, subjectID string, telegramID int64) (bool, error)
	ReleaseNotification(ctx context.Context, kind, subjectID string) error
}

type messageCatalog interface {
	Message(lang, key string, args locale.Args) string
}

// Options tunes the notification passes.
type Options struct {
	WinnerLookback      time.Duration
	LowBalanceThreshold float64
}

// Notifier runs notification passes against the store and sends through a
// Sender.
type Notifier struct {
	store    dataStore
	sender   Sender
	messages messageCatalog
	opts     Options
	logger   *logrus.Entry
	now      func() time.Time
}

// New constructs a Notifier.
func New(store dataStore, sender Sender, messages messageCatalog, opts Options, logger *logrus.Entry) *Notifier {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Notifier{
		store:    store,
		sender:   sender,
		messages: messages,
		opts:     opts,
		logger:   logger.WithField("component", "notifier"),
		now:      time.Now,
	}
}

// NotifyLotteryWinners tells the winner of every round completed within the
// lookback window, once per round. A round is claimed in the ledger before
// sending and released if the send fails, so the next pass retries it.
// It returns the number of messages delivered.
func (n *Notifier) NotifyLotteryWinners(ctx context.Context) (int, error) {
	if err := n.ready(ctx); err != nil {
		return 0, err
	}

	since := n.now().UTC().Add(-n.opts.WinnerLookback)
	notices, err := n.store.FindRecentWinners(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("lottery winners: %w", err)
	}

	sent := 0
	for _, notice := range notices {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		subjectID := notice.RoundID.String()
		fields := logrus.Fields{"user_id": notice.TelegramID, "round_id": subjectID}

		claimed, err := n.store.ClaimNotification(ctx, domain.NotificationRoundWon, subjectID, notice.TelegramID)
		if err != nil {
			n.logger.WithFields(fields).WithField("event", "winner_claim_failed").WithError(err).Warn("could not claim winner notification")
			continue
		}
		if !claimed {
			n.logger.WithFields(fields).WithField("event", "winner_already_notified").Debug("winner already notified")
			continue
		}

		err = n.Notify(ctx, notice.TelegramID, notice.Language, locale.KeyWon, locale.Args{
			"product_name":  notice.ProductDisplayName(notice.Language),
			"product_price": formatAmount(notice.ProductPrice),
		})
		if err != nil {
			if releaseErr := n.store.ReleaseNotification(context.WithoutCancel(ctx), domain.NotificationRoundWon, subjectID); releaseErr != nil {
				n.logger.WithFields(fields).WithField("event", "winner_release_failed").WithError(releaseErr).Error("could not release winner notification")
			}
			continue
		}

		sent++
	}

	n.logger.WithFields(logrus.Fields{
		"event":      "winner_pass_done",
		"candidates": len(notices),
		"sent":       sent,
	}).Info("lottery winner pass finished")

	return sent, nil
}

// NotifyLowBalanceUsers reminds every user below the threshold to top up.
// Reminders repeat on every pass while the balance stays low.
func (n *Notifier) NotifyLowBalanceUsers(ctx context.Context) (int, error) {
	if err := n.ready(ctx); err != nil {
		return 0, err
	}

	users, err := n.store.FindLowBalanceUsers(ctx, n.opts.LowBalanceThreshold)
	if err != nil {
		return 0, fmt.Errorf("low balance users: %w", err)
	}

	sent := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		if err := n.Notify(ctx, u.TelegramID, u.Language, locale.KeyBalanceLow, locale.Args{"balance": formatAmount(u.Balance)}); err != nil {
			continue
		}
		sent++
	}

	n.logger.WithFields(logrus.Fields{
		"event":      "low_balance_pass_done",
		"candidates": len(users),
		"sent":       sent,
	}).Info("low balance pass finished")

	return sent, nil
}

// Notify renders key in lang and sends it to telegramID. Delivery failures are
// logged and returned.
func (n *Notifier) Notify(ctx context.Context, telegramID int64, lang, key string, args locale.Args) error {
	if err := n.ready(ctx); err != nil {
		return err
	}

	text := n.messages.Message(lang, key, args)
	if err := n.sender.SendText(ctx, telegramID, text); err != nil {
		n.logger.WithFields(logrus.Fields{
			"event":    "notification_failed",
			"user_id":  telegramID,
			"template": key,
		}).WithError(err).Warn("failed to deliver notification")
		return fmt.Errorf("send %s to %d: %w", key, telegramID, err)
	}

	n.logger.WithFields(logrus.Fields{
		"event":    "notification_sent",
		"user_id":  telegramID,
		"template": key,
	}).Debug("notification delivered")

	return nil
}

func (n *Notifier) ready(ctx context.Context) error {
	if n == nil || n.store == nil || n.sender == nil || n.messages == nil {
		return errors.New("notifier is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func formatAmount(amount float64) string {
	return fmt.Sprintf("$%.2f", amount)
}
