package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository persists and retrieves users.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts user unless a row with the same telegram_id exists. The
// returned flag reports whether a row was inserted; on conflict the existing
// row is returned instead.
func (r *UserRepository) Create(ctx context.Context, user User) (User, bool, error) {
	if r == nil || r.db == nil {
		return User{}, false, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return User{}, false, errors.New("context is required")
	}
	if user.TelegramID == 0 {
		return User{}, false, errors.New("telegram_id is required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_id"}},
			DoNothing: true,
		}).
		Create(&user)
	if result.Error != nil {
		return User{}, false, fmt.Errorf("insert user: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		existing, err := r.GetByTelegramID(ctx, user.TelegramID)
		if err != nil {
			return User{}, false, err
		}
		return existing, false, nil
	}

	return user, true, nil
}

// GetByTelegramID fetches a user by Telegram id, returning ErrNotFound when
// no row matches.
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	if r == nil || r.db == nil {
		return User{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}
	if telegramID == 0 {
		return User{}, errors.New("telegram_id is required")
	}

	var user User
	err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}

	return user, nil
}

// ExistsByTelegramID reports whether a user row exists for telegramID.
func (r *UserRepository) ExistsByTelegramID(ctx context.Context, telegramID int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("telegram_id = ?", telegramID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count user: %w", err)
	}

	return count > 0, nil
}

// ListBelowBalance returns users whose balance is strictly below threshold,
// ordered by telegram_id.
func (r *UserRepository) ListBelowBalance(ctx context.Context, threshold float64) ([]User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	var users []User
	if err := r.db.WithContext(ctx).Where("balance < ?", threshold).Order("telegram_id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list low balance users: %w", err)
	}

	return users, nil
}

// Count returns the number of users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountBelowBalance returns the number of users below threshold.
func (r *UserRepository) CountBelowBalance(ctx context.Context, threshold float64) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("balance < ?", threshold).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count low balance users: %w", err)
	}

	return count, nil
}

// RoundRepository reads lottery rounds.
type RoundRepository struct {
	db *gorm.DB
}

// NewRoundRepository constructs a RoundRepository.
func NewRoundRepository(db *gorm.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// CompletedSince returns rounds completed at or after since that have a
// winner, joined with the winner's chat id and language and the product.
func (r *RoundRepository) CompletedSince(ctx context.Context, since time.Time) ([]WinnerNotice, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("round repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	var notices []WinnerNotice
	err := r.db.WithContext(ctx).
		Table("lottery_rounds AS r").
		Select("r.id AS round_id, u.telegram_id AS telegram_id, u.language AS language, " +
			"p.name AS product_name, p.price AS product_price, r.updated_at AS completed_at").
		Joins("JOIN users u ON u.id = r.winner_id").
		Joins("JOIN products p ON p.id = r.product_id").
		Where("r.status = ? AND r.updated_at >= ?", RoundCompleted, since.UTC()).
		Order("r.updated_at").
		Scan(&notices).Error
	if err != nil {
		return nil, fmt.Errorf("find completed rounds: %w", err)
	}

	return notices, nil
}

// NotificationRepository records claimed notifications in the ledger.
type NotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Claim inserts the (kind, subjectID) ledger row. It reports false when the
// row already exists, meaning another pass owns the notification.
func (r *NotificationRepository) Claim(ctx context.Context, kind, subjectID string, telegramID int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("notification repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if kind == "" || subjectID == "" {
		return false, errors.New("kind and subject_id are required")
	}

	row := Notification{
		Kind:       kind,
		SubjectID:  subjectID,
		TelegramID: telegramID,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "subject_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("claim notification: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// Release removes a claim so the notification can be retried.
func (r *NotificationRepository) Release(ctx context.Context, kind, subjectID string) error {
	if r == nil || r.db == nil {
		return errors.New("notification repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	err := r.db.WithContext(ctx).
		Where("kind = ? AND subject_id = ?", kind, subjectID).
		Delete(&Notification{}).Error
	if err != nil {
		return fmt.Errorf("release notification: %w", err)
	}

	return nil
}
