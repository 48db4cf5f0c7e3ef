// Package domain defines the lottery entities the bot reads and writes and the
// repositories that persist them.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound reports that a lookup matched no row.
var ErrNotFound = errors.New("not found")

// DefaultLanguage is stored for users whose client locale is unknown.
const DefaultLanguage = "en"

// User represents a Telegram user registered with the lottery platform.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TelegramID int64     `gorm:"column:telegram_id;not null;uniqueIndex" json:"telegram_id"`
	Username   string    `gorm:"size:255" json:"username"`
	FullName   string    `gorm:"size:255" json:"full_name"`
	Language   string    `gorm:"size:8" json:"language"`
	Balance    float64   `gorm:"type:numeric(12,2)" json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName implements gorm's tabler.
func (User) TableName() string { return "users" }

// BeforeCreate assigns a random id when none is set.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
