package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification kinds recorded in the ledger.
const (
	NotificationRoundWon = "round_won"
)

// Notification is a ledger row marking an outbound notification as claimed.
// (Kind, SubjectID) is unique, so a subject is notified at most once per kind.
type Notification struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind       string    `gorm:"size:32;not null;uniqueIndex:idx_bot_notifications_kind_subject" json:"kind"`
	SubjectID  string    `gorm:"size:64;not null;uniqueIndex:idx_bot_notifications_kind_subject" json:"subject_id"`
	TelegramID int64     `gorm:"column:telegram_id;not null" json:"telegram_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName implements gorm's tabler.
func (Notification) TableName() string { return "bot_notifications" }

// BeforeCreate assigns a random id when none is set.
func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
