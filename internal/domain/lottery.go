package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lottery round statuses. Transitions happen in the external draw process.
const (
	RoundPending     = "pending"
	RoundActive      = "active"
	RoundReadyToDraw = "ready_to_draw"
	RoundCompleted   = "completed"
	RoundCancelled   = "cancelled"
)

// LotteryRound is one draw for a product.
type LotteryRound struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"product_id"`
	WinnerID    *uuid.UUID `gorm:"type:uuid" json:"winner_id,omitempty"`
	Status      string     `gorm:"size:32;not null;index" json:"status"`
	TotalShares int        `json:"total_shares"`
	SoldShares  int        `json:"sold_shares"`
	DrawDate    *time.Time `json:"draw_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName implements gorm's tabler.
func (LotteryRound) TableName() string { return "lottery_rounds" }

// BeforeCreate assigns a random id when none is set.
func (r *LotteryRound) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// WinnerNotice is a completed round joined with its winner and product, the
// input of one "won" notification.
type WinnerNotice struct {
	RoundID      uuid.UUID
	TelegramID   int64
	Language     string
	ProductName  datatypes.JSONMap
	ProductPrice float64
	CompletedAt  time.Time
}

// ProductDisplayName picks the product name for lang, falling back to English.
func (w WinnerNotice) ProductDisplayName(lang string) string {
	return localizedName(w.ProductName, lang)
}
