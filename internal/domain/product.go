package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product statuses as written by the web app.
const (
	ProductActive   = "active"
	ProductInactive = "inactive"
)

// Product is a prize that lottery rounds are drawn for. Name is keyed by
// language code.
type Product struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Name      datatypes.JSONMap `gorm:"type:jsonb" json:"name"`
	Price     float64           `gorm:"type:numeric(12,2)" json:"price"`
	Status    string            `gorm:"size:32" json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TableName implements gorm's tabler.
func (Product) TableName() string { return "products" }

// BeforeCreate assigns a random id when none is set.
func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// DisplayName picks the product name for lang, falling back to English.
func (p Product) DisplayName(lang string) string {
	return localizedName(p.Name, lang)
}

func localizedName(names datatypes.JSONMap, lang string) string {
	for _, key := range []string{lang, "en"} {
		if value, ok := names[key]; ok {
			if name := fmt.Sprint(value); name != "" {
				return name
			}
		}
	}
	return ""
}
