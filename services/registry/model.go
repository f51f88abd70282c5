package registry

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vertical groups offers whose pending conversions are pooled and flushed
// together. Threshold is the minimum single-event amount that triggers an
// immediate flush instead of caching.
type Vertical struct {
	ID          string          `gorm:"column:vertical_id;primaryKey;size:50"`
	Name        string          `gorm:"column:name;size:100;not null"`
	Threshold   decimal.Decimal `gorm:"column:payout_threshold;type:decimal(10,2);not null"`
	Description string          `gorm:"column:description"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Vertical) TableName() string { return "verticals" }

// Offer is a campaign identifier. An offer belongs to at most one vertical;
// reassignment replaces the link. Offers are managed by the admin surface and
// read-only here.
type Offer struct {
	ID         string    `gorm:"column:offer_id;primaryKey;size:50"`
	Name       string    `gorm:"column:name;size:100;not null"`
	VerticalID *string   `gorm:"column:vertical_id;size:50;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Offer) TableName() string { return "offers" }
