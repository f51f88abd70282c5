package conversion

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PendingConversion is one cached sub-threshold amount. Rows are only ever
// inserted and deleted; a scope's owed amount is the sum of its live rows.
type PendingConversion struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	AttributionKey string          `gorm:"column:clickid;size:24;index;not null"`
	OfferID        string          `gorm:"column:offer_id;size:50;index"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;index"`
}

func (PendingConversion) TableName() string { return "cached_conversions" }

// DecisionLog is the append-only observability sink: one row per processing
// decision. The core writes these and never reads them back for decisions.
type DecisionLog struct {
	ID             int64               `gorm:"column:id;primaryKey;autoIncrement:false"`
	AttributionKey string              `gorm:"column:clickid;size:24;index"`
	OfferID        string              `gorm:"column:offer_id;size:50"`
	OriginalAmount decimal.NullDecimal `gorm:"column:original_amount;type:decimal(10,2)"`
	CachedAmount   decimal.NullDecimal `gorm:"column:cached_amount;type:decimal(10,2)"`
	TotalSent      decimal.NullDecimal `gorm:"column:total_sent;type:decimal(10,2)"`
	Action         string              `gorm:"column:action;size:50;not null"`
	Message        string              `gorm:"column:message"`
	CreatedAt      time.Time           `gorm:"column:created_at;index"`
}

func (DecisionLog) TableName() string { return "conversion_logs" }

// PostbackAttempt is the forward-attempt ledger: every downstream call, its
// destination, amount, and result. Write-only for the core; the reporting
// surface reads it.
type PostbackAttempt struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	AttributionKey string          `gorm:"column:clickid;size:24;index;not null"`
	OfferID        string          `gorm:"column:offer_id;size:50"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	PostbackURL    string          `gorm:"column:postback_url"`
	Success        bool            `gorm:"column:success;index"`
	Response       datatypes.JSON  `gorm:"column:response"`
	ErrorMessage   string          `gorm:"column:error_message"`
	CreatedAt      time.Time       `gorm:"column:created_at;index"`
}

func (PostbackAttempt) TableName() string { return "postback_history" }

// Outcome classifies the terminal state of one processed event.
type Outcome string

const (
	OutcomeRejected      Outcome = "rejected"
	OutcomeCached        Outcome = "cached"
	OutcomeForwarded     Outcome = "flushed-success"
	OutcomeForwardFailed Outcome = "flushed-failure"
)

// Single-character response codes returned to the inbound caller. Always sent
// with HTTP 200 so the upstream tracker never retries.
const (
	CodeRejected      = "0"
	CodeCached        = "1"
	CodeForwarded     = "2"
	CodeForwardFailed = "3"
	CodeInternalError = "4"
)

// ResponseCode maps an outcome to its wire code.
func (o Outcome) ResponseCode() string {
	switch o {
	case OutcomeRejected:
		return CodeRejected
	case OutcomeCached:
		return CodeCached
	case OutcomeForwarded:
		return CodeForwarded
	case OutcomeForwardFailed:
		return CodeForwardFailed
	default:
		return CodeInternalError
	}
}
