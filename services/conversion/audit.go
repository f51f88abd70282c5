package conversion

import (
	"context"
	"encoding/json"
	"time"

	"convtrack/pkg/postback"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit owns the write-only observability tables: the per-decision log and
// the postback ledger. Writes are best-effort and never influence control
// flow; a failed audit write is logged and swallowed.
type Audit struct {
	db   *gorm.DB
	node *snowflake.Node
}

type AuditParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewAudit(p AuditParams) *Audit {
	return &Audit{db: p.DB, node: p.Node}
}

func (a *Audit) Decision(ctx context.Context, entry DecisionLog) {
	entry.ID = a.node.Generate().Int64()
	entry.CreatedAt = time.Now().UTC()

	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		zap.L().Error("failed to write decision log",
			zap.String("action", entry.Action),
			zap.String("clickid", entry.AttributionKey),
			zap.Error(err),
		)
	}
}

// Postback records one forward attempt in the ledger.
func (a *Audit) Postback(ctx context.Context, attributionKey, offerID string, amount decimal.Decimal, result *postback.Result, sendErr error) {
	attempt := PostbackAttempt{
		ID:             a.node.Generate().Int64(),
		AttributionKey: attributionKey,
		OfferID:        offerID,
		Amount:         amount,
		Success:        sendErr == nil,
		CreatedAt:      time.Now().UTC(),
	}

	if result != nil {
		attempt.PostbackURL = result.URL
		raw, err := json.Marshal(map[string]any{
			"status_code": result.StatusCode,
			"body":        result.Body,
		})
		if err == nil {
			attempt.Response = datatypes.JSON(raw)
		}
	}
	if sendErr != nil {
		attempt.ErrorMessage = sendErr.Error()
	}

	if err := a.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		zap.L().Error("failed to write postback ledger entry",
			zap.String("clickid", attributionKey),
			zap.String("offer_id", offerID),
			zap.Error(err),
		)
	}
}

// RecentDecisions returns the newest limit decision-log rows.
func (a *Audit) RecentDecisions(ctx context.Context, limit int) ([]DecisionLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var logs []DecisionLog
	err := a.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// LedgerStats summarises the postback ledger for the stats endpoint.
type LedgerStats struct {
	Attempts       int64           `json:"total_postbacks"`
	Successes      int64           `json:"successful_postbacks"`
	SuccessRate    float64         `json:"success_rate"`
	TotalForwarded decimal.Decimal `json:"total_postback_amount"`
}

func (a *Audit) LedgerStats(ctx context.Context) (*LedgerStats, error) {
	var attempts, successes int64
	if err := a.db.WithContext(ctx).Model(&PostbackAttempt{}).Count(&attempts).Error; err != nil {
		return nil, err
	}
	err := a.db.WithContext(ctx).
		Model(&PostbackAttempt{}).
		Where("success = ?", true).
		Count(&successes).Error
	if err != nil {
		return nil, err
	}

	var amounts []decimal.Decimal
	err = a.db.WithContext(ctx).
		Model(&PostbackAttempt{}).
		Pluck("amount", &amounts).Error
	if err != nil {
		return nil, err
	}

	stats := &LedgerStats{
		Attempts:       attempts,
		Successes:      successes,
		TotalForwarded: sumAmounts(amounts),
	}
	if attempts > 0 {
		stats.SuccessRate = float64(successes) / float64(attempts) * 100
	}
	return stats, nil
}

// RecentAttempts returns the newest limit ledger rows.
func (a *Audit) RecentAttempts(ctx context.Context, limit int) ([]PostbackAttempt, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var attempts []PostbackAttempt
	err := a.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
