package conversion

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// CacheStats summarises the live pending cache for the reporting surface.
type CacheStats struct {
	TotalAmount  decimal.Decimal `json:"total_cached_amount"`
	Rows         int64           `json:"total_cached_conversions"`
	DistinctKeys int64           `json:"unique_clickids"`
}

// ScopeTotal is one scope's pending amount, used by the stats endpoint.
type ScopeTotal struct {
	OfferID     string          `json:"offer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Rows        int64           `json:"conversion_count"`
}

// Store is the durable table of not-yet-flushed amounts. Scope members are a
// set of offer ids; a nil set means the scope is unbounded and covers every
// row (global mode). An empty non-nil set is an empty scope.
type Store interface {
	Add(ctx context.Context, attributionKey, offerID string, amount decimal.Decimal) error
	SumForScope(ctx context.Context, members []string) (decimal.Decimal, error)
	// DrainScope deletes the scope's rows inside one transaction and returns
	// exactly the rows it removed, oldest first. Rows added after the
	// transaction's snapshot survive to the next flush.
	DrainScope(ctx context.Context, members []string) ([]PendingConversion, error)
	ClearScope(ctx context.Context, members []string) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
	// PendingOfferIDs lists the distinct offer ids that currently have
	// pending rows.
	PendingOfferIDs(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*CacheStats, error)
	TopScopes(ctx context.Context, limit int) ([]ScopeTotal, error)
}

type gormStore struct {
	db   *gorm.DB
	node *snowflake.Node
}

type StoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewStore(p StoreParams) Store {
	return &gormStore{db: p.DB, node: p.Node}
}

func (s *gormStore) scoped(tx *gorm.DB, members []string) *gorm.DB {
	if members == nil {
		return tx
	}
	return tx.Where("offer_id IN ?", members)
}

func (s *gormStore) Add(ctx context.Context, attributionKey, offerID string, amount decimal.Decimal) error {
	row := PendingConversion{
		ID:             s.node.Generate().Int64(),
		AttributionKey: attributionKey,
		OfferID:        offerID,
		Amount:         amount,
		CreatedAt:      time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *gormStore) SumForScope(ctx context.Context, members []string) (decimal.Decimal, error) {
	if members != nil && len(members) == 0 {
		return decimal.Zero, nil
	}

	// Amounts are summed in Go so the arithmetic stays fixed-point on every
	// backend; SQLite coerces DECIMAL sums to float.
	var amounts []decimal.Decimal
	err := s.scoped(s.db.WithContext(ctx).Model(&PendingConversion{}), members).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}

	return sumAmounts(amounts), nil
}

func (s *gormStore) DrainScope(ctx context.Context, members []string) ([]PendingConversion, error) {
	if members != nil && len(members) == 0 {
		return nil, nil
	}

	var drained []PendingConversion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.scoped(tx.Order("created_at ASC"), members).Find(&drained).Error; err != nil {
			return err
		}
		if len(drained) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(drained))
		for _, row := range drained {
			ids = append(ids, row.ID)
		}

		return tx.Where("id IN ?", ids).Delete(&PendingConversion{}).Error
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}

func (s *gormStore) ClearScope(ctx context.Context, members []string) (int64, error) {
	if members == nil {
		return s.ClearAll(ctx)
	}
	if len(members) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).
		Where("offer_id IN ?", members).
		Delete(&PendingConversion{})
	return res.RowsAffected, res.Error
}

func (s *gormStore) ClearAll(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&PendingConversion{})
	return res.RowsAffected, res.Error
}

func (s *gormStore) PendingOfferIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&PendingConversion{}).
		Distinct("offer_id").
		Order("offer_id ASC").
		Pluck("offer_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *gormStore) Stats(ctx context.Context) (*CacheStats, error) {
	total, err := s.SumForScope(ctx, nil)
	if err != nil {
		return nil, err
	}

	var rows int64
	if err := s.db.WithContext(ctx).Model(&PendingConversion{}).Count(&rows).Error; err != nil {
		return nil, err
	}

	var distinctKeys int64
	err = s.db.WithContext(ctx).
		Model(&PendingConversion{}).
		Distinct("clickid").
		Count(&distinctKeys).Error
	if err != nil {
		return nil, err
	}

	return &CacheStats{TotalAmount: total, Rows: rows, DistinctKeys: distinctKeys}, nil
}

func (s *gormStore) TopScopes(ctx context.Context, limit int) ([]ScopeTotal, error) {
	if limit <= 0 {
		limit = 20
	}

	var offerIDs []string
	err := s.db.WithContext(ctx).
		Model(&PendingConversion{}).
		Distinct("offer_id").
		Pluck("offer_id", &offerIDs).Error
	if err != nil {
		return nil, err
	}

	totals := make([]ScopeTotal, 0, len(offerIDs))
	for _, id := range offerIDs {
		var amounts []decimal.Decimal
		err := s.db.WithContext(ctx).
			Model(&PendingConversion{}).
			Where("offer_id = ?", id).
			Pluck("amount", &amounts).Error
		if err != nil {
			return nil, err
		}
		totals = append(totals, ScopeTotal{
			OfferID:     id,
			TotalAmount: sumAmounts(amounts),
			Rows:        int64(len(amounts)),
		})
	}

	// Largest pools first.
	sort.Slice(totals, func(i, j int) bool {
		return totals[i].TotalAmount.GreaterThan(totals[j].TotalAmount)
	})
	if len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

func sumAmounts(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
