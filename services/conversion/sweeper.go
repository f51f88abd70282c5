package conversion

import (
	"context"
	"fmt"
	"time"

	"convtrack/pkg/postback"
	"convtrack/services/registry"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ScopeResult is the outcome of flushing one scope during a sweep.
type ScopeResult struct {
	Scope           string          `json:"scope"`
	Success         bool            `json:"success"`
	Action          string          `json:"action"` // no_cache | cache_flushed | error
	Conversions     int             `json:"conversions_count"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AttributionKey  string          `json:"primary_clickid,omitempty"`
	OfferID         string          `json:"primary_offer_id,omitempty"`
	PostbackSuccess bool            `json:"postback_success"`
	Error           string          `json:"error,omitempty"`
}

// SweepSummary is the structured result of one full sweep.
type SweepSummary struct {
	Results      []ScopeResult `json:"results"`
	SuccessCount int           `json:"success_count"`
	Flushed      int           `json:"flushed_scopes"`
	Total        int           `json:"total_scopes"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Sweeper flushes every known scope's accumulated cache independently of new
// events, guaranteeing eventual delivery of stale sub-threshold amounts.
type Sweeper struct {
	store    Store
	resolver *registry.Resolver
	sender   postback.Sender
	audit    *Audit
}

type SweeperParams struct {
	fx.In
	Store    Store
	Resolver *registry.Resolver
	Sender   postback.Sender
	Audit    *Audit
}

func NewSweeper(p SweeperParams) *Sweeper {
	return &Sweeper{
		store:    p.Store,
		resolver: p.Resolver,
		sender:   p.Sender,
		audit:    p.Audit,
	}
}

type sweepScope struct {
	name    string
	members []string // nil covers every row
}

// Run flushes every scope. A failure in one scope never aborts the others;
// the returned error only reports that the scope list itself could not be
// built.
func (s *Sweeper) Run(ctx context.Context) (*SweepSummary, error) {
	scopes, err := s.listScopes(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{
		Results:   make([]ScopeResult, 0, len(scopes)),
		Total:     len(scopes),
		Timestamp: time.Now().UTC(),
	}

	for _, scope := range scopes {
		result := s.flushScope(ctx, scope)
		if result.Success {
			summary.SuccessCount++
		}
		if result.Action == "cache_flushed" {
			summary.Flushed++
		}
		summary.Results = append(summary.Results, result)
	}

	zap.L().Info("sweep completed",
		zap.Int("scopes", summary.Total),
		zap.Int("success", summary.SuccessCount),
		zap.Int("flushed", summary.Flushed),
	)
	s.audit.Decision(ctx, DecisionLog{
		Action: "sweep_completed",
		Message: fmt.Sprintf("Sweep completed: %d/%d scopes processed successfully, %d had cache to flush",
			summary.SuccessCount, summary.Total, summary.Flushed),
	})

	return summary, nil
}

// FlushVertical flushes a single vertical's scope on demand.
func (s *Sweeper) FlushVertical(ctx context.Context, vertical *registry.Vertical) (ScopeResult, error) {
	members, err := s.resolver.VerticalMembers(ctx, vertical.ID)
	if err != nil {
		return ScopeResult{}, err
	}
	return s.flushScope(ctx, sweepScope{name: vertical.Name, members: members}), nil
}

// listScopes enumerates every flushable scope under the configured scope
// mode: the single global pool, one scope per pending offer, or every
// vertical plus a singleton scope for each pending offer no vertical covers.
func (s *Sweeper) listScopes(ctx context.Context) ([]sweepScope, error) {
	switch s.resolver.Mode() {
	case registry.ScopeGlobal:
		return []sweepScope{{name: "global", members: nil}}, nil

	case registry.ScopeOffer:
		ids, err := s.store.PendingOfferIDs(ctx)
		if err != nil {
			return nil, err
		}
		scopes := make([]sweepScope, 0, len(ids))
		for _, id := range ids {
			scopes = append(scopes, sweepScope{name: id, members: []string{id}})
		}
		return scopes, nil
	}

	verticals, err := s.resolver.Verticals(ctx)
	if err != nil {
		return nil, err
	}

	scopes := make([]sweepScope, 0, len(verticals))
	covered := make(map[string]bool)
	for _, v := range verticals {
		members, err := s.resolver.VerticalMembers(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			covered[id] = true
		}
		scopes = append(scopes, sweepScope{name: v.Name, members: members})
	}

	pending, err := s.store.PendingOfferIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range pending {
		if !covered[id] {
			scopes = append(scopes, sweepScope{name: id, members: []string{id}})
		}
	}

	return scopes, nil
}

func (s *Sweeper) flushScope(ctx context.Context, scope sweepScope) ScopeResult {
	drained, err := s.store.DrainScope(ctx, scope.members)
	if err != nil {
		zap.L().Error("sweep failed to drain scope", zap.String("scope", scope.name), zap.Error(err))
		return ScopeResult{
			Scope:  scope.name,
			Action: "error",
			Error:  err.Error(),
		}
	}

	if len(drained) == 0 {
		return ScopeResult{
			Scope:   scope.name,
			Success: true,
			Action:  "no_cache",
		}
	}

	total := decimal.Zero
	for _, row := range drained {
		total = total.Add(row.Amount)
	}

	// The oldest row lends its identity to the combined postback; any key in
	// the scope would do, this one is just deterministic.
	rep := drained[0]

	result, sendErr := s.sender.Send(ctx, rep.AttributionKey, rep.OfferID, total)
	s.audit.Postback(ctx, rep.AttributionKey, rep.OfferID, total, result, sendErr)

	entry := DecisionLog{
		AttributionKey: rep.AttributionKey,
		OfferID:        rep.OfferID,
		CachedAmount:   nullDec(total),
		TotalSent:      nullDec(total),
	}

	if sendErr != nil {
		zap.L().Warn("sweep postback failed",
			zap.String("scope", scope.name),
			zap.String("total", total.String()),
			zap.Error(sendErr),
		)
		entry.Action = "sweep_postback_failed"
		entry.Message = fmt.Sprintf("Sweep flushed %d conversions for scope %q, total %s, postback failed: %v",
			len(drained), scope.name, total, sendErr)
		s.audit.Decision(ctx, entry)

		return ScopeResult{
			Scope:       scope.name,
			Action:      "cache_flushed",
			Conversions: len(drained),
			TotalAmount: total,

			AttributionKey: rep.AttributionKey,
			OfferID:        rep.OfferID,
			Error:          sendErr.Error(),
		}
	}

	entry.Action = "sweep_postback_success"
	entry.Message = fmt.Sprintf("Sweep flushed %d conversions for scope %q, total %s",
		len(drained), scope.name, total)
	s.audit.Decision(ctx, entry)

	return ScopeResult{
		Scope:           scope.name,
		Success:         true,
		Action:          "cache_flushed",
		Conversions:     len(drained),
		TotalAmount:     total,
		AttributionKey:  rep.AttributionKey,
		OfferID:         rep.OfferID,
		PostbackSuccess: true,
	}
}
