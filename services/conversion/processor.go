package conversion

import (
	"context"
	"fmt"

	"convtrack/pkg/config"
	"convtrack/pkg/postback"
	"convtrack/services/registry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Event is one inbound conversion, already resolved at the HTTP boundary into
// one of the two request variants.
type Event interface {
	attributionKey() string
	rawAmount() string
}

// ScopedEvent is a conversion attributed to a specific offer. Used in offer
// and vertical scope modes.
type ScopedEvent struct {
	AttributionKey string
	OfferID        string
	RawAmount      string
}

func (e ScopedEvent) attributionKey() string { return e.AttributionKey }
func (e ScopedEvent) rawAmount() string      { return e.RawAmount }

// GlobalEvent is a legacy conversion with no offer attribution. Only legal in
// global scope mode, where every pending amount shares one pool.
type GlobalEvent struct {
	AttributionKey string
	RawAmount      string
}

func (e GlobalEvent) attributionKey() string { return e.AttributionKey }
func (e GlobalEvent) rawAmount() string      { return e.RawAmount }

// Processor is the request-time decision engine: validate, resolve scope,
// compare against the payout threshold, then cache or flush-and-forward.
type Processor struct {
	store    Store
	resolver *registry.Resolver
	sender   postback.Sender
	audit    *Audit

	passthroughUnknown bool
}

type ProcessorParams struct {
	fx.In
	Store    Store
	Resolver *registry.Resolver
	Sender   postback.Sender
	Audit    *Audit
	Config   *config.Config
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		store:              p.Store,
		resolver:           p.Resolver,
		sender:             p.Sender,
		audit:              p.Audit,
		passthroughUnknown: p.Config.Aggregation.PassthroughUnknownOffers,
	}
}

// Process runs one event through the decision state machine. A non-nil error
// means the store or registry was unavailable and nothing was decided; every
// other path terminates in an Outcome. Downstream forward failure is an
// Outcome, not an error: the inbound event still counts as processed.
func (p *Processor) Process(ctx context.Context, ev Event) (Outcome, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	key := ev.attributionKey()

	var (
		offerID string
		scoped  bool
	)
	switch e := ev.(type) {
	case ScopedEvent:
		offerID = e.OfferID
		scoped = true
	case GlobalEvent:
	default:
		return "", fmt.Errorf("unsupported event type %T", ev)
	}

	if !ValidAttributionKey(key) {
		zapLog.Info("conversion rejected", zap.String("clickid", key), zap.String("reason", "invalid attribution key"))
		p.audit.Decision(ctx, DecisionLog{
			AttributionKey: key,
			OfferID:        offerID,
			Action:         "rejected",
			Message:        "invalid attribution key",
		})
		return OutcomeRejected, nil
	}

	if scoped && !ValidOfferID(offerID) {
		zapLog.Info("conversion rejected", zap.String("clickid", key), zap.String("reason", "invalid offer id"))
		p.audit.Decision(ctx, DecisionLog{
			AttributionKey: key,
			Action:         "rejected",
			Message:        "invalid offer id",
		})
		return OutcomeRejected, nil
	}

	amount, ok := ParseAmount(ev.rawAmount())
	if !ok {
		zapLog.Info("conversion rejected", zap.String("clickid", key), zap.String("reason", "invalid amount"))
		p.audit.Decision(ctx, DecisionLog{
			AttributionKey: key,
			OfferID:        offerID,
			Action:         "rejected",
			Message:        fmt.Sprintf("invalid amount %q", ev.rawAmount()),
		})
		return OutcomeRejected, nil
	}

	zapLog = zapLog.With(
		zap.String("clickid", key),
		zap.String("offer_id", offerID),
		zap.String("amount", amount.String()),
	)

	var members []string // nil covers every row (global scope)
	threshold := p.resolver.DefaultThreshold()

	if scoped {
		offer, err := p.resolver.Lookup(ctx, offerID)
		if err != nil {
			return "", err
		}
		if offer == nil {
			if !p.passthroughUnknown {
				zapLog.Info("conversion rejected", zap.String("reason", "unknown offer"))
				p.audit.Decision(ctx, DecisionLog{
					AttributionKey: key,
					OfferID:        offerID,
					Action:         "rejected",
					Message:        "unknown offer",
				})
				return OutcomeRejected, nil
			}

			// Pass-through for unrecognized campaigns: forward the raw amount
			// untouched, skipping the cache and threshold entirely.
			zapLog.Info("unknown offer, forwarding raw amount")
			return p.forward(ctx, zapLog, key, offerID, amount, amount, "passthrough"), nil
		}

		if members, err = p.resolver.ScopeMembers(ctx, offerID); err != nil {
			return "", err
		}
		if threshold, err = p.resolver.Threshold(ctx, offerID); err != nil {
			return "", err
		}
	}

	pending, err := p.store.SumForScope(ctx, members)
	if err != nil {
		return "", err
	}

	if amount.LessThan(threshold) {
		if err := p.store.Add(ctx, key, offerID, amount); err != nil {
			return "", err
		}
		scopeTotal := pending.Add(amount)
		zapLog.Info("conversion cached below threshold",
			zap.String("threshold", threshold.String()),
			zap.String("scope_total", scopeTotal.String()),
		)
		p.audit.Decision(ctx, DecisionLog{
			AttributionKey: key,
			OfferID:        offerID,
			OriginalAmount: nullDec(amount),
			CachedAmount:   nullDec(scopeTotal),
			Action:         "cached",
			Message:        fmt.Sprintf("Cached sub-threshold conversion. Scope total: %s", scopeTotal),
		})
		return OutcomeCached, nil
	}

	// Threshold met: drain the scope's snapshot and forward the combined
	// amount. The forwarded total is the sum of exactly the rows removed, so
	// racing flushers never double count.
	total := amount
	if pending.IsPositive() {
		drained, err := p.store.DrainScope(ctx, members)
		if err != nil {
			return "", err
		}
		for _, row := range drained {
			total = total.Add(row.Amount)
		}
	}

	zapLog.Info("threshold met, forwarding combined amount",
		zap.String("threshold", threshold.String()),
		zap.String("total", total.String()),
	)
	return p.forward(ctx, zapLog, key, offerID, amount, total, "flush"), nil
}

// forward fires the postback, records the ledger entry and decision log, and
// classifies the outcome. Failure is recorded, never retried.
func (p *Processor) forward(ctx context.Context, zapLog *zap.Logger, key, offerID string, original, total decimal.Decimal, action string) Outcome {
	result, err := p.sender.Send(ctx, key, offerID, total)
	p.audit.Postback(ctx, key, offerID, total, result, err)

	entry := DecisionLog{
		AttributionKey: key,
		OfferID:        offerID,
		OriginalAmount: nullDec(original),
		CachedAmount:   nullDec(total.Sub(original)),
		TotalSent:      nullDec(total),
	}

	if err != nil {
		zapLog.Warn("postback forward failed", zap.Error(err))
		entry.Action = action + "_postback_failed"
		entry.Message = fmt.Sprintf("Postback failed for total %s: %v", total, err)
		p.audit.Decision(ctx, entry)
		return OutcomeForwardFailed
	}

	zapLog.Info("postback forwarded", zap.Int("status_code", result.StatusCode))
	entry.Action = action + "_postback_success"
	entry.Message = fmt.Sprintf("Forwarded total %s downstream", total)
	p.audit.Decision(ctx, entry)
	return OutcomeForwarded
}

func nullDec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
