package registry

import (
	"context"
	"errors"
	"fmt"

	"convtrack/pkg/config"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// ScopeMode controls how offers are pooled into aggregation scopes.
type ScopeMode string

const (
	// ScopeGlobal pools every pending conversion into a single scope.
	ScopeGlobal ScopeMode = "global"
	// ScopeOffer pools per offer.
	ScopeOffer ScopeMode = "offer"
	// ScopePerVertical pools all offers sharing a vertical; an unassigned
	// offer is its own singleton scope.
	ScopePerVertical ScopeMode = "vertical"
)

// Resolver answers read-only scope questions against the offer/vertical
// registry: which offers share a pool with a given offer, and which payout
// threshold applies. It performs no writes.
type Resolver struct {
	db               *gorm.DB
	mode             ScopeMode
	defaultThreshold decimal.Decimal
}

type ResolverParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewResolver(p ResolverParams) (*Resolver, error) {
	mode := ScopeMode(p.Config.Aggregation.ScopeMode)
	switch mode {
	case ScopeGlobal, ScopeOffer, ScopePerVertical:
	default:
		return nil, fmt.Errorf("invalid scope mode %q", p.Config.Aggregation.ScopeMode)
	}

	threshold, err := decimal.NewFromString(p.Config.Aggregation.DefaultThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid default threshold %q: %w", p.Config.Aggregation.DefaultThreshold, err)
	}
	if !threshold.IsPositive() {
		return nil, fmt.Errorf("default threshold must be > 0, got %s", threshold)
	}

	return &Resolver{
		db:               p.DB,
		mode:             mode,
		defaultThreshold: threshold,
	}, nil
}

func (r *Resolver) Mode() ScopeMode { return r.mode }

func (r *Resolver) DefaultThreshold() decimal.Decimal { return r.defaultThreshold }

// Lookup returns the offer, or nil when the registry does not know it.
func (r *Resolver) Lookup(ctx context.Context, offerID string) (*Offer, error) {
	var offer Offer
	err := r.db.WithContext(ctx).Where("offer_id = ?", offerID).First(&offer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// Threshold returns the payout threshold that applies to the offer: the
// vertical's threshold when the offer is assigned to one with a positive
// threshold, otherwise the configured default.
func (r *Resolver) Threshold(ctx context.Context, offerID string) (decimal.Decimal, error) {
	if r.mode == ScopeGlobal {
		return r.defaultThreshold, nil
	}

	offer, err := r.Lookup(ctx, offerID)
	if err != nil {
		return decimal.Zero, err
	}
	if offer == nil || offer.VerticalID == nil {
		return r.defaultThreshold, nil
	}

	var vertical Vertical
	err = r.db.WithContext(ctx).Where("vertical_id = ?", *offer.VerticalID).First(&vertical).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.defaultThreshold, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !vertical.Threshold.IsPositive() {
		return r.defaultThreshold, nil
	}
	return vertical.Threshold, nil
}

// ScopeMembers returns the offer identifiers pooled with offerID under the
// configured scope mode. A nil slice means the scope is unbounded (global
// mode); callers treat it as "all rows".
func (r *Resolver) ScopeMembers(ctx context.Context, offerID string) ([]string, error) {
	switch r.mode {
	case ScopeGlobal:
		return nil, nil
	case ScopeOffer:
		return []string{offerID}, nil
	}

	offer, err := r.Lookup(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil || offer.VerticalID == nil {
		return []string{offerID}, nil
	}

	return r.VerticalMembers(ctx, *offer.VerticalID)
}

// VerticalMembers lists every offer assigned to the vertical.
func (r *Resolver) VerticalMembers(ctx context.Context, verticalID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&Offer{}).
		Where("vertical_id = ?", verticalID).
		Pluck("offer_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Verticals lists every vertical in the registry.
func (r *Resolver) Verticals(ctx context.Context) ([]Vertical, error) {
	var verticals []Vertical
	err := r.db.WithContext(ctx).Order("vertical_id ASC").Find(&verticals).Error
	if err != nil {
		return nil, err
	}
	return verticals, nil
}

// Vertical returns one vertical by id, or nil when it does not exist.
func (r *Resolver) Vertical(ctx context.Context, verticalID string) (*Vertical, error) {
	var vertical Vertical
	err := r.db.WithContext(ctx).Where("vertical_id = ?", verticalID).First(&vertical).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vertical, nil
}
