package registry

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"convtrack/pkg/config"
	"convtrack/services/testutil"
)

func newTestResolver(t *testing.T, mode string) (*Resolver, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Vertical{}, &Offer{})

	cfg := &config.Config{}
	cfg.Aggregation.ScopeMode = mode
	cfg.Aggregation.DefaultThreshold = "10.00"

	resolver, err := NewResolver(ResolverParams{DB: db, Config: cfg})
	require.NoError(t, err)

	return resolver, db
}

func seedRegistry(t *testing.T, db *gorm.DB) {
	t.Helper()

	nutra := "nutra"
	require.NoError(t, db.Create(&Vertical{
		ID:        nutra,
		Name:      "Nutra",
		Threshold: decimal.RequireFromString("20.00"),
	}).Error)

	require.NoError(t, db.Create(&Offer{ID: "offer-a", Name: "Offer A", VerticalID: &nutra}).Error)
	require.NoError(t, db.Create(&Offer{ID: "offer-b", Name: "Offer B", VerticalID: &nutra}).Error)
	require.NoError(t, db.Create(&Offer{ID: "solo", Name: "Solo Offer"}).Error)
}

func TestNewResolver_InvalidConfig(t *testing.T) {
	db := testutil.NewTestDB(t)

	cfg := &config.Config{}
	cfg.Aggregation.ScopeMode = "per-campaign"
	cfg.Aggregation.DefaultThreshold = "10.00"
	_, err := NewResolver(ResolverParams{DB: db, Config: cfg})
	require.Error(t, err)

	cfg.Aggregation.ScopeMode = "vertical"
	cfg.Aggregation.DefaultThreshold = "not-a-number"
	_, err = NewResolver(ResolverParams{DB: db, Config: cfg})
	require.Error(t, err)

	cfg.Aggregation.DefaultThreshold = "0"
	_, err = NewResolver(ResolverParams{DB: db, Config: cfg})
	require.Error(t, err)
}

func TestResolver_Threshold(t *testing.T) {
	resolver, db := newTestResolver(t, "vertical")
	seedRegistry(t, db)
	ctx := context.Background()

	got, err := resolver.Threshold(ctx, "offer-a")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("20.00")))

	// Unassigned offers fall back to the configured default.
	got, err = resolver.Threshold(ctx, "solo")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("10.00")))

	// Unknown offers too.
	got, err = resolver.Threshold(ctx, "nope")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("10.00")))
}

func TestResolver_ThresholdNonPositiveFallsBack(t *testing.T) {
	resolver, db := newTestResolver(t, "vertical")

	broken := "broken"
	require.NoError(t, db.Create(&Vertical{ID: broken, Name: "Broken", Threshold: decimal.Zero}).Error)
	require.NoError(t, db.Create(&Offer{ID: "offer-x", Name: "X", VerticalID: &broken}).Error)

	got, err := resolver.Threshold(context.Background(), "offer-x")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("10.00")))
}

func TestResolver_ScopeMembersVerticalMode(t *testing.T) {
	resolver, db := newTestResolver(t, "vertical")
	seedRegistry(t, db)
	ctx := context.Background()

	members, err := resolver.ScopeMembers(ctx, "offer-a")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"offer-a", "offer-b"}, members)

	members, err = resolver.ScopeMembers(ctx, "solo")
	require.NoError(t, err)
	require.Equal(t, []string{"solo"}, members)

	members, err = resolver.ScopeMembers(ctx, "unregistered")
	require.NoError(t, err)
	require.Equal(t, []string{"unregistered"}, members)
}

func TestResolver_ScopeMembersOfferMode(t *testing.T) {
	resolver, db := newTestResolver(t, "offer")
	seedRegistry(t, db)

	members, err := resolver.ScopeMembers(context.Background(), "offer-a")
	require.NoError(t, err)
	require.Equal(t, []string{"offer-a"}, members)
}

func TestResolver_ScopeMembersGlobalMode(t *testing.T) {
	resolver, db := newTestResolver(t, "global")
	seedRegistry(t, db)

	members, err := resolver.ScopeMembers(context.Background(), "offer-a")
	require.NoError(t, err)
	require.Nil(t, members)
}

func TestResolver_Lookup(t *testing.T) {
	resolver, db := newTestResolver(t, "vertical")
	seedRegistry(t, db)
	ctx := context.Background()

	offer, err := resolver.Lookup(ctx, "offer-a")
	require.NoError(t, err)
	require.NotNil(t, offer)
	require.Equal(t, "offer-a", offer.ID)

	offer, err = resolver.Lookup(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, offer)
}

func TestResolver_Verticals(t *testing.T) {
	resolver, db := newTestResolver(t, "vertical")
	seedRegistry(t, db)
	ctx := context.Background()

	verticals, err := resolver.Verticals(ctx)
	require.NoError(t, err)
	require.Len(t, verticals, 1)
	require.Equal(t, "Nutra", verticals[0].Name)

	vertical, err := resolver.Vertical(ctx, "nutra")
	require.NoError(t, err)
	require.NotNil(t, vertical)

	vertical, err = resolver.Vertical(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, vertical)
}
