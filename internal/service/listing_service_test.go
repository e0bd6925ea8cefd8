package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
)

type failingInsertStore struct {
	*memory.ListingStore
}

func (failingInsertStore) Insert(context.Context, domain.Listing) error {
	return errors.New("disk full")
}

func TestCreateListingEscrowsItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))

	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, coins)
	require.NoError(t, err)

	assert.Equal(t, domain.ListingStatusActive, l.Status)
	assert.Equal(t, "44002", l.ItemDefinitionID)
	assert.Equal(t, h.clock.Now().Add(time.Hour), l.ExpiresAt)
	assert.False(t, h.owns("seller", "inst-1"), "listed items are escrowed")

	opened := h.events.named(domain.EventListingOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, "seller", opened[0].target)
	topic := h.events.named(domain.EventTradeOpened)
	require.Len(t, topic, 1)
	assert.Equal(t, "trade:44002", topic[0].target)

	updates := h.events.named(domain.EventTradeUpdate)
	require.Len(t, updates, 1)
	agg := updates[0].payload.(domain.TradeAggregate)
	require.NotNil(t, agg.BestAskPrice)
	assert.Equal(t, int64(5000), *agg.BestAskPrice)
	assert.Equal(t, 1, agg.ActiveSaleCount)
}

func TestCreateListingPricePolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"), item("inst-2", "44002"), item("inst-3", "44002"))

	low, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 50, "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), low.Price)

	high, err := h.listingSvc.CreateListing(ctx, "seller", "inst-2", 250000, "")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), high.Price)

	_, err = h.listingSvc.CreateListing(ctx, "seller", "inst-3", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	cfg := testMarketplaceConfig()
	cfg.PricePolicy = domain.PricePolicyReject
	require.NoError(t, h.config.Update(ctx, cfg))
	_, err = h.listingSvc.CreateListing(ctx, "seller", "inst-3", 50, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	assert.True(t, h.owns("seller", "inst-3"), "rejected listings do not escrow")
}

func TestCreateListingValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0,
		item("inst-1", "44002"),
		item("case-1", "case01"),
		item("medal-1", "bound01"),
		item("ghost-1", "unknown"),
	)

	cases := []struct {
		name     string
		instance string
		currency string
		want     error
	}{
		{"not owned", "inst-9", "", domain.ErrItemNotFound},
		{"restricted category", "case-1", "", domain.ErrRestrictedItem},
		{"not tradable", "medal-1", "", domain.ErrRestrictedItem},
		{"unknown definition", "ghost-1", "", domain.ErrRestrictedItem},
		{"other currency", "inst-1", "gems", domain.ErrInvalidArgument},
		{"empty instance", "", "", domain.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.listingSvc.CreateListing(ctx, "seller", tc.instance, 5000, tc.currency)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Len(t, h.mem.Items("seller"), 4)
	assert.Empty(t, h.events.named(domain.EventListingOpened))
}

func TestCreateListingInsertFailureKeepsItem(t *testing.T) {
	var flaky *flakyLedger
	h := newHarness(t,
		withListingStore(func(mem *memory.ListingStore) domain.ListingStore {
			return failingInsertStore{mem}
		}),
		withLedger(func(mem *memory.Ledger) domain.Ledger {
			flaky = &flakyLedger{Ledger: mem}
			return flaky
		}),
	)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	flaky.addFailures.Store(100)

	_, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.Error(t, err)
	assert.True(t, h.owns("seller", "inst-1"), "nothing moves before the listing is stored")

	flaky.addFailures.Store(0)
	h.clock.Advance(3 * time.Hour)
	_, err = h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, h.owns("seller", "inst-1"))
	assert.Len(t, h.mem.Items("seller"), 1)
}

func TestCreateListingEscrowFailureCancels(t *testing.T) {
	var flaky *flakyLedger
	h := newHarness(t, withLedger(func(mem *memory.Ledger) domain.Ledger {
		flaky = &flakyLedger{Ledger: mem}
		return flaky
	}))
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))

	// Exactly the escrow attempts of CreateListing fail.
	flaky.removeFailures.Store(3)
	_, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.ErrorIs(t, err, errLedgerDown)
	assert.True(t, h.owns("seller", "inst-1"))

	unfinalized, err := h.listings.ListUnfinalized(ctx, h.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, unfinalized)
	listed, err := h.listings.ListActiveBySeller(ctx, "seller")
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.Empty(t, h.events.named(domain.EventListingOpened))

	// The item stays listable.
	_, err = h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)
	assert.False(t, h.owns("seller", "inst-1"))
}

func TestCreateListingEscrowOutageIsRepaired(t *testing.T) {
	var flaky *flakyLedger
	h := newHarness(t, withLedger(func(mem *memory.Ledger) domain.Ledger {
		flaky = &flakyLedger{Ledger: mem}
		return flaky
	}))
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))

	flaky.removeFailures.Store(100)
	_, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.ErrorIs(t, err, domain.ErrSettlementPending)
	assert.Equal(t, domain.CodeSettlementPending, domain.Code(err))
	assert.True(t, h.owns("seller", "inst-1"))

	flaky.removeFailures.Store(0)
	h.clock.Advance(3 * time.Minute)
	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.True(t, h.owns("seller", "inst-1"))
	assert.Len(t, h.mem.Items("seller"), 1)

	unfinalized, err := h.listings.ListUnfinalized(ctx, h.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, unfinalized)
}

func TestCancelListingReturnsItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	assert.ErrorIs(t, h.listingSvc.CancelListing(ctx, "intruder", l.ID), domain.ErrForbidden)
	assert.ErrorIs(t, h.listingSvc.CancelListing(ctx, "seller", "missing"), domain.ErrNotFound)

	require.NoError(t, h.listingSvc.CancelListing(ctx, "seller", l.ID))
	assert.True(t, h.owns("seller", "inst-1"))

	cancelled := h.listing(t, l.ID)
	assert.Equal(t, domain.ListingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.FinalizedAt)

	closed := h.events.named(domain.EventListingClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonCancelled, closed[0].payload.(domain.ListingEvent).Reason)

	assert.ErrorIs(t, h.listingSvc.CancelListing(ctx, "seller", l.ID), domain.ErrNotActive)
	assert.Len(t, h.mem.Items("seller"), 1)
}

func TestCancelListingPendingReturnIsRepaired(t *testing.T) {
	var flaky *flakyLedger
	h := newHarness(t, withLedger(func(mem *memory.Ledger) domain.Ledger {
		flaky = &flakyLedger{Ledger: mem}
		return flaky
	}))
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	flaky.addFailures.Store(100)
	err = h.listingSvc.CancelListing(ctx, "seller", l.ID)
	require.ErrorIs(t, err, domain.ErrSettlementPending)
	assert.Equal(t, domain.ListingStatusCancelled, h.listing(t, l.ID).Status)
	assert.False(t, h.owns("seller", "inst-1"))

	flaky.addFailures.Store(0)
	h.clock.Advance(3 * time.Minute)
	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.True(t, h.owns("seller", "inst-1"))
	assert.NotNil(t, h.listing(t, l.ID).FinalizedAt)
}
