package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
)

func TestPurchaseSettlesSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	h.mem.Seed("buyer", coins, 6000)

	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	tx, err := h.settlement.Purchase(ctx, "buyer", l.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), tx.Price)
	assert.Equal(t, int64(250), tx.Commission)
	assert.Equal(t, int64(4750), tx.SellerReceived)
	assert.Equal(t, int64(1000), h.balance(t, "buyer"))
	assert.Equal(t, int64(4750), h.balance(t, "seller"))
	assert.True(t, h.owns("buyer", "inst-1"))
	assert.False(t, h.owns("seller", "inst-1"))

	sold := h.listing(t, l.ID)
	assert.Equal(t, domain.ListingStatusSold, sold.Status)
	assert.Equal(t, "buyer", sold.BuyerID)
	assert.Equal(t, int64(250), sold.Commission)
	require.NotNil(t, sold.FinalizedAt)

	stored, err := h.txs.GetByListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, stored.ID)

	closed := h.events.named(domain.EventListingClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "seller", closed[0].target)
	ev := closed[0].payload.(domain.ListingEvent)
	assert.Equal(t, domain.CloseReasonSold, ev.Reason)
	require.NotNil(t, ev.Item)
	assert.Equal(t, "inst-1", ev.Item.InstanceID)

	bought := h.events.named(domain.EventRequestClosed)
	require.Len(t, bought, 1)
	assert.Equal(t, "buyer", bought[0].target)
	assert.Len(t, h.events.named(domain.EventTradeClosed), 2)
	assert.NotEmpty(t, h.events.named(domain.EventTradeUpdate))
}

func TestPurchaseIsAtMostOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const buyers = 16
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	for i := range buyers {
		h.mem.Seed(fmt.Sprintf("buyer-%d", i), coins, 10000)
	}
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.settlement.Purchase(ctx, fmt.Sprintf("buyer-%d", i), l.ID)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrNotActive)
	}
	assert.Equal(t, 1, wins)

	var total int64
	owners := 0
	for i := range buyers {
		id := fmt.Sprintf("buyer-%d", i)
		total += h.balance(t, id)
		if h.owns(id, "inst-1") {
			owners++
		}
	}
	total += h.balance(t, "seller")
	assert.Equal(t, int64(buyers*10000-250), total, "only the commission leaves circulation")
	assert.Equal(t, 1, owners)
}

func TestPurchaseOwnListingForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 10000, item("inst-1", "44002"))
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	_, err = h.settlement.Purchase(ctx, "seller", l.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, domain.ListingStatusActive, h.listing(t, l.ID).Status)
	assert.Equal(t, int64(10000), h.balance(t, "seller"))
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	h.mem.Seed("buyer", coins, 4999)
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	_, err = h.settlement.Purchase(ctx, "buyer", l.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.ListingStatusActive, h.listing(t, l.ID).Status)
	assert.Equal(t, int64(4999), h.balance(t, "buyer"))
}

func TestPurchaseRejectsUnknownAndExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	h.mem.Seed("buyer", coins, 10000)

	_, err := h.settlement.Purchase(ctx, "buyer", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)
	h.clock.Advance(61 * time.Minute)

	_, err = h.settlement.Purchase(ctx, "buyer", l.ID)
	assert.ErrorIs(t, err, domain.ErrNotActive)
	assert.Equal(t, int64(10000), h.balance(t, "buyer"))
}

func TestPurchaseRevertsWhenDebitRefused(t *testing.T) {
	var flaky *flakyLedger
	h := newHarness(t, withLedger(func(mem *memory.Ledger) domain.Ledger {
		flaky = &flakyLedger{Ledger: mem}
		return flaky
	}))
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	flaky.drained.Store(true)
	_, err = h.settlement.Purchase(ctx, "buyer", l.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	reverted := h.listing(t, l.ID)
	assert.Equal(t, domain.ListingStatusActive, reverted.Status)
	assert.Empty(t, reverted.BuyerID)
	assert.Nil(t, reverted.FinalizedAt)
	assert.Equal(t, int64(0), h.balance(t, "seller"))
	_, err = h.txs.GetByListing(ctx, l.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	flaky.drained.Store(false)
	h.mem.Seed("buyer", coins, 5000)
	_, err = h.settlement.Purchase(ctx, "buyer", l.ID)
	require.NoError(t, err, "a reverted listing can be bought again")
}

func TestRefusedDebitKeepsSaleOnceDebited(t *testing.T) {
	var flaky *flakyLedger
	h := newHarness(t, withLedger(func(mem *memory.Ledger) domain.Ledger {
		flaky = &flakyLedger{Ledger: mem}
		return flaky
	}))
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	h.mem.Seed("buyer", coins, 6000)
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	flaky.raced.Store(true)
	tx, err := h.settlement.Purchase(ctx, "buyer", l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4750), tx.SellerReceived)

	sold := h.listing(t, l.ID)
	assert.Equal(t, domain.ListingStatusSold, sold.Status, "a debited sale is never reopened")
	assert.NotNil(t, sold.FinalizedAt)
	assert.Equal(t, int64(1000), h.balance(t, "buyer"))
	assert.Equal(t, int64(4750), h.balance(t, "seller"))
	assert.True(t, h.owns("buyer", "inst-1"))
}

func TestSettlementWithdrawsUnescrowedSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("buyer", coins, 6000)

	// A sold listing whose item was never escrowed and is gone.
	now := h.clock.Now()
	l := domain.Listing{
		ID:               "l-1",
		SellerID:         "seller",
		ItemInstanceID:   "inst-1",
		ItemDefinitionID: "44002",
		Price:            5000,
		CurrencyID:       coins,
		Quantity:         1,
		Status:           domain.ListingStatusActive,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Hour),
	}
	require.NoError(t, h.listings.Insert(ctx, l))

	_, err := h.settlement.Purchase(ctx, "buyer", l.ID)
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	withdrawn := h.listing(t, l.ID)
	assert.Equal(t, domain.ListingStatusCancelled, withdrawn.Status)
	assert.NotNil(t, withdrawn.FinalizedAt)
	assert.Equal(t, int64(6000), h.balance(t, "buyer"), "nothing is debited")
	assert.Empty(t, h.mem.Items("buyer"))
}

func TestPendingSettlementIsRepaired(t *testing.T) {
	var flaky *flakyLedger
	h := newHarness(t, withLedger(func(mem *memory.Ledger) domain.Ledger {
		flaky = &flakyLedger{Ledger: mem}
		return flaky
	}))
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"))
	h.mem.Seed("buyer", coins, 6000)
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	flaky.creditFailures.Store(100)
	_, err = h.settlement.Purchase(ctx, "buyer", l.ID)
	require.ErrorIs(t, err, domain.ErrSettlementPending)
	assert.Equal(t, domain.CodeSettlementPending, domain.Code(err))

	pending := h.listing(t, l.ID)
	assert.Equal(t, domain.ListingStatusSold, pending.Status)
	assert.Nil(t, pending.FinalizedAt)
	assert.Equal(t, int64(1000), h.balance(t, "buyer"))
	assert.Equal(t, int64(0), h.balance(t, "seller"))
	h.alerter.AssertCalled(t, "Alert", mock.Anything, domain.EventSettlementStuck, mock.Anything)

	entries, err := h.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.EventSettlementStuck, entries[0].Event)

	flaky.creditFailures.Store(0)

	// Inside the grace period the sweeper leaves it alone.
	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Repaired)

	h.clock.Advance(3 * time.Minute)
	report, err = h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	done := h.listing(t, l.ID)
	require.NotNil(t, done.FinalizedAt)
	assert.Equal(t, int64(1000), h.balance(t, "buyer"), "buyer debited exactly once")
	assert.Equal(t, int64(4750), h.balance(t, "seller"))
	assert.True(t, h.owns("buyer", "inst-1"))

	// Re-running completion changes nothing.
	first, err := h.txs.GetByListing(ctx, l.ID)
	require.NoError(t, err)
	again, err := h.settlement.CompleteSettlement(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(1000), h.balance(t, "buyer"))
	assert.Equal(t, int64(4750), h.balance(t, "seller"))
}

func TestDisabledMarketplaceRejectsTrading(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("seller", coins, 0, item("inst-1", "44002"), item("inst-2", "44002"))
	h.mem.Seed("buyer", coins, 10000)
	l, err := h.listingSvc.CreateListing(ctx, "seller", "inst-1", 5000, "")
	require.NoError(t, err)

	cfg := testMarketplaceConfig()
	cfg.Enabled = false
	require.NoError(t, h.config.Update(ctx, cfg))

	_, err = h.settlement.Purchase(ctx, "buyer", l.ID)
	assert.ErrorIs(t, err, domain.ErrMarketplaceDisabled)
	_, err = h.listingSvc.CreateListing(ctx, "seller", "inst-2", 5000, "")
	assert.ErrorIs(t, err, domain.ErrMarketplaceDisabled)
	_, err = h.requestSvc.CreatePurchaseRequest(ctx, "buyer", "44002", 4000, 1)
	assert.ErrorIs(t, err, domain.ErrMarketplaceDisabled)

	// Sellers can still take their items back.
	require.NoError(t, h.listingSvc.CancelListing(ctx, "seller", l.ID))
	assert.True(t, h.owns("seller", "inst-1"))
}
