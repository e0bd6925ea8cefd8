package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
)

func TestGetTradeSummarisesOpenBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("s1", coins, 0, item("a", "44002"), item("b", "44002"), item("c", "44002"))

	for _, p := range []struct {
		inst  string
		price int64
	}{{"a", 5000}, {"b", 4500}, {"c", 6000}} {
		_, err := h.listingSvc.CreateListing(ctx, "s1", p.inst, p.price, "")
		require.NoError(t, err)
	}
	for _, bid := range []int64{4000, 4200} {
		_, err := h.requestSvc.CreatePurchaseRequest(ctx, "b1", "44002", bid, 1)
		require.NoError(t, err)
	}

	agg, err := h.trades.GetTrade(ctx, "44002")
	require.NoError(t, err)
	require.NotNil(t, agg.BestAskPrice)
	require.NotNil(t, agg.BestBidPrice)
	assert.Equal(t, int64(4500), *agg.BestAskPrice)
	assert.Equal(t, int64(4200), *agg.BestBidPrice)
	assert.Equal(t, 3, agg.ActiveSaleCount)
	assert.Equal(t, 2, agg.ActiveBidCount)

	// Expired orders stop counting even before the sweeper runs.
	h.clock.Advance(61 * time.Minute)
	agg, err = h.trades.GetTrade(ctx, "44002")
	require.NoError(t, err)
	assert.Nil(t, agg.BestAskPrice)
	assert.Nil(t, agg.BestBidPrice)
	assert.Zero(t, agg.ActiveSaleCount)
	assert.Zero(t, agg.ActiveBidCount)

	_, err = h.trades.GetTrade(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetTradesKeepsOrderAndCollapsesDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("s1", coins, 0, item("a", "51001"))
	_, err := h.listingSvc.CreateListing(ctx, "s1", "a", 700, "")
	require.NoError(t, err)

	aggs, err := h.trades.GetTrades(ctx, []string{"51001", "44002", "51001", ""})
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, "51001", aggs[0].ItemDefinitionID)
	assert.Equal(t, "44002", aggs[1].ItemDefinitionID)
	assert.Equal(t, 1, aggs[0].ActiveSaleCount)
	assert.Zero(t, aggs[1].ActiveSaleCount)
}

func TestOpenAsksAndBidsArePaged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.Seed("s1", coins, 0, item("a", "44002"), item("b", "44002"), item("c", "44002"))
	for inst, price := range map[string]int64{"a": 3000, "b": 1000, "c": 2000} {
		_, err := h.listingSvc.CreateListing(ctx, "s1", inst, price, "")
		require.NoError(t, err)
	}
	for _, bid := range []int64{500, 900, 700} {
		_, err := h.requestSvc.CreatePurchaseRequest(ctx, "b1", "44002", bid, 1)
		require.NoError(t, err)
	}

	first, err := h.trades.GetOpenAsks(ctx, "44002", 1)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1000), first[0].Price)
	assert.Equal(t, int64(2000), first[1].Price)

	second, err := h.trades.GetOpenAsks(ctx, "44002", 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, int64(3000), second[0].Price)

	bids, err := h.trades.GetOpenBids(ctx, "44002", 0)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, int64(900), bids[0].MaxPrice)
	assert.Equal(t, int64(700), bids[1].MaxPrice)
}

func TestTradeUpdateScope(t *testing.T) {
	events := &recordingPublisher{}
	agg := NewTradeAggregator(memory.NewListingStore(), memory.NewPurchaseRequestStore(), events, ScopeTopic, 20, discardLogger())

	agg.PublishTradeUpdate(context.Background(), "44002")
	updates := events.named(domain.EventTradeUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "topic", updates[0].kind)
	assert.Equal(t, "trade:44002", updates[0].target)

	events = &recordingPublisher{}
	agg = NewTradeAggregator(memory.NewListingStore(), memory.NewPurchaseRequestStore(), events, "", 20, discardLogger())
	agg.PublishTradeUpdate(context.Background(), "44002")
	updates = events.named(domain.EventTradeUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "all", updates[0].kind)
}
