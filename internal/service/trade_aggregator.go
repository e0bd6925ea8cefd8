package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// TradeUpdateScope selects who receives trade_update events.
type TradeUpdateScope string

const (
	// ScopeAll sends every update to every connected session.
	ScopeAll TradeUpdateScope = "all"
	// ScopeTopic sends updates only to subscribers of trade:<id>.
	ScopeTopic TradeUpdateScope = "topic"
)

const maxConcurrentAggregates = 8

// TradeAggregator derives best ask/bid summaries from the open listings and
// purchase requests of an item definition.
type TradeAggregator struct {
	listings domain.ListingStore
	requests domain.PurchaseRequestStore
	events   eventSink
	scope    TradeUpdateScope
	pageSize int
	now      Clock
	logger   *slog.Logger
}

// NewTradeAggregator creates a TradeAggregator.
func NewTradeAggregator(
	listings domain.ListingStore,
	requests domain.PurchaseRequestStore,
	events domain.EventPublisher,
	scope TradeUpdateScope,
	pageSize int,
	logger *slog.Logger,
) *TradeAggregator {
	if scope != ScopeTopic {
		scope = ScopeAll
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return &TradeAggregator{
		listings: listings,
		requests: requests,
		events:   eventSink{events: events, logger: logger},
		scope:    scope,
		pageSize: pageSize,
		now:      systemClock,
		logger:   logger,
	}
}

// WithClock replaces the clock used to decide which orders are still open.
func (a *TradeAggregator) WithClock(c Clock) *TradeAggregator {
	a.now = c
	return a
}

// GetTrade summarises the open book for one item definition.
func (a *TradeAggregator) GetTrade(ctx context.Context, itemDefinitionID string) (domain.TradeAggregate, error) {
	if itemDefinitionID == "" {
		return domain.TradeAggregate{}, fmt.Errorf("trade_aggregator: empty item definition: %w", domain.ErrInvalidArgument)
	}
	now := a.now()

	asks, err := a.listings.AskSummary(ctx, itemDefinitionID, now)
	if err != nil {
		return domain.TradeAggregate{}, fmt.Errorf("trade_aggregator: asks %s: %w", itemDefinitionID, err)
	}
	bids, err := a.requests.BidSummary(ctx, itemDefinitionID, now)
	if err != nil {
		return domain.TradeAggregate{}, fmt.Errorf("trade_aggregator: bids %s: %w", itemDefinitionID, err)
	}

	return domain.TradeAggregate{
		ItemDefinitionID: itemDefinitionID,
		BestAskPrice:     asks.Best,
		BestBidPrice:     bids.Best,
		ActiveSaleCount:  asks.Count,
		ActiveBidCount:   bids.Count,
		ComputedAt:       now,
	}, nil
}

// GetTrades returns one aggregate per distinct id, in first-seen order.
func (a *TradeAggregator) GetTrades(ctx context.Context, ids []string) ([]domain.TradeAggregate, error) {
	seen := make(map[string]bool, len(ids))
	var unique []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	out := make([]domain.TradeAggregate, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAggregates)
	for i, id := range unique {
		g.Go(func() error {
			agg, err := a.GetTrade(gctx, id)
			if err != nil {
				return err
			}
			out[i] = agg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PublishTradeUpdate recomputes the aggregate and pushes a trade_update.
// Failures are logged only: the mutation that triggered the update has
// already succeeded.
func (a *TradeAggregator) PublishTradeUpdate(ctx context.Context, itemDefinitionID string) {
	agg, err := a.GetTrade(ctx, itemDefinitionID)
	if err != nil {
		a.logger.WarnContext(ctx, "trade aggregate recompute failed",
			slog.String("item_definition_id", itemDefinitionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if a.scope == ScopeTopic {
		a.events.toTopic(ctx, domain.TradeTopic(itemDefinitionID), domain.EventTradeUpdate, agg)
		return
	}
	a.events.toAll(ctx, domain.EventTradeUpdate, agg)
}

// GetOpenAsks returns page (1-based) of open listings, cheapest first.
func (a *TradeAggregator) GetOpenAsks(ctx context.Context, itemDefinitionID string, page int) ([]domain.Listing, error) {
	out, err := a.listings.ListOpenByItem(ctx, itemDefinitionID, a.now(), a.pageOpts(page))
	if err != nil {
		return nil, fmt.Errorf("trade_aggregator: open asks %s: %w", itemDefinitionID, err)
	}
	return out, nil
}

// GetOpenBids returns page (1-based) of open purchase requests, highest
// bid first.
func (a *TradeAggregator) GetOpenBids(ctx context.Context, itemDefinitionID string, page int) ([]domain.PurchaseRequest, error) {
	out, err := a.requests.ListOpenByItem(ctx, itemDefinitionID, a.now(), a.pageOpts(page))
	if err != nil {
		return nil, fmt.Errorf("trade_aggregator: open bids %s: %w", itemDefinitionID, err)
	}
	return out, nil
}

func (a *TradeAggregator) pageOpts(page int) domain.ListOpts {
	page = max(page, 1)
	return domain.ListOpts{Limit: a.pageSize, Offset: (page - 1) * a.pageSize}
}
