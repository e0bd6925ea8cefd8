// Package service implements the marketplace: listings, purchase requests,
// settlement, trade aggregates and the expiry sweeper. Services only talk to
// the interfaces in internal/domain, so every backend (postgres, redis,
// memory) plugs in the same way.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// ConfigSource returns the current marketplace settings.
type ConfigSource interface {
	Get(ctx context.Context) (domain.MarketplaceConfig, error)
}

// Alerter notifies operators about failures that need a human.
type Alerter interface {
	Alert(ctx context.Context, event string, fields map[string]any) error
}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, string, map[string]any) error { return nil }

// eventSink wraps an EventPublisher so publish failures are logged and never
// returned: by the time an event is sent the mutation has already committed.
type eventSink struct {
	events domain.EventPublisher
	logger *slog.Logger
}

func (e eventSink) toPlayer(ctx context.Context, playerID, event string, payload any) {
	if playerID == "" {
		return
	}
	if err := e.events.PublishToPlayer(ctx, playerID, event, payload); err != nil {
		e.logger.WarnContext(ctx, "publish to player failed",
			slog.String("event", event),
			slog.String("player_id", playerID),
			slog.String("error", err.Error()),
		)
	}
}

func (e eventSink) toTopic(ctx context.Context, topic, event string, payload any) {
	if err := e.events.PublishToTopic(ctx, topic, event, payload); err != nil {
		e.logger.WarnContext(ctx, "publish to topic failed",
			slog.String("event", event),
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

func (e eventSink) toAll(ctx context.Context, event string, payload any) {
	if err := e.events.PublishToAll(ctx, event, payload); err != nil {
		e.logger.WarnContext(ctx, "publish to all failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func listingEvent(l domain.Listing, reason domain.CloseReason, side domain.TradeSide) domain.ListingEvent {
	return domain.ListingEvent{
		ListingID:        l.ID,
		SellerID:         l.SellerID,
		BuyerID:          l.BuyerID,
		ItemDefinitionID: l.ItemDefinitionID,
		ItemInstanceID:   l.ItemInstanceID,
		Price:            l.Price,
		CurrencyID:       l.CurrencyID,
		Reason:           reason,
		Side:             side,
	}
}

func requestEvent(r domain.PurchaseRequest, reason domain.CloseReason) domain.RequestEvent {
	return domain.RequestEvent{
		RequestID:        r.ID,
		BuyerID:          r.BuyerID,
		ItemDefinitionID: r.ItemDefinitionID,
		MaxPrice:         r.MaxPrice,
		Quantity:         r.Quantity,
		Reason:           reason,
		Side:             domain.TradeSidePurchase,
	}
}

func listingItem(l domain.Listing) domain.ItemInstance {
	return domain.ItemInstance{
		InstanceID:   l.ItemInstanceID,
		DefinitionID: l.ItemDefinitionID,
		Quantity:     max(l.Quantity, 1),
	}
}
