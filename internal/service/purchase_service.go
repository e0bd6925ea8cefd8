package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// PurchaseService manages purchase requests. A request only signals demand:
// nothing is escrowed and it is never matched against listings.
type PurchaseService struct {
	requests domain.PurchaseRequestStore
	catalog  domain.ItemCatalog
	config   ConfigSource
	trades   *TradeAggregator
	events   eventSink
	now      Clock
	logger   *slog.Logger
}

// NewPurchaseService creates a PurchaseService.
func NewPurchaseService(
	requests domain.PurchaseRequestStore,
	catalog domain.ItemCatalog,
	config ConfigSource,
	trades *TradeAggregator,
	events domain.EventPublisher,
	logger *slog.Logger,
) *PurchaseService {
	return &PurchaseService{
		requests: requests,
		catalog:  catalog,
		config:   config,
		trades:   trades,
		events:   eventSink{events: events, logger: logger},
		now:      systemClock,
		logger:   logger,
	}
}

// WithClock replaces the service clock.
func (s *PurchaseService) WithClock(c Clock) *PurchaseService {
	s.now = c
	return s
}

// CreatePurchaseRequest records that buyerID wants quantity of
// itemDefinitionID for at most maxPrice each.
func (s *PurchaseService) CreatePurchaseRequest(ctx context.Context, buyerID, itemDefinitionID string, maxPrice int64, quantity int) (domain.PurchaseRequest, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("purchase_service: create: %w", err)
	}
	if !cfg.Enabled {
		return domain.PurchaseRequest{}, domain.ErrMarketplaceDisabled
	}
	if buyerID == "" || itemDefinitionID == "" {
		return domain.PurchaseRequest{}, fmt.Errorf("purchase_service: create: missing buyer or item: %w", domain.ErrInvalidArgument)
	}
	if quantity < 1 {
		return domain.PurchaseRequest{}, fmt.Errorf("purchase_service: create: quantity %d: %w", quantity, domain.ErrInvalidArgument)
	}
	maxPrice, err = cfg.NormalizePrice(maxPrice)
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("purchase_service: create: %w", err)
	}

	def, err := s.catalog.GetDefinition(ctx, itemDefinitionID)
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("purchase_service: create: %w", err)
	}
	if !def.Tradable || cfg.Restricted(def.Category) {
		return domain.PurchaseRequest{}, fmt.Errorf("purchase_service: create: %s (%s): %w", def.ID, def.Category, domain.ErrRestrictedItem)
	}

	now := s.now()
	r := domain.PurchaseRequest{
		ID:               uuid.NewString(),
		BuyerID:          buyerID,
		ItemDefinitionID: itemDefinitionID,
		MaxPrice:         maxPrice,
		Quantity:         quantity,
		CurrencyID:       cfg.CurrencyID,
		Status:           domain.RequestStatusActive,
		CreatedAt:        now,
		ExpiresAt:        now.Add(cfg.ListingDuration()),
	}
	if err := s.requests.Insert(ctx, r); err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("purchase_service: create: insert: %w", err)
	}

	s.logger.InfoContext(ctx, "purchase request created",
		slog.String("request_id", r.ID),
		slog.String("buyer_id", buyerID),
		slog.String("item_definition_id", itemDefinitionID),
		slog.Int64("max_price", maxPrice),
		slog.Int("quantity", quantity),
	)

	s.events.toPlayer(ctx, buyerID, domain.EventRequestOpened, requestEvent(r, ""))
	s.events.toTopic(ctx, domain.TradeTopic(itemDefinitionID), domain.EventTradeOpened, requestEvent(r, ""))
	s.trades.PublishTradeUpdate(ctx, itemDefinitionID)
	return r, nil
}

// CancelPurchaseRequest closes one of buyerID's active requests.
func (s *PurchaseService) CancelPurchaseRequest(ctx context.Context, buyerID, requestID string) error {
	r, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("purchase_service: cancel %s: %w", requestID, err)
	}
	if r.BuyerID != buyerID {
		return fmt.Errorf("purchase_service: cancel %s: %w", requestID, domain.ErrForbidden)
	}
	if r.Status != domain.RequestStatusActive {
		return fmt.Errorf("purchase_service: cancel %s: %w", requestID, domain.ErrNotActive)
	}

	now := s.now()
	ok, err := s.requests.Transition(ctx, r.ID, domain.RequestStatusActive, domain.RequestStatusCancelled, now)
	if err != nil {
		return fmt.Errorf("purchase_service: cancel %s: %w", requestID, err)
	}
	if !ok {
		return fmt.Errorf("purchase_service: cancel %s: lost race: %w", requestID, domain.ErrNotActive)
	}
	r.Status = domain.RequestStatusCancelled
	r.ClosedAt = &now

	s.closed(ctx, r, domain.CloseReasonCancelled)
	return nil
}

// closed announces a request leaving the active state.
func (s *PurchaseService) closed(ctx context.Context, r domain.PurchaseRequest, reason domain.CloseReason) {
	s.events.toPlayer(ctx, r.BuyerID, domain.EventRequestClosed, requestEvent(r, reason))
	s.events.toTopic(ctx, domain.TradeTopic(r.ItemDefinitionID), domain.EventTradeClosed, requestEvent(r, reason))
	s.trades.PublishTradeUpdate(ctx, r.ItemDefinitionID)
}
