package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// ListingService creates and cancels sale listings. Creating a listing
// escrows the item instance out of the seller's inventory; every terminal
// transition gives it to someone.
type ListingService struct {
	listings   domain.ListingStore
	ledger     domain.Ledger
	catalog    domain.ItemCatalog
	config     ConfigSource
	settlement *SettlementService
	trades     *TradeAggregator
	events     eventSink
	now        Clock
	logger     *slog.Logger
}

// NewListingService creates a ListingService with all required dependencies.
func NewListingService(
	listings domain.ListingStore,
	ledger domain.Ledger,
	catalog domain.ItemCatalog,
	config ConfigSource,
	settlement *SettlementService,
	trades *TradeAggregator,
	events domain.EventPublisher,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings:   listings,
		ledger:     ledger,
		catalog:    catalog,
		config:     config,
		settlement: settlement,
		trades:     trades,
		events:     eventSink{events: events, logger: logger},
		now:        systemClock,
		logger:     logger,
	}
}

// WithClock replaces the service clock.
func (s *ListingService) WithClock(c Clock) *ListingService {
	s.now = c
	return s
}

// CreateListing escrows itemInstanceID and offers it at price. An empty
// currencyID means the marketplace currency. Prices outside the configured
// bounds are clamped or rejected depending on the price policy.
func (s *ListingService) CreateListing(ctx context.Context, sellerID, itemInstanceID string, price int64, currencyID string) (domain.Listing, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}
	if !cfg.Enabled {
		return domain.Listing{}, domain.ErrMarketplaceDisabled
	}
	if sellerID == "" || itemInstanceID == "" {
		return domain.Listing{}, fmt.Errorf("listing_service: create: missing seller or item: %w", domain.ErrInvalidArgument)
	}
	if currencyID == "" {
		currencyID = cfg.CurrencyID
	}
	if currencyID != cfg.CurrencyID {
		return domain.Listing{}, fmt.Errorf("listing_service: create: currency %q not accepted: %w", currencyID, domain.ErrInvalidArgument)
	}
	price, err = cfg.NormalizePrice(price)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}

	item, err := s.ledger.GetItem(ctx, sellerID, itemInstanceID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}
	def, err := s.catalog.GetDefinition(ctx, item.DefinitionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Listing{}, fmt.Errorf("listing_service: create: unknown definition %s: %w", item.DefinitionID, domain.ErrRestrictedItem)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}
	if !def.Tradable || cfg.Restricted(def.Category) {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %s (%s): %w", def.ID, def.Category, domain.ErrRestrictedItem)
	}

	now := s.now()
	l := domain.Listing{
		ID:               uuid.NewString(),
		SellerID:         sellerID,
		ItemInstanceID:   itemInstanceID,
		ItemDefinitionID: item.DefinitionID,
		Price:            price,
		CurrencyID:       currencyID,
		Quantity:         max(item.Quantity, 1),
		Status:           domain.ListingStatusActive,
		CreatedAt:        now,
		ExpiresAt:        now.Add(cfg.ListingDuration()),
	}
	// The record goes in before the item moves, so every escrowed item
	// belongs to a listing the repair pass can find.
	if err := s.listings.Insert(ctx, l); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: insert: %w", err)
	}
	if _, err := s.settlement.escrow(ctx, l); err != nil {
		return domain.Listing{}, s.abandon(ctx, l, err)
	}

	s.logger.InfoContext(ctx, "listing created",
		slog.String("listing_id", l.ID),
		slog.String("seller_id", sellerID),
		slog.String("item_definition_id", l.ItemDefinitionID),
		slog.Int64("price", price),
	)

	s.events.toPlayer(ctx, sellerID, domain.EventListingOpened, listingEvent(l, "", domain.TradeSideSale))
	s.events.toTopic(ctx, domain.TradeTopic(l.ItemDefinitionID), domain.EventTradeOpened, listingEvent(l, "", domain.TradeSideSale))
	s.trades.PublishTradeUpdate(ctx, l.ItemDefinitionID)
	return l, nil
}

// abandon cancels a listing whose escrow failed and lets the return path
// settle whatever part of the escrow landed.
func (s *ListingService) abandon(ctx context.Context, l domain.Listing, cause error) error {
	now := s.now()
	ok, err := s.listings.Transition(ctx, l.ID, domain.ListingTransition{
		From: domain.ListingStatusActive,
		To:   domain.ListingStatusCancelled,
		At:   now,
	})
	if err != nil || !ok {
		// Expiry or the purchase that won the listing completes it.
		s.logger.ErrorContext(ctx, "escrow failed on a listing that could not be cancelled",
			slog.String("listing_id", l.ID),
			slog.String("seller_id", l.SellerID),
			slog.String("escrow_error", cause.Error()),
		)
		return fmt.Errorf("listing_service: create %s: escrow: %w (%v)", l.ID, domain.ErrSettlementPending, cause)
	}
	l.Status = domain.ListingStatusCancelled
	l.CancelledAt = &now
	if err := s.settlement.CompleteReturn(ctx, l); err != nil {
		return fmt.Errorf("listing_service: create %s: %w", l.ID, err)
	}
	return fmt.Errorf("listing_service: create: escrow: %w", cause)
}

// CancelListing withdraws an active listing and returns the item. When the
// return cannot be completed now the cancel still stands and
// domain.ErrSettlementPending is returned; the sweeper finishes it.
func (s *ListingService) CancelListing(ctx context.Context, sellerID, listingID string) error {
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return fmt.Errorf("listing_service: cancel %s: %w", listingID, err)
	}
	if l.SellerID != sellerID {
		return fmt.Errorf("listing_service: cancel %s: %w", listingID, domain.ErrForbidden)
	}
	if l.Status != domain.ListingStatusActive {
		return fmt.Errorf("listing_service: cancel %s: %w", listingID, domain.ErrNotActive)
	}

	now := s.now()
	ok, err := s.listings.Transition(ctx, l.ID, domain.ListingTransition{
		From: domain.ListingStatusActive,
		To:   domain.ListingStatusCancelled,
		At:   now,
	})
	if err != nil {
		return fmt.Errorf("listing_service: cancel %s: %w", listingID, err)
	}
	if !ok {
		return fmt.Errorf("listing_service: cancel %s: lost race: %w", listingID, domain.ErrNotActive)
	}
	l.Status = domain.ListingStatusCancelled
	l.CancelledAt = &now

	returnErr := s.settlement.CompleteReturn(ctx, l)

	s.events.toPlayer(ctx, sellerID, domain.EventListingClosed, listingEvent(l, domain.CloseReasonCancelled, domain.TradeSideSale))
	s.events.toTopic(ctx, domain.TradeTopic(l.ItemDefinitionID), domain.EventTradeClosed, listingEvent(l, domain.CloseReasonCancelled, domain.TradeSideSale))
	s.trades.PublishTradeUpdate(ctx, l.ItemDefinitionID)
	return returnErr
}
