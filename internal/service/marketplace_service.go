package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

const maxHistoryPageSize = 100

// Settings is the client-visible view of the marketplace config.
type Settings struct {
	CommissionPercent    string   `json:"commission_percent"`
	MinCommission        int64    `json:"min_commission"`
	MinPrice             int64    `json:"min_price"`
	MaxPrice             int64    `json:"max_price"`
	ListingDurationHours int      `json:"listing_duration_hours"`
	CurrencyID           string   `json:"currency_id"`
	Enabled              bool     `json:"enabled"`
	RestrictedCategories []string `json:"restricted_categories"`
	PricePolicy          string   `json:"price_policy"`
}

// MarketplaceService is the surface the transport layer calls. It resolves
// nothing about identity: every method takes the already authenticated
// player id.
type MarketplaceService struct {
	config       ConfigSource
	listings     *ListingService
	purchases    *PurchaseService
	settlement   *SettlementService
	trades       *TradeAggregator
	listingStore domain.ListingStore
	requestStore domain.PurchaseRequestStore
	transactions domain.TransactionStore
	pageSize     int
}

// NewMarketplaceService creates the facade.
func NewMarketplaceService(
	config ConfigSource,
	listings *ListingService,
	purchases *PurchaseService,
	settlement *SettlementService,
	trades *TradeAggregator,
	listingStore domain.ListingStore,
	requestStore domain.PurchaseRequestStore,
	transactions domain.TransactionStore,
	pageSize int,
) *MarketplaceService {
	if pageSize < 1 {
		pageSize = 20
	}
	return &MarketplaceService{
		config:       config,
		listings:     listings,
		purchases:    purchases,
		settlement:   settlement,
		trades:       trades,
		listingStore: listingStore,
		requestStore: requestStore,
		transactions: transactions,
		pageSize:     pageSize,
	}
}

// GetSettings returns the current marketplace settings.
func (m *MarketplaceService) GetSettings(ctx context.Context) (Settings, error) {
	cfg, err := m.config.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	categories := cfg.RestrictedCategories
	if categories == nil {
		categories = []string{}
	}
	return Settings{
		CommissionPercent:    cfg.CommissionPercent.String(),
		MinCommission:        cfg.MinCommission,
		MinPrice:             cfg.MinPrice,
		MaxPrice:             cfg.MaxPrice,
		ListingDurationHours: cfg.ListingDurationHours,
		CurrencyID:           cfg.CurrencyID,
		Enabled:              cfg.Enabled,
		RestrictedCategories: categories,
		PricePolicy:          string(cfg.PricePolicy),
	}, nil
}

// GetMySales returns the player's active listings.
func (m *MarketplaceService) GetMySales(ctx context.Context, playerID string) ([]domain.Listing, error) {
	out, err := m.listingStore.ListActiveBySeller(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("marketplace: my sales: %w", err)
	}
	return out, nil
}

// GetMyPurchaseRequests returns the player's active purchase requests.
func (m *MarketplaceService) GetMyPurchaseRequests(ctx context.Context, playerID string) ([]domain.PurchaseRequest, error) {
	out, err := m.requestStore.ListActiveByBuyer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("marketplace: my requests: %w", err)
	}
	return out, nil
}

// GetHistory returns a page (1-based) of the player's completed trades,
// newest first. kind is sold, bought, all or empty.
func (m *MarketplaceService) GetHistory(ctx context.Context, playerID string, page, size int, kind string) ([]domain.Transaction, error) {
	k, err := domain.ParseHistoryKind(kind)
	if err != nil {
		return nil, fmt.Errorf("marketplace: history kind %q: %w", kind, err)
	}
	if size < 1 {
		size = m.pageSize
	}
	size = min(size, maxHistoryPageSize)
	page = max(page, 1)

	out, err := m.transactions.ListByPlayer(ctx, playerID, k, domain.ListOpts{Limit: size, Offset: (page - 1) * size})
	if err != nil {
		return nil, fmt.Errorf("marketplace: history: %w", err)
	}
	return out, nil
}

// CreateListing lists one of the seller's items.
func (m *MarketplaceService) CreateListing(ctx context.Context, sellerID, itemInstanceID string, price int64, currencyID string) (domain.Listing, error) {
	return m.listings.CreateListing(ctx, sellerID, itemInstanceID, price, currencyID)
}

// CreatePurchaseRequest posts a bid signal.
func (m *MarketplaceService) CreatePurchaseRequest(ctx context.Context, buyerID, itemDefinitionID string, maxPrice int64, quantity int) (domain.PurchaseRequest, error) {
	return m.purchases.CreatePurchaseRequest(ctx, buyerID, itemDefinitionID, maxPrice, quantity)
}

// Purchase buys a listing.
func (m *MarketplaceService) Purchase(ctx context.Context, buyerID, listingID string) (domain.Transaction, error) {
	return m.settlement.Purchase(ctx, buyerID, listingID)
}

// Cancel closes the player's listing or purchase request with id. Listings
// are looked up first.
func (m *MarketplaceService) Cancel(ctx context.Context, playerID, id string) error {
	if id == "" {
		return fmt.Errorf("marketplace: cancel: empty id: %w", domain.ErrInvalidArgument)
	}
	_, err := m.listingStore.GetByID(ctx, id)
	switch {
	case err == nil:
		return m.listings.CancelListing(ctx, playerID, id)
	case errors.Is(err, domain.ErrNotFound):
		return m.purchases.CancelPurchaseRequest(ctx, playerID, id)
	default:
		return fmt.Errorf("marketplace: cancel %s: %w", id, err)
	}
}

// GetTrade returns the aggregate for one item definition.
func (m *MarketplaceService) GetTrade(ctx context.Context, itemDefinitionID string) (domain.TradeAggregate, error) {
	return m.trades.GetTrade(ctx, itemDefinitionID)
}

// GetTrades returns aggregates for several item definitions.
func (m *MarketplaceService) GetTrades(ctx context.Context, ids []string) ([]domain.TradeAggregate, error) {
	return m.trades.GetTrades(ctx, ids)
}

// GetOpenAsks pages through open listings for an item definition.
func (m *MarketplaceService) GetOpenAsks(ctx context.Context, itemDefinitionID string, page int) ([]domain.Listing, error) {
	return m.trades.GetOpenAsks(ctx, itemDefinitionID, page)
}

// GetOpenBids pages through open purchase requests for an item definition.
func (m *MarketplaceService) GetOpenBids(ctx context.Context, itemDefinitionID string, page int) ([]domain.PurchaseRequest, error) {
	return m.trades.GetOpenBids(ctx, itemDefinitionID, page)
}
