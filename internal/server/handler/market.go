package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/service"
)

const maxTradeIDs = 100

// MarketService is the marketplace surface the handler drives.
// *service.MarketplaceService implements it.
type MarketService interface {
	GetSettings(ctx context.Context) (service.Settings, error)
	GetMySales(ctx context.Context, playerID string) ([]domain.Listing, error)
	GetMyPurchaseRequests(ctx context.Context, playerID string) ([]domain.PurchaseRequest, error)
	GetHistory(ctx context.Context, playerID string, page, size int, kind string) ([]domain.Transaction, error)
	CreateListing(ctx context.Context, sellerID, itemInstanceID string, price int64, currencyID string) (domain.Listing, error)
	CreatePurchaseRequest(ctx context.Context, buyerID, itemDefinitionID string, maxPrice int64, quantity int) (domain.PurchaseRequest, error)
	Purchase(ctx context.Context, buyerID, listingID string) (domain.Transaction, error)
	Cancel(ctx context.Context, playerID, id string) error
	GetTrade(ctx context.Context, itemDefinitionID string) (domain.TradeAggregate, error)
	GetTrades(ctx context.Context, ids []string) ([]domain.TradeAggregate, error)
	GetOpenAsks(ctx context.Context, itemDefinitionID string, page int) ([]domain.Listing, error)
	GetOpenBids(ctx context.Context, itemDefinitionID string, page int) ([]domain.PurchaseRequest, error)
}

// MarketHandler serves the /api/market endpoints.
type MarketHandler struct {
	market MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, logger: logHandler(logger, "market")}
}

type listingResponse struct {
	ID               string     `json:"id"`
	SellerID         string     `json:"seller_id"`
	ItemInstanceID   string     `json:"item_instance_id"`
	ItemDefinitionID string     `json:"item_definition_id"`
	Price            int64      `json:"price"`
	CurrencyID       string     `json:"currency_id"`
	Quantity         int        `json:"quantity"`
	Status           string     `json:"status"`
	BuyerID          string     `json:"buyer_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	SoldAt           *time.Time `json:"sold_at,omitempty"`
}

func toListingResponse(l domain.Listing) listingResponse {
	return listingResponse{
		ID:               l.ID,
		SellerID:         l.SellerID,
		ItemInstanceID:   l.ItemInstanceID,
		ItemDefinitionID: l.ItemDefinitionID,
		Price:            l.Price,
		CurrencyID:       l.CurrencyID,
		Quantity:         l.Quantity,
		Status:           string(l.Status),
		BuyerID:          l.BuyerID,
		CreatedAt:        l.CreatedAt,
		ExpiresAt:        l.ExpiresAt,
		SoldAt:           l.SoldAt,
	}
}

type requestResponse struct {
	ID               string     `json:"id"`
	BuyerID          string     `json:"buyer_id"`
	ItemDefinitionID string     `json:"item_definition_id"`
	MaxPrice         int64      `json:"max_price"`
	Quantity         int        `json:"quantity"`
	CurrencyID       string     `json:"currency_id"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

func toRequestResponse(p domain.PurchaseRequest) requestResponse {
	return requestResponse{
		ID:               p.ID,
		BuyerID:          p.BuyerID,
		ItemDefinitionID: p.ItemDefinitionID,
		MaxPrice:         p.MaxPrice,
		Quantity:         p.Quantity,
		CurrencyID:       p.CurrencyID,
		Status:           string(p.Status),
		CreatedAt:        p.CreatedAt,
		ExpiresAt:        p.ExpiresAt,
		ClosedAt:         p.ClosedAt,
	}
}

type transactionResponse struct {
	ID               string    `json:"id"`
	ListingID        string    `json:"listing_id"`
	SellerID         string    `json:"seller_id"`
	BuyerID          string    `json:"buyer_id"`
	ItemDefinitionID string    `json:"item_definition_id"`
	ItemInstanceID   string    `json:"item_instance_id"`
	Price            int64     `json:"price"`
	Commission       int64     `json:"commission"`
	SellerReceived   int64     `json:"seller_received"`
	CurrencyID       string    `json:"currency_id"`
	CompletedAt      time.Time `json:"completed_at"`
}

func toTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:               t.ID,
		ListingID:        t.ListingID,
		SellerID:         t.SellerID,
		BuyerID:          t.BuyerID,
		ItemDefinitionID: t.ItemDefinitionID,
		ItemInstanceID:   t.ItemInstanceID,
		Price:            t.Price,
		Commission:       t.Commission,
		SellerReceived:   t.SellerReceived,
		CurrencyID:       t.CurrencyID,
		CompletedAt:      t.CompletedAt,
	}
}

func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}

// GetSettings returns the marketplace settings.
// GET /api/market/settings
func (h *MarketHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.market.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// GetMySales returns the caller's active listings.
// GET /api/market/sales/mine
func (h *MarketHandler) GetMySales(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	listings, err := h.market.GetMySales(r.Context(), playerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(listings, toListingResponse))
}

// GetMyPurchaseRequests returns the caller's active purchase requests.
// GET /api/market/requests/mine
func (h *MarketHandler) GetMyPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	requests, err := h.market.GetMyPurchaseRequests(r.Context(), playerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(requests, toRequestResponse))
}

// GetHistory returns a page of the caller's completed trades.
// GET /api/market/history?page=&size=&kind=
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	txs, err := h.market.GetHistory(r.Context(), playerID, page, size, r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(txs, toTransactionResponse))
}

type createListingRequest struct {
	ItemInstanceID string `json:"item_instance_id"`
	Price          int64  `json:"price"`
	CurrencyID     string `json:"currency_id"`
}

// CreateListing lists one of the caller's items.
// POST /api/market/listings
func (h *MarketHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	var req createListingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	// A client disconnect must not abort the escrow half way.
	l, err := h.market.CreateListing(context.WithoutCancel(r.Context()), playerID, req.ItemInstanceID, req.Price, req.CurrencyID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(l))
}

type createRequestRequest struct {
	ItemDefinitionID string `json:"item_definition_id"`
	MaxPrice         int64  `json:"max_price"`
	Quantity         int    `json:"quantity"`
}

// CreatePurchaseRequest posts a bid for an item definition.
// POST /api/market/requests
func (h *MarketHandler) CreatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	req := createRequestRequest{Quantity: 1}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.market.CreatePurchaseRequest(context.WithoutCancel(r.Context()), playerID, req.ItemDefinitionID, req.MaxPrice, req.Quantity)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(p))
}

// Purchase buys the listing in the path.
// POST /api/market/listings/{id}/purchase
func (h *MarketHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	tx, err := h.market.Purchase(context.WithoutCancel(r.Context()), playerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

// Cancel closes the caller's listing or purchase request.
// DELETE /api/market/orders/{id}
func (h *MarketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requirePlayer(w, r)
	if !ok {
		return
	}
	if err := h.market.Cancel(context.WithoutCancel(r.Context()), playerID, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTrade returns the aggregate for one item definition.
// GET /api/market/trades/{itemDefinitionId}
func (h *MarketHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	agg, err := h.market.GetTrade(r.Context(), r.PathValue("itemDefinitionId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// GetTrades returns aggregates for a comma separated id list.
// GET /api/market/trades?ids=a,b,c
func (h *MarketHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > maxTradeIDs {
		writeError(w, r, h.logger, fmt.Errorf("at most %d ids per request: %w", maxTradeIDs, domain.ErrInvalidArgument))
		return
	}
	aggs, err := h.market.GetTrades(r.Context(), ids)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if aggs == nil {
		aggs = []domain.TradeAggregate{}
	}
	writeJSON(w, http.StatusOK, aggs)
}

// GetOpenAsks pages through open listings of an item definition.
// GET /api/market/trades/{itemDefinitionId}/asks?page=
func (h *MarketHandler) GetOpenAsks(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	listings, err := h.market.GetOpenAsks(r.Context(), r.PathValue("itemDefinitionId"), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(listings, toListingResponse))
}

// GetOpenBids pages through open purchase requests of an item definition.
// GET /api/market/trades/{itemDefinitionId}/bids?page=
func (h *MarketHandler) GetOpenBids(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	requests, err := h.market.GetOpenBids(r.Context(), r.PathValue("itemDefinitionId"), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(requests, toRequestResponse))
}
