package domain

import "time"

// Transaction is the immutable record of a completed sale.
// SellerReceived + Commission == Price always holds.
type Transaction struct {
	ID               string
	ListingID        string
	SellerID         string
	BuyerID          string
	ItemDefinitionID string
	ItemInstanceID   string
	Price            int64
	Commission       int64
	SellerReceived   int64
	CurrencyID       string
	CompletedAt      time.Time
}

// HistoryKind filters a player's transaction history.
type HistoryKind string

const (
	HistorySold   HistoryKind = "sold"
	HistoryBought HistoryKind = "bought"
	HistoryAll    HistoryKind = "all"
)

// ParseHistoryKind accepts "", sold, bought and all. Empty means all.
func ParseHistoryKind(s string) (HistoryKind, error) {
	switch HistoryKind(s) {
	case "", HistoryAll:
		return HistoryAll, nil
	case HistorySold, HistoryBought:
		return HistoryKind(s), nil
	}
	return "", ErrInvalidArgument
}

// TradeAggregate is the derived best-price summary for one item definition.
// Nil prices mean there is no open order on that side.
type TradeAggregate struct {
	ItemDefinitionID string    `json:"item_definition_id"`
	BestAskPrice     *int64    `json:"best_ask_price"`
	BestBidPrice     *int64    `json:"best_bid_price"`
	ActiveSaleCount  int       `json:"active_sale_count"`
	ActiveBidCount   int       `json:"active_bid_count"`
	ComputedAt       time.Time `json:"computed_at"`
}

// SideSummary is what a store reports for one side of an item's book.
type SideSummary struct {
	Best  *int64
	Count int
}
