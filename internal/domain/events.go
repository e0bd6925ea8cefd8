package domain

import "context"

// Event names pushed to clients.
const (
	EventListingOpened   = "listing_opened"
	EventListingClosed   = "listing_closed"
	EventRequestOpened   = "request_opened"
	EventRequestClosed   = "request_closed"
	EventTradeOpened     = "trade_opened"
	EventTradeClosed     = "trade_closed"
	EventTradeUpdate     = "trade_update"
	EventSettlementStuck = "settlement_stuck"
)

// CloseReason explains why a listing or request left the active state.
type CloseReason string

const (
	CloseReasonSold      CloseReason = "sold"
	CloseReasonCancelled CloseReason = "cancelled"
	CloseReasonExpired   CloseReason = "expired"
)

// TradeSide distinguishes the sale-side and purchase-side views of a trade event.
type TradeSide string

const (
	TradeSideSale     TradeSide = "sale"
	TradeSidePurchase TradeSide = "purchase"
)

// TradeTopic returns the topic that subscribers of an item definition listen on.
func TradeTopic(itemDefinitionID string) string {
	return "trade:" + itemDefinitionID
}

// EventPublisher fans events out to connected clients. Publishing must not
// block the caller; delivery is best effort.
type EventPublisher interface {
	PublishToPlayer(ctx context.Context, playerID, event string, payload any) error
	PublishToTopic(ctx context.Context, topic, event string, payload any) error
	PublishToAll(ctx context.Context, event string, payload any) error
}

// Envelope is the wire form of a published event.
type Envelope struct {
	Event   string `json:"event"`
	Target  string `json:"target"` // player id, topic or "*"
	Payload any    `json:"payload"`
}

// ListingEvent is the payload of listing and trade events for a listing.
type ListingEvent struct {
	ListingID        string        `json:"listing_id"`
	SellerID         string        `json:"seller_id"`
	BuyerID          string        `json:"buyer_id,omitempty"`
	ItemDefinitionID string        `json:"item_definition_id"`
	ItemInstanceID   string        `json:"item_instance_id,omitempty"`
	Price            int64         `json:"price"`
	CurrencyID       string        `json:"currency_id"`
	Reason           CloseReason   `json:"reason,omitempty"`
	Side             TradeSide     `json:"side,omitempty"`
	Item             *ItemInstance `json:"item,omitempty"`
}

// RequestEvent is the payload of purchase request events.
type RequestEvent struct {
	RequestID        string      `json:"request_id"`
	BuyerID          string      `json:"buyer_id"`
	ItemDefinitionID string      `json:"item_definition_id"`
	MaxPrice         int64       `json:"max_price"`
	Quantity         int         `json:"quantity"`
	Reason           CloseReason `json:"reason,omitempty"`
	Side             TradeSide   `json:"side,omitempty"`
}
