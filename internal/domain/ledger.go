package domain

import "context"

// ItemInstance is a concrete item owned by a player.
type ItemInstance struct {
	InstanceID   string `json:"instance_id"`
	DefinitionID string `json:"definition_id"`
	Quantity     int    `json:"quantity"`
}

// Ledger owns player inventories and currency balances. Every call is
// atomic per player. Mutating calls carry an operation key: replaying a key
// that already applied is a successful no-op, which lets settlement be
// retried to completion without double-moving value.
type Ledger interface {
	GetItem(ctx context.Context, playerID, instanceID string) (ItemInstance, error)
	RemoveItem(ctx context.Context, playerID, instanceID, opKey string) (ItemInstance, error)
	AddItem(ctx context.Context, playerID string, item ItemInstance, opKey string) error
	Debit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error
	Credit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error
	Balance(ctx context.Context, playerID, currencyID string) (int64, error)
	// Applied reports whether opKey has taken effect on playerID.
	Applied(ctx context.Context, playerID, opKey string) (bool, error)
}

// Operation keys used by the marketplace against the ledger.
func EscrowOpKey(listingID string) string  { return "listing:" + listingID + ":escrow" }
func ReturnOpKey(listingID string) string  { return "listing:" + listingID + ":return" }
func DebitOpKey(listingID string) string   { return "sale:" + listingID + ":debit" }
func CreditOpKey(listingID string) string  { return "sale:" + listingID + ":credit" }
func DeliverOpKey(listingID string) string { return "sale:" + listingID + ":deliver" }
