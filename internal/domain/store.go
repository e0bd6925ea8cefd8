package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listings. Transition is the only way a listing's
// status changes: it applies iff the stored status equals t.From, and
// reports whether it applied.
type ListingStore interface {
	Insert(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
	ListActiveBySeller(ctx context.Context, sellerID string) ([]Listing, error)
	// ListOpenByItem returns active, unexpired listings, cheapest first.
	ListOpenByItem(ctx context.Context, itemDefinitionID string, now time.Time, opts ListOpts) ([]Listing, error)
	AskSummary(ctx context.Context, itemDefinitionID string, now time.Time) (SideSummary, error)
	// ListExpired returns active listings with expires_at < now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Listing, error)
	// ListUnfinalized returns terminal listings whose side effects have not
	// completed and whose terminal transition happened before cutoff.
	ListUnfinalized(ctx context.Context, cutoff time.Time, limit int) ([]Listing, error)
	Transition(ctx context.Context, id string, t ListingTransition) (bool, error)
	MarkFinalized(ctx context.Context, id string, at time.Time) error
}

// PurchaseRequestStore persists purchase requests.
type PurchaseRequestStore interface {
	Insert(ctx context.Context, r PurchaseRequest) error
	GetByID(ctx context.Context, id string) (PurchaseRequest, error)
	ListActiveByBuyer(ctx context.Context, buyerID string) ([]PurchaseRequest, error)
	// ListOpenByItem returns active, unexpired requests, highest bid first.
	ListOpenByItem(ctx context.Context, itemDefinitionID string, now time.Time, opts ListOpts) ([]PurchaseRequest, error)
	BidSummary(ctx context.Context, itemDefinitionID string, now time.Time) (SideSummary, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]PurchaseRequest, error)
	Transition(ctx context.Context, id string, from, to RequestStatus, at time.Time) (bool, error)
}

// TransactionStore persists completed sales. Insert returns
// ErrAlreadyExists when a transaction for the listing is already recorded.
type TransactionStore interface {
	Insert(ctx context.Context, tx Transaction) error
	GetByListing(ctx context.Context, listingID string) (Transaction, error)
	ListByPlayer(ctx context.Context, playerID string, kind HistoryKind, opts ListOpts) ([]Transaction, error)
	// ListCompleted returns transactions ordered by completion time.
	ListCompleted(ctx context.Context, opts ListOpts) ([]Transaction, error)
}

// MarketplaceConfigStore persists the singleton marketplace config.
type MarketplaceConfigStore interface {
	Get(ctx context.Context) (MarketplaceConfig, error)
	Upsert(ctx context.Context, cfg MarketplaceConfig) error
}

// CatalogStore persists item definitions.
type CatalogStore interface {
	GetDefinition(ctx context.Context, id string) (ItemDefinition, error)
	Upsert(ctx context.Context, def ItemDefinition) error
	List(ctx context.Context, opts ListOpts) ([]ItemDefinition, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
