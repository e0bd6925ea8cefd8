package domain

import "time"

// ListingStatus tracks the listing lifecycle. Active is the only
// non-terminal state.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
	ListingStatusExpired   ListingStatus = "expired"
)

// Terminal reports whether s is one of the end states.
func (s ListingStatus) Terminal() bool {
	return s == ListingStatusSold || s == ListingStatusCancelled || s == ListingStatusExpired
}

// Listing is a seller's standing offer for one escrowed item instance.
type Listing struct {
	ID               string
	SellerID         string
	ItemInstanceID   string
	ItemDefinitionID string
	Price            int64 // smallest currency unit
	CurrencyID       string
	Quantity         int
	Status           ListingStatus
	Commission       int64 // fixed at the moment of sale
	BuyerID          string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	SoldAt           *time.Time
	CancelledAt      *time.Time
	ExpiredAt        *time.Time
	FinalizedAt      *time.Time // side effects of the terminal transition have completed
}

// Open reports whether the listing can still be bought at now.
func (l Listing) Open(now time.Time) bool {
	return l.Status == ListingStatusActive && l.ExpiresAt.After(now)
}

// ClosedAt returns the timestamp of the terminal transition, if any.
func (l Listing) ClosedAt() *time.Time {
	switch l.Status {
	case ListingStatusSold:
		return l.SoldAt
	case ListingStatusCancelled:
		return l.CancelledAt
	case ListingStatusExpired:
		return l.ExpiredAt
	}
	return nil
}

// ListingTransition describes the fields applied together with a
// conditional status change of a listing.
type ListingTransition struct {
	From       ListingStatus
	To         ListingStatus
	At         time.Time
	BuyerID    string // to=sold only
	Commission int64  // to=sold only
}
