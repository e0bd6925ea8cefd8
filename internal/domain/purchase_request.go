package domain

import "time"

// RequestStatus tracks the purchase request lifecycle.
type RequestStatus string

const (
	RequestStatusActive    RequestStatus = "active"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusExpired   RequestStatus = "expired"
)

// PurchaseRequest is a buyer's non-binding bid signal. Nothing is escrowed
// and it is never matched against listings.
type PurchaseRequest struct {
	ID               string
	BuyerID          string
	ItemDefinitionID string
	MaxPrice         int64
	Quantity         int
	CurrencyID       string
	Status           RequestStatus
	CreatedAt        time.Time
	ExpiresAt        time.Time
	ClosedAt         *time.Time
}

// Open reports whether the request still counts towards demand at now.
func (r PurchaseRequest) Open(now time.Time) bool {
	return r.Status == RequestStatusActive && r.ExpiresAt.After(now)
}
