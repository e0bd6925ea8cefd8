package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotActive           = errors.New("not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrRestrictedItem      = errors.New("restricted item")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrItemNotFound        = errors.New("item not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrMarketplaceDisabled = errors.New("marketplace disabled")
	ErrSettlementPending   = errors.New("settlement pending")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrorCode is the stable, client-facing identifier for a failure.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeNotActive           ErrorCode = "NOT_ACTIVE"
	CodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	CodeRestrictedItem      ErrorCode = "RESTRICTED_ITEM"
	CodeInvalidPrice        ErrorCode = "INVALID_PRICE"
	CodeItemNotFound        ErrorCode = "ITEM_NOT_FOUND"
	CodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	CodeMarketplaceDisabled ErrorCode = "MARKETPLACE_DISABLED"
	CodeSettlementPending   ErrorCode = "SETTLEMENT_PENDING"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeInternal            ErrorCode = "INTERNAL"
)

// codeTable is checked in order; the first match wins.
var codeTable = []struct {
	err  error
	code ErrorCode
}{
	{ErrItemNotFound, CodeItemNotFound},
	{ErrNotFound, CodeNotFound},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrForbidden, CodeForbidden},
	{ErrNotActive, CodeNotActive},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrRestrictedItem, CodeRestrictedItem},
	{ErrInvalidPrice, CodeInvalidPrice},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrMarketplaceDisabled, CodeMarketplaceDisabled},
	{ErrSettlementPending, CodeSettlementPending},
	{ErrAlreadyExists, CodeConflict},
}

// Code maps err onto its stable ErrorCode. Unrecognised errors are INTERNAL.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}
