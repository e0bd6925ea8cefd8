package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PricePolicy controls what happens to a price outside [MinPrice, MaxPrice].
type PricePolicy string

const (
	// PricePolicyClamp stores the nearest bound. Kept for compatibility with
	// existing clients that rely on silent clamping.
	PricePolicyClamp PricePolicy = "clamp"
	// PricePolicyReject fails the request with ErrInvalidPrice.
	PricePolicyReject PricePolicy = "reject"
)

// MarketplaceConfig is the singleton marketplace settings record.
type MarketplaceConfig struct {
	CommissionPercent    decimal.Decimal // fraction, 0.05 == 5%
	MinCommission        int64
	MinPrice             int64
	MaxPrice             int64
	ListingDurationHours int
	CurrencyID           string
	Enabled              bool
	RestrictedCategories []string
	PricePolicy          PricePolicy
	UpdatedAt            time.Time
}

// ListingDuration returns the lifetime of a new listing or request.
func (c MarketplaceConfig) ListingDuration() time.Duration {
	return time.Duration(c.ListingDurationHours) * time.Hour
}

// Commission returns the house cut for a sale at price:
// max(round(price * CommissionPercent), MinCommission). A validated config
// has MinPrice >= MinCommission, so the cap at price only applies to prices
// below MinPrice, which NormalizePrice never lets through.
func (c MarketplaceConfig) Commission(price int64) int64 {
	pct := decimal.NewFromInt(price).Mul(c.CommissionPercent).Round(0).IntPart()
	commission := max(pct, c.MinCommission)
	return max(min(commission, price), 0)
}

// SplitPrice returns (commission, sellerReceived) for price. The two always
// sum to price.
func (c MarketplaceConfig) SplitPrice(price int64) (int64, int64) {
	commission := c.Commission(price)
	return commission, price - commission
}

// NormalizePrice applies the price bounds according to the configured
// policy. Non-positive prices are always rejected.
func (c MarketplaceConfig) NormalizePrice(price int64) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: price must be positive, got %d", ErrInvalidPrice, price)
	}
	if price >= c.MinPrice && price <= c.MaxPrice {
		return price, nil
	}
	if c.PricePolicy == PricePolicyReject {
		return 0, fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidPrice, price, c.MinPrice, c.MaxPrice)
	}
	return min(max(price, c.MinPrice), c.MaxPrice), nil
}

// Restricted reports whether items of category cannot be traded.
func (c MarketplaceConfig) Restricted(category string) bool {
	return slices.ContainsFunc(c.RestrictedCategories, func(rc string) bool {
		return strings.EqualFold(rc, category)
	})
}

// Validate checks internal consistency of a config record.
func (c MarketplaceConfig) Validate() error {
	var errs []string
	if c.CommissionPercent.IsNegative() || c.CommissionPercent.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "commission_percent must be within [0, 1]")
	}
	if c.MinCommission < 0 {
		errs = append(errs, "min_commission must be >= 0")
	}
	if c.MinPrice < 1 {
		errs = append(errs, "min_price must be >= 1")
	}
	if c.MaxPrice < c.MinPrice {
		errs = append(errs, "max_price must be >= min_price")
	}
	if c.MinPrice < c.MinCommission {
		errs = append(errs, "min_price must be >= min_commission")
	}
	if c.ListingDurationHours < 1 {
		errs = append(errs, "listing_duration_hours must be >= 1")
	}
	if c.CurrencyID == "" {
		errs = append(errs, "currency_id must not be empty")
	}
	if c.PricePolicy != PricePolicyClamp && c.PricePolicy != PricePolicyReject {
		errs = append(errs, fmt.Sprintf("price_policy %q (valid: clamp, reject)", c.PricePolicy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: marketplace config: %s", ErrInvalidArgument, strings.Join(errs, "; "))
	}
	return nil
}
