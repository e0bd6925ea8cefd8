package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingSelectCols = `id, seller_id, item_instance_id, item_definition_id,
	price, currency_id, quantity, status, commission, buyer_id,
	created_at, expires_at, sold_at, cancelled_at, expired_at, finalized_at`

// Insert stores a new listing.
func (s *ListingStore) Insert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			id, seller_id, item_instance_id, item_definition_id,
			price, currency_id, quantity, status, commission,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.SellerID, l.ItemInstanceID, l.ItemDefinitionID,
		l.Price, l.CurrencyID, l.Quantity, string(l.Status), l.Commission,
		l.CreatedAt, l.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert listing %s: %w", l.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert listing %s: %w", l.ID, err)
	}
	return nil
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var l domain.Listing
	var status string
	var buyerID *string

	err := row.Scan(
		&l.ID, &l.SellerID, &l.ItemInstanceID, &l.ItemDefinitionID,
		&l.Price, &l.CurrencyID, &l.Quantity, &status, &l.Commission, &buyerID,
		&l.CreatedAt, &l.ExpiresAt, &l.SoldAt, &l.CancelledAt, &l.ExpiredAt, &l.FinalizedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.Status = domain.ListingStatus(status)
	if buyerID != nil {
		l.BuyerID = *buyerID
	}
	return l, nil
}

func (s *ListingStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

// GetByID retrieves a single listing.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingSelectCols+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// ListActiveBySeller returns the seller's active listings, newest first.
func (s *ListingStore) ListActiveBySeller(ctx context.Context, sellerID string) ([]domain.Listing, error) {
	return s.query(ctx, "list listings by seller",
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE seller_id = $1 AND status = 'active'
		 ORDER BY created_at DESC`, sellerID)
}

// ListOpenByItem returns active, unexpired listings for an item, cheapest first.
func (s *ListingStore) ListOpenByItem(ctx context.Context, itemDefinitionID string, now time.Time, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings
		WHERE item_definition_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY price ASC, created_at ASC`
	query, args := pageClause(query, []any{itemDefinitionID, now}, opts)
	return s.query(ctx, "list open listings", query, args...)
}

// AskSummary returns the lowest open price and the open listing count.
func (s *ListingStore) AskSummary(ctx context.Context, itemDefinitionID string, now time.Time) (domain.SideSummary, error) {
	var sum domain.SideSummary
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(price), COUNT(*) FROM listings
		 WHERE item_definition_id = $1 AND status = 'active' AND expires_at > $2`,
		itemDefinitionID, now,
	).Scan(&sum.Best, &sum.Count)
	if err != nil {
		return domain.SideSummary{}, fmt.Errorf("postgres: ask summary %s: %w", itemDefinitionID, err)
	}
	return sum, nil
}

// ListExpired returns active listings whose expiry has passed, oldest first.
func (s *ListingStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	return s.query(ctx, "list expired listings",
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE status = 'active' AND expires_at < $1
		 ORDER BY expires_at ASC LIMIT $2`, now, limit)
}

// ListUnfinalized returns terminal listings with incomplete side effects.
func (s *ListingStore) ListUnfinalized(ctx context.Context, cutoff time.Time, limit int) ([]domain.Listing, error) {
	return s.query(ctx, "list unfinalized listings",
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE status <> 'active' AND finalized_at IS NULL
		   AND COALESCE(sold_at, cancelled_at, expired_at) < $1
		 ORDER BY COALESCE(sold_at, cancelled_at, expired_at) ASC LIMIT $2`, cutoff, limit)
}

// Transition applies t iff the stored status equals t.From.
func (s *ListingStore) Transition(ctx context.Context, id string, t domain.ListingTransition) (bool, error) {
	var (
		query string
		args  = []any{id, string(t.From), string(t.To)}
	)
	switch t.To {
	case domain.ListingStatusSold:
		query = `UPDATE listings SET status = $3, buyer_id = $4, commission = $5, sold_at = $6
			WHERE id = $1 AND status = $2`
		args = append(args, t.BuyerID, t.Commission, t.At)
	case domain.ListingStatusCancelled:
		query = `UPDATE listings SET status = $3, cancelled_at = $4 WHERE id = $1 AND status = $2`
		args = append(args, t.At)
	case domain.ListingStatusExpired:
		query = `UPDATE listings SET status = $3, expired_at = $4 WHERE id = $1 AND status = $2`
		args = append(args, t.At)
	case domain.ListingStatusActive:
		// Settlement compensation: only an unfinalized sale can be reopened.
		query = `UPDATE listings SET status = $3, buyer_id = NULL, commission = 0, sold_at = NULL
			WHERE id = $1 AND status = $2 AND finalized_at IS NULL`
	default:
		return false, fmt.Errorf("postgres: transition listing %s to %q: %w", id, t.To, domain.ErrInvalidArgument)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: transition listing %s %s->%s: %w", id, t.From, t.To, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFinalized records that the terminal transition's side effects are done.
// Calling it again is a no-op.
func (s *ListingStore) MarkFinalized(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET finalized_at = $2 WHERE id = $1 AND status <> 'active' AND finalized_at IS NULL`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: finalize listing %s: %w", id, err)
	}
	return nil
}
