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

// PurchaseRequestStore implements domain.PurchaseRequestStore using PostgreSQL.
type PurchaseRequestStore struct {
	pool *pgxpool.Pool
}

// NewPurchaseRequestStore creates a new PurchaseRequestStore.
func NewPurchaseRequestStore(pool *pgxpool.Pool) *PurchaseRequestStore {
	return &PurchaseRequestStore{pool: pool}
}

const requestSelectCols = `id, buyer_id, item_definition_id, max_price, quantity,
	currency_id, status, created_at, expires_at, closed_at`

// Insert stores a new purchase request.
func (s *PurchaseRequestStore) Insert(ctx context.Context, r domain.PurchaseRequest) error {
	const query = `
		INSERT INTO purchase_requests (
			id, buyer_id, item_definition_id, max_price, quantity,
			currency_id, status, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.BuyerID, r.ItemDefinitionID, r.MaxPrice, r.Quantity,
		r.CurrencyID, string(r.Status), r.CreatedAt, r.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert purchase request %s: %w", r.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert purchase request %s: %w", r.ID, err)
	}
	return nil
}

func scanRequest(row rowScanner) (domain.PurchaseRequest, error) {
	var r domain.PurchaseRequest
	var status string
	err := row.Scan(
		&r.ID, &r.BuyerID, &r.ItemDefinitionID, &r.MaxPrice, &r.Quantity,
		&r.CurrencyID, &status, &r.CreatedAt, &r.ExpiresAt, &r.ClosedAt,
	)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	r.Status = domain.RequestStatus(status)
	return r, nil
}

func (s *PurchaseRequestStore) query(ctx context.Context, op, query string, args ...any) ([]domain.PurchaseRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.PurchaseRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

// GetByID retrieves a single purchase request.
func (s *PurchaseRequestStore) GetByID(ctx context.Context, id string) (domain.PurchaseRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestSelectCols+` FROM purchase_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PurchaseRequest{}, domain.ErrNotFound
		}
		return domain.PurchaseRequest{}, fmt.Errorf("postgres: get purchase request %s: %w", id, err)
	}
	return r, nil
}

// ListActiveByBuyer returns the buyer's active requests, newest first.
func (s *PurchaseRequestStore) ListActiveByBuyer(ctx context.Context, buyerID string) ([]domain.PurchaseRequest, error) {
	return s.query(ctx, "list requests by buyer",
		`SELECT `+requestSelectCols+` FROM purchase_requests
		 WHERE buyer_id = $1 AND status = 'active'
		 ORDER BY created_at DESC`, buyerID)
}

// ListOpenByItem returns active, unexpired requests, highest bid first.
func (s *PurchaseRequestStore) ListOpenByItem(ctx context.Context, itemDefinitionID string, now time.Time, opts domain.ListOpts) ([]domain.PurchaseRequest, error) {
	query := `SELECT ` + requestSelectCols + ` FROM purchase_requests
		WHERE item_definition_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY max_price DESC, created_at ASC`
	query, args := pageClause(query, []any{itemDefinitionID, now}, opts)
	return s.query(ctx, "list open requests", query, args...)
}

// BidSummary returns the highest open bid and the open request count.
func (s *PurchaseRequestStore) BidSummary(ctx context.Context, itemDefinitionID string, now time.Time) (domain.SideSummary, error) {
	var sum domain.SideSummary
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(max_price), COUNT(*) FROM purchase_requests
		 WHERE item_definition_id = $1 AND status = 'active' AND expires_at > $2`,
		itemDefinitionID, now,
	).Scan(&sum.Best, &sum.Count)
	if err != nil {
		return domain.SideSummary{}, fmt.Errorf("postgres: bid summary %s: %w", itemDefinitionID, err)
	}
	return sum, nil
}

// ListExpired returns active requests whose expiry has passed, oldest first.
func (s *PurchaseRequestStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.PurchaseRequest, error) {
	return s.query(ctx, "list expired requests",
		`SELECT `+requestSelectCols+` FROM purchase_requests
		 WHERE status = 'active' AND expires_at < $1
		 ORDER BY expires_at ASC LIMIT $2`, now, limit)
}

// Transition moves a request from one status to another iff it is still in from.
func (s *PurchaseRequestStore) Transition(ctx context.Context, id string, from, to domain.RequestStatus, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE purchase_requests SET status = $3, closed_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("postgres: transition purchase request %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}
