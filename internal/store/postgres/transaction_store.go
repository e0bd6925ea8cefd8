package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionSelectCols = `id, listing_id, seller_id, buyer_id, item_definition_id,
	item_instance_id, price, commission, seller_received, currency_id, completed_at`

// Insert records a completed sale. A second insert for the same listing
// returns domain.ErrAlreadyExists.
func (s *TransactionStore) Insert(ctx context.Context, tx domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, listing_id, seller_id, buyer_id, item_definition_id,
			item_instance_id, price, commission, seller_received, currency_id, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		tx.ID, tx.ListingID, tx.SellerID, tx.BuyerID, tx.ItemDefinitionID,
		tx.ItemInstanceID, tx.Price, tx.Commission, tx.SellerReceived, tx.CurrencyID, tx.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert transaction for listing %s: %w", tx.ListingID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert transaction for listing %s: %w", tx.ListingID, err)
	}
	return nil
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.ListingID, &t.SellerID, &t.BuyerID, &t.ItemDefinitionID,
		&t.ItemInstanceID, &t.Price, &t.Commission, &t.SellerReceived, &t.CurrencyID, &t.CompletedAt,
	)
	return t, err
}

// GetByListing returns the transaction recorded for a listing.
func (s *TransactionStore) GetByListing(ctx context.Context, listingID string) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions WHERE listing_id = $1`, listingID)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction for listing %s: %w", listingID, err)
	}
	return t, nil
}

// ListByPlayer returns a player's history, newest first.
func (s *TransactionStore) ListByPlayer(ctx context.Context, playerID string, kind domain.HistoryKind, opts domain.ListOpts) ([]domain.Transaction, error) {
	var where string
	switch kind {
	case domain.HistorySold:
		where = "seller_id = $1"
	case domain.HistoryBought:
		where = "buyer_id = $1"
	default:
		where = "(seller_id = $1 OR buyer_id = $1)"
	}
	query := `SELECT ` + transactionSelectCols + ` FROM transactions WHERE ` + where +
		` ORDER BY completed_at DESC, id`
	query, args := pageClause(query, []any{playerID}, opts)
	return s.list(ctx, "list player transactions", query, args...)
}

// ListCompleted returns transactions completed within [Since, Until), oldest first.
func (s *TransactionStore) ListCompleted(ctx context.Context, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM transactions WHERE 1=1`
	args := []any{}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND completed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND completed_at < $%d", len(args))
	}
	query += " ORDER BY completed_at ASC, id"
	query, args = pageClause(query, args, opts)
	return s.list(ctx, "list completed transactions", query, args...)
}

func (s *TransactionStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
