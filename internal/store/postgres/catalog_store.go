package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// CatalogStore implements domain.CatalogStore using PostgreSQL.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// GetDefinition returns one item definition.
func (s *CatalogStore) GetDefinition(ctx context.Context, id string) (domain.ItemDefinition, error) {
	var d domain.ItemDefinition
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, category, tradable FROM item_definitions WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Category, &d.Tradable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ItemDefinition{}, domain.ErrNotFound
		}
		return domain.ItemDefinition{}, fmt.Errorf("postgres: get item definition %s: %w", id, err)
	}
	return d, nil
}

// Upsert inserts or updates an item definition.
func (s *CatalogStore) Upsert(ctx context.Context, d domain.ItemDefinition) error {
	const query = `
		INSERT INTO item_definitions (id, name, category, tradable, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			category   = EXCLUDED.category,
			tradable   = EXCLUDED.tradable,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, d.ID, d.Name, d.Category, d.Tradable); err != nil {
		return fmt.Errorf("postgres: upsert item definition %s: %w", d.ID, err)
	}
	return nil
}

// List returns item definitions ordered by id.
func (s *CatalogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ItemDefinition, error) {
	query, args := pageClause(`SELECT id, name, category, tradable FROM item_definitions ORDER BY id`, nil, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list item definitions: %w", err)
	}
	defer rows.Close()

	var out []domain.ItemDefinition
	for rows.Next() {
		var d domain.ItemDefinition
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &d.Tradable); err != nil {
			return nil, fmt.Errorf("postgres: scan item definition: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list item definitions rows: %w", err)
	}
	return out, nil
}
