package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// LedgerStore implements domain.Ledger on the player_balances, player_items
// and ledger_operations tables. Each mutating call runs in one database
// transaction together with the insert of its operation key, so a replayed
// key never applies twice.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// claim records opKey. It returns false when the key was already applied.
func claim(ctx context.Context, tx pgx.Tx, opKey, playerID, kind string, amount int64, detail any) (bool, error) {
	var detailJSON []byte
	if detail != nil {
		var err error
		if detailJSON, err = json.Marshal(detail); err != nil {
			return false, fmt.Errorf("marshal op detail: %w", err)
		}
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO ledger_operations (op_key, player_id, kind, amount, detail)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (op_key) DO NOTHING`,
		opKey, playerID, kind, amount, detailJSON)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetItem returns the instance if playerID owns it.
func (s *LedgerStore) GetItem(ctx context.Context, playerID, instanceID string) (domain.ItemInstance, error) {
	item := domain.ItemInstance{InstanceID: instanceID}
	err := s.pool.QueryRow(ctx,
		`SELECT definition_id, quantity FROM player_items WHERE instance_id = $1 AND player_id = $2`,
		instanceID, playerID,
	).Scan(&item.DefinitionID, &item.Quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ItemInstance{}, domain.ErrItemNotFound
		}
		return domain.ItemInstance{}, fmt.Errorf("postgres: get item %s: %w", instanceID, err)
	}
	return item, nil
}

// RemoveItem takes the instance out of playerID's inventory. A replayed key
// reports what it removed the first time, even if the instance has since
// come back to playerID.
func (s *LedgerStore) RemoveItem(ctx context.Context, playerID, instanceID, opKey string) (domain.ItemInstance, error) {
	var item domain.ItemInstance
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var detail []byte
		err := tx.QueryRow(ctx,
			`SELECT detail FROM ledger_operations WHERE op_key = $1 AND kind = 'remove_item'`, opKey,
		).Scan(&detail)
		if err == nil {
			return json.Unmarshal(detail, &item)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		item = domain.ItemInstance{InstanceID: instanceID}
		err = tx.QueryRow(ctx,
			`DELETE FROM player_items WHERE instance_id = $1 AND player_id = $2
			 RETURNING definition_id, quantity`,
			instanceID, playerID,
		).Scan(&item.DefinitionID, &item.Quantity)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		if err != nil {
			return err
		}
		fresh, err := claim(ctx, tx, opKey, playerID, "remove_item", 0, item)
		if err != nil {
			return err
		}
		if !fresh {
			// The key was taken concurrently or by another kind of call.
			return fmt.Errorf("op key %s reused: %w", opKey, domain.ErrAlreadyExists)
		}
		return nil
	})
	if err != nil {
		return domain.ItemInstance{}, fmt.Errorf("postgres: remove item %s from %s: %w", instanceID, playerID, err)
	}
	return item, nil
}

// AddItem places item in playerID's inventory.
func (s *LedgerStore) AddItem(ctx context.Context, playerID string, item domain.ItemInstance, opKey string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		fresh, err := claim(ctx, tx, opKey, playerID, "add_item", 0, item)
		if err != nil || !fresh {
			return err
		}
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO player_items (instance_id, player_id, definition_id, quantity)
			 VALUES ($1, $2, $3, $4)`,
			item.InstanceID, playerID, item.DefinitionID, qty)
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: add item %s to %s: %w", item.InstanceID, playerID, err)
	}
	return nil
}

// Debit subtracts amount from playerID's balance, failing with
// domain.ErrInsufficientFunds rather than going negative.
func (s *LedgerStore) Debit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		fresh, err := claim(ctx, tx, opKey, playerID, "debit", amount, nil)
		if err != nil || !fresh {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE player_balances SET amount = amount - $3, updated_at = NOW()
			 WHERE player_id = $1 AND currency_id = $2 AND amount >= $3`,
			playerID, currencyID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientFunds
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: debit %s %d %s: %w", playerID, amount, currencyID, err)
	}
	return nil
}

// Credit adds amount to playerID's balance.
func (s *LedgerStore) Credit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		fresh, err := claim(ctx, tx, opKey, playerID, "credit", amount, nil)
		if err != nil || !fresh {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO player_balances (player_id, currency_id, amount) VALUES ($1, $2, $3)
			 ON CONFLICT (player_id, currency_id) DO UPDATE SET
				amount     = player_balances.amount + EXCLUDED.amount,
				updated_at = NOW()`,
			playerID, currencyID, amount)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: credit %s %d %s: %w", playerID, amount, currencyID, err)
	}
	return nil
}

// Balance returns playerID's balance in currencyID; zero if none.
func (s *LedgerStore) Balance(ctx context.Context, playerID, currencyID string) (int64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM player_balances WHERE player_id = $1 AND currency_id = $2`,
		playerID, currencyID,
	).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", playerID, err)
	}
	return amount, nil
}

// Applied reports whether opKey has taken effect on playerID.
func (s *LedgerStore) Applied(ctx context.Context, playerID, opKey string) (bool, error) {
	var applied bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_operations WHERE op_key = $1 AND player_id = $2)`,
		opKey, playerID,
	).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("postgres: applied %s: %w", opKey, err)
	}
	return applied, nil
}
