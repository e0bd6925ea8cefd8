// Package memory provides in-process implementations of the marketplace
// stores, ledger and signal bus. They back the "memory" storage driver for
// single-process development and the service tests.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

const numShards = 32

// account holds one player's balances and items.
// Fields must not be touched without the parent shard's lock.
type account struct {
	balances map[string]int64
	items    map[string]domain.ItemInstance
	// applied remembers operation keys that already took effect, with the
	// item they moved (if any).
	applied map[string]domain.ItemInstance
}

type shard struct {
	mu       sync.Mutex
	accounts map[string]*account
}

// getOrCreate must be called with sh.mu held.
func (sh *shard) getOrCreate(playerID string) *account {
	if a, ok := sh.accounts[playerID]; ok {
		return a
	}
	a := &account{
		balances: make(map[string]int64),
		items:    make(map[string]domain.ItemInstance),
		applied:  make(map[string]domain.ItemInstance),
	}
	sh.accounts[playerID] = a
	return a
}

// Ledger is a sharded, thread-safe domain.Ledger. Players in different
// shards never contend.
type Ledger struct {
	shards [numShards]*shard
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i] = &shard{accounts: make(map[string]*account)}
	}
	return l
}

func (l *Ledger) shardFor(playerID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return l.shards[h.Sum32()%numShards]
}

// with runs fn on playerID's account under its shard lock.
func (l *Ledger) with(playerID string, fn func(a *account) error) error {
	sh := l.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return fn(sh.getOrCreate(playerID))
}

// GetItem returns the instance if playerID owns it.
func (l *Ledger) GetItem(_ context.Context, playerID, instanceID string) (domain.ItemInstance, error) {
	var item domain.ItemInstance
	err := l.with(playerID, func(a *account) error {
		it, ok := a.items[instanceID]
		if !ok {
			return domain.ErrItemNotFound
		}
		item = it
		return nil
	})
	return item, err
}

// RemoveItem takes the instance out of playerID's inventory.
func (l *Ledger) RemoveItem(ctx context.Context, playerID, instanceID, opKey string) (domain.ItemInstance, error) {
	if err := ctx.Err(); err != nil {
		return domain.ItemInstance{}, err
	}
	var item domain.ItemInstance
	err := l.with(playerID, func(a *account) error {
		if prev, ok := a.applied[opKey]; ok {
			item = prev
			return nil
		}
		it, ok := a.items[instanceID]
		if !ok {
			return domain.ErrItemNotFound
		}
		delete(a.items, instanceID)
		a.applied[opKey] = it
		item = it
		return nil
	})
	if err != nil {
		return domain.ItemInstance{}, fmt.Errorf("memory: remove item %s from %s: %w", instanceID, playerID, err)
	}
	return item, nil
}

// AddItem places item in playerID's inventory.
func (l *Ledger) AddItem(ctx context.Context, playerID string, item domain.ItemInstance, opKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.with(playerID, func(a *account) error {
		if _, ok := a.applied[opKey]; ok {
			return nil
		}
		if _, ok := a.items[item.InstanceID]; ok {
			return fmt.Errorf("memory: add item %s to %s: %w", item.InstanceID, playerID, domain.ErrAlreadyExists)
		}
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		a.items[item.InstanceID] = item
		a.applied[opKey] = item
		return nil
	})
}

// Debit subtracts amount, refusing to go negative.
func (l *Ledger) Debit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.with(playerID, func(a *account) error {
		if _, ok := a.applied[opKey]; ok {
			return nil
		}
		if a.balances[currencyID] < amount {
			return fmt.Errorf("memory: debit %s %d: %w", playerID, amount, domain.ErrInsufficientFunds)
		}
		a.balances[currencyID] -= amount
		a.applied[opKey] = domain.ItemInstance{}
		return nil
	})
}

// Credit adds amount.
func (l *Ledger) Credit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.with(playerID, func(a *account) error {
		if _, ok := a.applied[opKey]; ok {
			return nil
		}
		a.balances[currencyID] += amount
		a.applied[opKey] = domain.ItemInstance{}
		return nil
	})
}

// Balance returns playerID's balance in currencyID.
func (l *Ledger) Balance(_ context.Context, playerID, currencyID string) (int64, error) {
	var bal int64
	_ = l.with(playerID, func(a *account) error {
		bal = a.balances[currencyID]
		return nil
	})
	return bal, nil
}

// Applied reports whether opKey has taken effect on playerID.
func (l *Ledger) Applied(_ context.Context, playerID, opKey string) (bool, error) {
	var ok bool
	_ = l.with(playerID, func(a *account) error {
		_, ok = a.applied[opKey]
		return nil
	})
	return ok, nil
}

// Items returns a copy of playerID's inventory.
func (l *Ledger) Items(playerID string) []domain.ItemInstance {
	var out []domain.ItemInstance
	_ = l.with(playerID, func(a *account) error {
		for _, it := range a.items {
			out = append(out, it)
		}
		return nil
	})
	return out
}

// Seed sets a balance and grants items without recording operation keys.
// Used by dev bootstrapping and tests.
func (l *Ledger) Seed(playerID, currencyID string, balance int64, items ...domain.ItemInstance) {
	_ = l.with(playerID, func(a *account) error {
		a.balances[currencyID] = balance
		for _, it := range items {
			if it.Quantity < 1 {
				it.Quantity = 1
			}
			a.items[it.InstanceID] = it
		}
		return nil
	})
}
