package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
	"github.com/alanyoungcy/tradepost/internal/store/memory"
)

const coins = "coins"

var errLedgerDown = errors.New("ledger unavailable")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type publishedEvent struct {
	kind    string // player, topic, all
	target  string
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingPublisher) add(e publishedEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) PublishToPlayer(_ context.Context, playerID, event string, payload any) error {
	return r.add(publishedEvent{"player", playerID, event, payload})
}

func (r *recordingPublisher) PublishToTopic(_ context.Context, topic, event string, payload any) error {
	return r.add(publishedEvent{"topic", topic, event, payload})
}

func (r *recordingPublisher) PublishToAll(_ context.Context, event string, payload any) error {
	return r.add(publishedEvent{"all", "*", event, payload})
}

func (r *recordingPublisher) named(event string) []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publishedEvent
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, event string, fields map[string]any) error {
	return m.Called(ctx, event, fields).Error(0)
}

// flakyLedger fails selected operations while the matching counter is
// positive.
type flakyLedger struct {
	*memory.Ledger
	creditFailures atomic.Int32
	addFailures    atomic.Int32
	removeFailures atomic.Int32
	// drained makes Balance report plenty while Debit refuses, as if the
	// buyer spent the money between the check and the debit.
	drained atomic.Bool
	// raced makes Debit apply but report a refusal, as if another
	// completion of the same sale debited the buyer right after this one
	// was refused.
	raced atomic.Bool
}

func (f *flakyLedger) RemoveItem(ctx context.Context, playerID, instanceID, opKey string) (domain.ItemInstance, error) {
	if f.removeFailures.Load() > 0 {
		f.removeFailures.Add(-1)
		return domain.ItemInstance{}, errLedgerDown
	}
	return f.Ledger.RemoveItem(ctx, playerID, instanceID, opKey)
}

func (f *flakyLedger) Credit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error {
	if f.creditFailures.Load() > 0 {
		f.creditFailures.Add(-1)
		return errLedgerDown
	}
	return f.Ledger.Credit(ctx, playerID, amount, currencyID, opKey)
}

func (f *flakyLedger) AddItem(ctx context.Context, playerID string, item domain.ItemInstance, opKey string) error {
	if f.addFailures.Load() > 0 {
		f.addFailures.Add(-1)
		return errLedgerDown
	}
	return f.Ledger.AddItem(ctx, playerID, item, opKey)
}

func (f *flakyLedger) Balance(ctx context.Context, playerID, currencyID string) (int64, error) {
	if f.drained.Load() {
		return 1 << 40, nil
	}
	return f.Ledger.Balance(ctx, playerID, currencyID)
}

func (f *flakyLedger) Debit(ctx context.Context, playerID string, amount int64, currencyID, opKey string) error {
	if f.drained.Load() {
		return domain.ErrInsufficientFunds
	}
	if f.raced.Load() {
		if err := f.Ledger.Debit(ctx, playerID, amount, currencyID, opKey); err != nil {
			return err
		}
		return domain.ErrInsufficientFunds
	}
	return f.Ledger.Debit(ctx, playerID, amount, currencyID, opKey)
}

type harness struct {
	clock      *testClock
	mem        *memory.Ledger
	ledger     domain.Ledger
	listings   domain.ListingStore
	requests   *memory.PurchaseRequestStore
	txs        *memory.TransactionStore
	audit      *memory.AuditStore
	locks      *memory.LockManager
	configs    *memory.MarketplaceConfigStore
	events     *recordingPublisher
	alerter    *mockAlerter
	config     *ConfigService
	trades     *TradeAggregator
	settlement *SettlementService
	listingSvc *ListingService
	requestSvc *PurchaseService
	sweeper    *ExpirySweeper
	market     *MarketplaceService
}

type harnessOption func(h *harness)

func withLedger(fn func(mem *memory.Ledger) domain.Ledger) harnessOption {
	return func(h *harness) { h.ledger = fn(h.mem) }
}

func withListingStore(fn func(mem *memory.ListingStore) domain.ListingStore) harnessOption {
	return func(h *harness) { h.listings = fn(h.listings.(*memory.ListingStore)) }
}

func testMarketplaceConfig() domain.MarketplaceConfig {
	return domain.MarketplaceConfig{
		CommissionPercent:    decimal.RequireFromString("0.05"),
		MinCommission:        10,
		MinPrice:             100,
		MaxPrice:             100000,
		ListingDurationHours: 1,
		CurrencyID:           coins,
		Enabled:              true,
		RestrictedCategories: []string{"case", "box"},
		PricePolicy:          domain.PricePolicyClamp,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger := discardLogger()

	h := &harness{
		clock:    newTestClock(),
		mem:      memory.NewLedger(),
		listings: memory.NewListingStore(),
		requests: memory.NewPurchaseRequestStore(),
		txs:      memory.NewTransactionStore(),
		audit:    memory.NewAuditStore(),
		locks:    memory.NewLockManager(),
		configs:  memory.NewMarketplaceConfigStore(),
		events:   &recordingPublisher{},
		alerter:  &mockAlerter{},
	}
	h.ledger = h.mem
	for _, opt := range opts {
		opt(h)
	}
	h.alerter.On("Alert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	catalog := NewCatalogService(memory.NewCatalogStore(
		domain.ItemDefinition{ID: "44002", Name: "AK Redline", Category: "rifle", Tradable: true},
		domain.ItemDefinition{ID: "51001", Name: "Field Knife", Category: "knife", Tradable: true},
		domain.ItemDefinition{ID: "case01", Name: "Weapon Case", Category: "case", Tradable: true},
		domain.ItemDefinition{ID: "bound01", Name: "Medal", Category: "collectible", Tradable: false},
	), nil, logger)

	h.config = NewConfigService(h.configs, 0, logger).WithClock(h.clock.Now)
	_, err := h.config.Seed(context.Background(), testMarketplaceConfig())
	require.NoError(t, err)

	retry := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	h.trades = NewTradeAggregator(h.listings, h.requests, h.events, ScopeAll, 2, logger).WithClock(h.clock.Now)
	h.settlement = NewSettlementService(h.listings, h.txs, h.ledger, h.config, h.trades, h.events, h.audit, retry, logger).
		WithAlerter(h.alerter).
		WithClock(h.clock.Now)
	h.listingSvc = NewListingService(h.listings, h.ledger, catalog, h.config, h.settlement, h.trades, h.events, logger).
		WithClock(h.clock.Now)
	h.requestSvc = NewPurchaseService(h.requests, catalog, h.config, h.trades, h.events, logger).
		WithClock(h.clock.Now)
	h.sweeper = NewExpirySweeper(h.listings, h.requests, h.settlement, h.trades, h.events, h.locks, SweeperConfig{
		Interval:      time.Minute,
		BatchSize:     2,
		RecordTimeout: time.Second,
		RepairGrace:   2 * time.Minute,
	}, logger).WithAlerter(h.alerter).WithClock(h.clock.Now)
	h.market = NewMarketplaceService(h.config, h.listingSvc, h.requestSvc, h.settlement, h.trades,
		h.listings, h.requests, h.txs, 20)
	return h
}

func (h *harness) balance(t *testing.T, playerID string) int64 {
	t.Helper()
	b, err := h.mem.Balance(context.Background(), playerID, coins)
	require.NoError(t, err)
	return b
}

func (h *harness) owns(playerID, instanceID string) bool {
	for _, it := range h.mem.Items(playerID) {
		if it.InstanceID == instanceID {
			return true
		}
	}
	return false
}

func (h *harness) listing(t *testing.T, id string) domain.Listing {
	t.Helper()
	l, err := h.listings.GetByID(context.Background(), id)
	require.NoError(t, err)
	return l
}

func item(instanceID, definitionID string) domain.ItemInstance {
	return domain.ItemInstance{InstanceID: instanceID, DefinitionID: definitionID, Quantity: 1}
}
