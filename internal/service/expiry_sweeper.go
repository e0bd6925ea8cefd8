package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// SweeperLockKey elects one sweeping process per interval.
const SweeperLockKey = "marketplace:sweeper"

const alertSweepFailed = "sweep_failed"

// SweeperConfig holds the sweeper schedule and batching.
type SweeperConfig struct {
	InitialDelay  time.Duration
	Interval      time.Duration
	BatchSize     int
	RecordTimeout time.Duration
	RepairGrace   time.Duration
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	ExpiredListings int
	ExpiredRequests int
	Repaired        int
	Skipped         int // lost the race to a purchase or cancel
	Failed          int
}

// ExpirySweeper expires listings and purchase requests past their time and
// re-drives terminal listings whose side effects never finished. It races
// live traffic through the same conditional transitions, so a record a
// player closed first is skipped without error.
type ExpirySweeper struct {
	listings   domain.ListingStore
	requests   domain.PurchaseRequestStore
	settlement *SettlementService
	trades     *TradeAggregator
	events     eventSink
	locks      domain.LockManager
	alerter    Alerter
	cfg        SweeperConfig
	now        Clock
	logger     *slog.Logger
}

// NewExpirySweeper creates an ExpirySweeper.
func NewExpirySweeper(
	listings domain.ListingStore,
	requests domain.PurchaseRequestStore,
	settlement *SettlementService,
	trades *TradeAggregator,
	events domain.EventPublisher,
	locks domain.LockManager,
	cfg SweeperConfig,
	logger *slog.Logger,
) *ExpirySweeper {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 10 * time.Second
	}
	return &ExpirySweeper{
		listings:   listings,
		requests:   requests,
		settlement: settlement,
		trades:     trades,
		events:     eventSink{events: events, logger: logger},
		locks:      locks,
		alerter:    nopAlerter{},
		cfg:        cfg,
		now:        systemClock,
		logger:     logger,
	}
}

// WithAlerter attaches the operator alert channel used for failed sweeps.
func (s *ExpirySweeper) WithAlerter(a Alerter) *ExpirySweeper {
	if a != nil {
		s.alerter = a
	}
	return s
}

// WithClock replaces the sweeper clock.
func (s *ExpirySweeper) WithClock(c Clock) *ExpirySweeper {
	s.now = c
	return s
}

// Run sweeps after InitialDelay and then every Interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "expiry sweeper started",
		slog.Duration("initial_delay", s.cfg.InitialDelay),
		slog.Duration("interval", s.cfg.Interval),
	)

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "expiry sweeper stopped")
			return nil
		case <-timer.C:
		}

		report, err := s.Sweep(ctx)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.DebugContext(ctx, "sweep skipped, another process holds the lock")
		case err != nil && ctx.Err() == nil:
			s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		case err == nil:
			s.logger.InfoContext(ctx, "sweep complete",
				slog.Int("expired_listings", report.ExpiredListings),
				slog.Int("expired_requests", report.ExpiredRequests),
				slog.Int("repaired", report.Repaired),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed),
			)
		}
		timer.Reset(s.cfg.Interval)
	}
}

// Sweep runs one pass. It returns domain.ErrLockHeld when another process
// is sweeping. Errors on individual records are counted in the report and
// never stop the pass.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	unlock, err := s.locks.Acquire(ctx, SweeperLockKey, s.cfg.Interval)
	if err != nil {
		return report, err
	}
	defer unlock()

	now := s.now()
	touched := make(map[string]struct{})

	if err := s.expireListings(ctx, now, &report, touched); err != nil {
		return report, err
	}
	if err := s.expireRequests(ctx, now, &report, touched); err != nil {
		return report, err
	}
	if err := s.repair(ctx, now, &report); err != nil {
		return report, err
	}

	for itemDefinitionID := range touched {
		s.trades.PublishTradeUpdate(ctx, itemDefinitionID)
	}

	if report.Failed > 0 {
		if err := s.alerter.Alert(ctx, alertSweepFailed, map[string]any{
			"failed":           report.Failed,
			"expired_listings": report.ExpiredListings,
			"expired_requests": report.ExpiredRequests,
			"repaired":         report.Repaired,
		}); err != nil {
			s.logger.WarnContext(ctx, "sweep alert failed", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

type outcome int

const (
	outcomeExpired outcome = iota
	outcomeSkipped
	outcomeFailed
)

// expireListings works through expired listings batch by batch. It stops
// on a short batch, or when every record of a batch failed and would only
// be returned again.
func (s *ExpirySweeper) expireListings(ctx context.Context, now time.Time, report *SweepReport, touched map[string]struct{}) error {
	for {
		batch, err := s.listings.ListExpired(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("sweeper: list expired listings: %w", err)
		}
		progressed := 0
		for _, l := range batch {
			switch s.expireListing(ctx, l, now, report) {
			case outcomeExpired:
				touched[l.ItemDefinitionID] = struct{}{}
				progressed++
			case outcomeSkipped:
				progressed++
			}
		}
		if len(batch) < s.cfg.BatchSize || progressed == 0 {
			return nil
		}
	}
}

func (s *ExpirySweeper) expireListing(ctx context.Context, l domain.Listing, now time.Time, report *SweepReport) outcome {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
	defer cancel()

	ok, err := s.listings.Transition(rctx, l.ID, domain.ListingTransition{
		From: domain.ListingStatusActive,
		To:   domain.ListingStatusExpired,
		At:   now,
	})
	if err != nil {
		report.Failed++
		s.logger.WarnContext(ctx, "expire listing failed",
			slog.String("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	}
	if !ok {
		report.Skipped++
		return outcomeSkipped
	}
	report.ExpiredListings++
	l.Status = domain.ListingStatusExpired
	l.ExpiredAt = &now

	if err := s.settlement.CompleteReturn(rctx, l); err != nil {
		// The repair pass of a later sweep picks it up.
		report.Failed++
	}

	ev := listingEvent(l, domain.CloseReasonExpired, domain.TradeSideSale)
	s.events.toPlayer(ctx, l.SellerID, domain.EventListingClosed, ev)
	s.events.toTopic(ctx, domain.TradeTopic(l.ItemDefinitionID), domain.EventTradeClosed, ev)
	return outcomeExpired
}

func (s *ExpirySweeper) expireRequests(ctx context.Context, now time.Time, report *SweepReport, touched map[string]struct{}) error {
	for {
		batch, err := s.requests.ListExpired(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("sweeper: list expired requests: %w", err)
		}
		progressed := 0
		for _, r := range batch {
			switch s.expireRequest(ctx, r, now, report) {
			case outcomeExpired:
				touched[r.ItemDefinitionID] = struct{}{}
				progressed++
			case outcomeSkipped:
				progressed++
			}
		}
		if len(batch) < s.cfg.BatchSize || progressed == 0 {
			return nil
		}
	}
}

func (s *ExpirySweeper) expireRequest(ctx context.Context, r domain.PurchaseRequest, now time.Time, report *SweepReport) outcome {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
	defer cancel()

	ok, err := s.requests.Transition(rctx, r.ID, domain.RequestStatusActive, domain.RequestStatusExpired, now)
	if err != nil {
		report.Failed++
		s.logger.WarnContext(ctx, "expire request failed",
			slog.String("request_id", r.ID),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	}
	if !ok {
		report.Skipped++
		return outcomeSkipped
	}
	report.ExpiredRequests++
	r.Status = domain.RequestStatusExpired
	r.ClosedAt = &now

	ev := requestEvent(r, domain.CloseReasonExpired)
	s.events.toPlayer(ctx, r.BuyerID, domain.EventRequestClosed, ev)
	s.events.toTopic(ctx, domain.TradeTopic(r.ItemDefinitionID), domain.EventTradeClosed, ev)
	return outcomeExpired
}

// repair re-drives terminal listings left unfinalized for longer than
// RepairGrace, so in-flight settlements are not raced.
func (s *ExpirySweeper) repair(ctx context.Context, now time.Time, report *SweepReport) error {
	stale, err := s.listings.ListUnfinalized(ctx, now.Add(-s.cfg.RepairGrace), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("sweeper: list unfinalized: %w", err)
	}
	for _, l := range stale {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
		err := s.settlement.Finalize(rctx, l)
		cancel()
		if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrItemNotFound) {
			// The buyer could not pay and the listing went back on sale, or
			// the item never reached escrow and the sale was withdrawn.
			report.Repaired++
			continue
		}
		if err != nil {
			report.Failed++
			s.logger.WarnContext(ctx, "repair failed",
				slog.String("listing_id", l.ID),
				slog.String("status", string(l.Status)),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Repaired++
		s.logger.InfoContext(ctx, "listing repaired",
			slog.String("listing_id", l.ID),
			slog.String("status", string(l.Status)),
		)
	}
	return nil
}
