// Package pipeline runs scheduled background exports of marketplace data.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// alertArchiveFailed matches notify.AlertArchiveFailed.
const alertArchiveFailed = "archive_failed"

// Alerter notifies operators. *notify.Notifier implements it.
type Alerter interface {
	Alert(ctx context.Context, event string, fields map[string]any) error
}

// ArchiverConfig controls which windows each run exports.
type ArchiverConfig struct {
	// Window is the length of one archive object. Default one day.
	Window time.Duration
	// Backfill is how many closed windows each run (re)checks, so a run
	// missed during downtime is caught up on the next.
	Backfill int
	// RunTimeout bounds one run. Default 10 minutes.
	RunTimeout time.Duration
}

// Archiver copies completed transactions to cold storage on a cron
// schedule. Rows are never removed from the database.
type Archiver struct {
	archiver domain.HistoryArchiver
	cfg      ArchiverConfig
	alerter  Alerter
	now      func() time.Time
	running  sync.Mutex
	logger   *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(archiver domain.HistoryArchiver, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Backfill < 1 {
		cfg.Backfill = 3
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	return &Archiver{
		archiver: archiver,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// WithAlerter attaches the operator alert channel.
func (a *Archiver) WithAlerter(alerter Alerter) *Archiver {
	a.alerter = alerter
	return a
}

// WithClock replaces the time source.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// Windows returns the closed windows a run at now covers, oldest first.
func (a *Archiver) Windows(now time.Time) [][2]time.Time {
	end := now.UTC().Truncate(a.cfg.Window)
	out := make([][2]time.Time, 0, a.cfg.Backfill)
	for i := a.cfg.Backfill; i >= 1; i-- {
		until := end.Add(-time.Duration(i-1) * a.cfg.Window)
		out = append(out, [2]time.Time{until.Add(-a.cfg.Window), until})
	}
	return out
}

// RunOnce exports every covered window and returns the number of
// transactions written. Failed windows are alerted and reported together;
// the remaining windows still run.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	if !a.running.TryLock() {
		a.logger.WarnContext(ctx, "archive run skipped: previous run still active")
		return 0, nil
	}
	defer a.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.RunTimeout)
	defer cancel()

	var total int64
	var errs []error
	for _, w := range a.Windows(a.now()) {
		n, err := a.archiver.ArchiveTransactions(ctx, w[0], w[1])
		if err != nil {
			a.logger.ErrorContext(ctx, "archive window failed",
				slog.Time("since", w[0]),
				slog.Time("until", w[1]),
				slog.String("error", err.Error()),
			)
			a.alert(ctx, w, err)
			errs = append(errs, fmt.Errorf("window %s: %w", w[0].Format(time.RFC3339), err))
			continue
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archived transactions",
				slog.Time("since", w[0]),
				slog.Time("until", w[1]),
				slog.Int64("count", n),
			)
		}
		total += n
	}
	if len(errs) > 0 {
		return total, fmt.Errorf("archiver: %w", errors.Join(errs...))
	}
	return total, nil
}

func (a *Archiver) alert(ctx context.Context, w [2]time.Time, cause error) {
	if a.alerter == nil {
		return
	}
	if err := a.alerter.Alert(ctx, alertArchiveFailed, map[string]any{
		"since": w[0].Format(time.RFC3339),
		"until": w[1].Format(time.RFC3339),
		"error": cause.Error(),
	}); err != nil {
		a.logger.WarnContext(ctx, "archive alert failed", slog.String("error", err.Error()))
	}
}

// Run schedules RunOnce with a standard five-field cron expression
// (evaluated in UTC) and blocks until ctx is cancelled. A run in progress
// is allowed to finish before Run returns.
func (a *Archiver) Run(ctx context.Context, cronExpr string) error {
	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc(cronExpr, func() {
		_, _ = a.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("archiver: schedule %q: %w", cronExpr, err)
	}

	sched.Start()
	a.logger.InfoContext(ctx, "archiver scheduled", slog.String("cron", cronExpr))

	<-ctx.Done()
	<-sched.Stop().Done()
	a.logger.Info("archiver stopped")
	return ctx.Err()
}
