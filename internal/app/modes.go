package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradepost/internal/pipeline"
	"github.com/alanyoungcy/tradepost/internal/server"
	"github.com/alanyoungcy/tradepost/internal/server/handler"
	"github.com/alanyoungcy/tradepost/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and WebSocket push. The sweeper runs
// alongside when enabled; its lock keeps replicas from sweeping twice.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBus(ctx, g, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)
	if a.cfg.Sweeper.Enabled {
		a.startSweeper(ctx, g, svcs)
	}
	return g.Wait()
}

// SweeperMode runs background work only: the expiry sweeper and, when
// enabled, the history archiver.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting sweeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBus(ctx, g, svcs)
	a.startSweeper(ctx, g, svcs)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *Services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBus(ctx, g, svcs)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	if a.cfg.Sweeper.Enabled {
		a.startSweeper(ctx, g, svcs)
	}
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

func (a *App) startBus(ctx context.Context, g *errgroup.Group, svcs *Services) {
	g.Go(func() error {
		return ignoreCanceled(svcs.Bus.Run(ctx))
	})
}

func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, svcs *Services) {
	g.Go(func() error {
		return ignoreCanceled(svcs.Sweeper.Run(ctx))
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archive == nil {
		return
	}
	archiver := pipeline.NewArchiver(deps.Archive, pipeline.ArchiverConfig{}, a.logger).
		WithAlerter(deps.Notifier)
	g.Go(func() error {
		return ignoreCanceled(archiver.Run(ctx, a.cfg.Archive.Cron))
	})
}

// startHTTPServer registers the hub and the API routes, then serves until
// ctx is done and shuts down gracefully.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *Services) {
	hub := ws.NewHub(deps.Signals, ws.Config{
		Prefix:         a.cfg.Redis.ChannelPrefix,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		TrustPlayerHeader: a.cfg.Server.TrustPlayerHeader,
		Limiter:           deps.RateLimiter,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Market: handler.NewMarketHandler(svcs.Marketplace, a.logger),
	}, hub, deps.Sessions, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
