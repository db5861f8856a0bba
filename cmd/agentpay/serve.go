package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/agentpay/internal/api"
	"github.com/alecgard/agentpay/internal/audit"
	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/alecgard/agentpay/internal/metrics"
	"github.com/alecgard/agentpay/internal/ratelimit"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveSeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AgentPay HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "register and fund the demo agents on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m := metrics.New()
	c := newCore(cfg, m)

	recorders := []ledger.EntryRecorder{m}
	var collector *audit.Collector
	if cfg.Audit.Enabled {
		sink, err := audit.OpenFile(cfg.Audit.Path)
		if err != nil {
			return err
		}
		defer sink.Close()

		collector = audit.NewCollector(sink, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
		collector.SetObserver(m)
		recorders = append(recorders, collector)
		slog.Info("audit export enabled", "path", cfg.Audit.Path)
	}
	c.journal.SetRecorder(ledger.Recorders(recorders...))

	if serveSeed {
		if err := c.seed(cfg.Ledger.DemoSeed); err != nil {
			return fmt.Errorf("seeding demo agents: %w", err)
		}
	}

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	router := api.NewRouter(api.RouterDeps{
		Journal:      c.journal,
		Payments:     c.payments,
		Escrows:      c.escrows,
		Limiter:      limiter,
		PerPayerRate: cfg.RateLimit.PerPayer,
		Metrics:      m,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if collector != nil {
		g.Go(func() error {
			collector.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		pruneBuckets(gctx, limiter, cfg.RateLimit.Window)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if collector != nil {
			collector.Stop()
		}
		return err
	})

	return g.Wait()
}

// pruneBuckets drops rate-limit buckets that have been idle for a few
// windows until ctx is done.
func pruneBuckets(ctx context.Context, limiter *ratelimit.Limiter, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(3 * window); n > 0 {
				slog.Debug("pruned rate limit buckets", "count", n, "remaining", limiter.Len())
			}
		}
	}
}
