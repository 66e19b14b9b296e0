// Command worker is the core pipeline's single operational surface
// (SPEC_FULL.md §5): it loads configuration, connects to MySQL, wires the
// scheduler/ingest/position/price/detect packages together, and runs a
// pool of worker goroutines, a reaper, and an HTTP ops endpoint — the same
// shape as the teacher's cmd/main.go (load config, dial a client, build the
// domain object, run it), generalized from one strategy loop to a job
// queue worked by N goroutines.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/oofstack/oofcore/internal/config"
	"github.com/oofstack/oofcore/internal/detect"
	"github.com/oofstack/oofcore/internal/ingest"
	"github.com/oofstack/oofcore/internal/metrics"
	"github.com/oofstack/oofcore/internal/money"
	"github.com/oofstack/oofcore/internal/objectstore"
	"github.com/oofstack/oofcore/internal/position"
	"github.com/oofstack/oofcore/internal/price"
	"github.com/oofstack/oofcore/internal/scheduler"
	"github.com/oofstack/oofcore/internal/store"
	"github.com/oofstack/oofcore/internal/worker"
	"github.com/oofstack/oofcore/pkg/pollloop"
)

func main() {
	// godotenv overlays a .env file onto the process environment before
	// config.Load reads MYSQL_DSN/PRICE_API_KEY; a missing .env is fine in
	// production where the environment is set directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("worker: no .env loaded: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	db, err := store.Open(cfg.MySQLDSN)
	if err != nil {
		panic(err)
	}

	objects, err := objectstore.NewLocalDisk(cfg.ObjectStoreDir)
	if err != nil {
		panic(err)
	}

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	var external price.ExternalClient
	if cfg.PriceAPIBaseURL != "" {
		external = price.NewHTTPExternalClient(cfg.PriceAPIBaseURL, cfg.PriceAPIKey)
	}
	prices := price.New(db,
		price.WithExternalClient(external),
		price.WithBulkConcurrency(cfg.PriceBulkConcurrency),
		price.WithMetrics(collectors),
	)

	engine := position.New(prices, cfg.Detectors.CustodialAddresses)

	detectors := detect.New(db, prices).WithMetrics(collectors)
	detectors.Register(detect.NewSoldTooEarly(
		money.FromFloat(cfg.Detectors.S2EMinMissedPct),
		money.FromFloat(cfg.Detectors.S2EMinMissedUSD),
	))
	detectors.Register(detect.NewBagHolderDrawdown(money.FromFloat(cfg.Detectors.BHDMinDrawdown)))
	detectors.Register(detect.NewBadRoute(money.FromFloat(cfg.Detectors.BadRouteMinPct)))

	idleYieldMints := make([]detect.IdleYieldMint, 0, len(cfg.Detectors.IdleYieldMints))
	for _, m := range cfg.Detectors.IdleYieldMints {
		idleYieldMints = append(idleYieldMints, detect.IdleYieldMint{
			Mint:               m.Mint,
			AnnualizedYieldPct: money.FromFloat(m.AnnualizedYieldPct),
			LookbackDays:       m.LookbackDays,
		})
	}
	idleYield := detect.NewIdleYieldScanner(db, prices, money.FromFloat(cfg.Detectors.IdleYieldMinUSD), idleYieldMints)

	sched := scheduler.New(db, cfg.DefaultBackoff)
	adapter := ingest.New(db, objects)

	run := &worker.Runner{
		DB:                       db,
		Scheduler:                sched,
		Ingest:                   adapter,
		Engine:                   engine,
		Prices:                   prices,
		Detectors:                detectors,
		IdleYield:                idleYield,
		Metrics:                  collectors,
		BackfillPageSize:         cfg.BackfillPageSize,
		SnapshotEveryEvents:      cfg.SnapshotEveryEvents,
		PriceRefreshStale:        cfg.PriceRefreshStale,
		PriceBatchSize:           cfg.PriceBatchSize,
		CleanupRetentionDays:     cfg.CleanupRetentionDays,
		MaterializedViewLookback: 7 * 24 * time.Hour,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var lastLeaseUnix atomic.Int64

	for i := 0; i < cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		go runWorkerLoop(ctx, sched, run, collectors, workerID, &lastLeaseUnix)
	}

	go runReaperLoop(ctx, sched, cfg.ReaperInterval, cfg.ReaperLeaseTimeout)

	startHTTPServer(ctx, db, registry, cfg.HealthAddr, &lastLeaseUnix)
}

// runWorkerLoop leases and runs jobs on a fixed poll interval, grounded on
// the teacher's txlistener poll loop via pkg/pollloop.
func runWorkerLoop(ctx context.Context, sched *scheduler.Scheduler, run *worker.Runner, collectors *metrics.Collectors, workerID string, lastLeaseUnix *atomic.Int64) {
	loop := pollloop.New(pollloop.WithPollInterval(2 * time.Second))
	loop.Run(ctx, func(ctx context.Context) error {
		job, err := sched.LeaseNext(ctx, workerID)
		if err == scheduler.ErrNoJobAvailable {
			return nil
		}
		if err != nil {
			return err
		}

		lastLeaseUnix.Store(time.Now().Unix())
		collectors.ObserveJobLeased(job.Kind)

		if err := run.Run(ctx, job); err != nil {
			log.Printf("worker %s: job %s (%s) failed: %v", workerID, job.ID, job.Kind, err)
			collectors.ObserveJobFailed(job.Kind)
			if ferr := sched.Fail(ctx, job.ID, err); ferr != nil {
				return ferr
			}
			return nil
		}

		collectors.ObserveJobCompleted(job.Kind)
		return sched.Complete(ctx, job.ID)
	}, func(err error) {
		log.Printf("worker %s: poll tick error: %v", workerID, err)
	})
}

// runReaperLoop periodically returns crashed workers' leases to the queue
// (spec.md §4.1).
func runReaperLoop(ctx context.Context, sched *scheduler.Scheduler, interval, leaseTimeout time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	loop := pollloop.New(pollloop.WithPollInterval(interval))
	loop.Run(ctx, func(ctx context.Context) error {
		n, err := sched.Reap(ctx, leaseTimeout)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("reaper: reclaimed %d stale job(s)", n)
		}
		return nil
	}, func(err error) {
		log.Printf("reaper: sweep error: %v", err)
	})
}

// startHTTPServer exposes /health and /metrics and blocks until ctx is
// cancelled, then shuts down gracefully (spec.md §5 operational surface).
func startHTTPServer(ctx context.Context, db *gorm.DB, registry *prometheus.Registry, addr string, lastLeaseUnix *atomic.Int64) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(r.Context()) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy"))
			return
		}

		age := "never"
		if last := lastLeaseUnix.Load(); last > 0 {
			age = time.Since(time.Unix(last, 0)).Round(time.Second).String()
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok last_lease_age=%s\n", age)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: http server shutdown error: %v", err)
		}
	}()

	log.Printf("worker: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("worker: http server error: %v", err)
	}
}
