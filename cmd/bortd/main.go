// Command bortd is the on-device structured telemetry daemon: it ingests
// events and metric samples over HTTP, aggregates metric reports, rate
// limits ingestion, and periodically hands batched dumps off to an
// external drop sink.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/memfault/bort/internal/capability"
	"github.com/memfault/bort/internal/config"
	"github.com/memfault/bort/internal/configstore"
	"github.com/memfault/bort/internal/dropsink"
	"github.com/memfault/bort/internal/dumper"
	"github.com/memfault/bort/internal/eventhub"
	"github.com/memfault/bort/internal/logger"
	"github.com/memfault/bort/internal/metricservice"
	"github.com/memfault/bort/internal/ratelimiter"
	"github.com/memfault/bort/internal/reporter"
	"github.com/memfault/bort/internal/storage"
	"github.com/memfault/bort/internal/telemetry"
	"github.com/memfault/bort/internal/transport"
)

func main() {
	printBanner()

	cfg := config.Load()
	slog.SetLogLoggerLevel(cfg.ParseLogLevel())
	log.Printf("🚀 Starting bort in %s mode", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel := telemetry.New()

	otelProviders, err := telemetry.NewProviders(ctx, "bortd")
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry providers: %v", err)
	}
	defer otelProviders.Shutdown(context.Background())

	repo, err := storage.NewRepository(cfg.DBDriver, cfg.DBDSN, tel)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}

	bootID := uuid.NewString()
	if raw, err := os.ReadFile("/proc/sys/kernel/random/boot_id"); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			bootID = id
		}
	}
	bootRowID, err := repo.EnsureBoot(bootID)
	if err != nil {
		log.Fatalf("Failed to record boot: %v", err)
	}

	cfgStore, err := configstore.Load(repo)
	if err != nil {
		log.Fatalf("Failed to load runtime config: %v", err)
	}
	runtime := cfgStore.Get()

	limiter := ratelimiter.New(runtime.Capacity, runtime.Capacity, runtime.PeriodMs, func() int64 {
		return time.Now().UnixMilli()
	})

	hub := eventhub.NewHub(tel.SetActiveConnections)

	if err := os.MkdirAll(cfg.DumpFileDir, 0o755); err != nil {
		log.Fatalf("Failed to create dump file directory: %v", err)
	}
	if err := os.MkdirAll(cfg.MetricReportDir, 0o755); err != nil {
		log.Fatalf("Failed to create metric report directory: %v", err)
	}
	if err := os.MkdirAll(cfg.DropSinkDir, 0o755); err != nil {
		log.Fatalf("Failed to create drop sink outbox: %v", err)
	}
	outbox, err := dropsink.NewFilesystemOutbox(cfg.DropSinkDir)
	if err != nil {
		log.Fatalf("Failed to initialize drop sink: %v", err)
	}
	sinkFn := func(tag, path string) bool {
		accepted := outbox.Accept(tag, path)
		if accepted {
			tel.RecordDump(true, 0)
		} else {
			tel.RecordDump(false, 0)
		}
		return accepted
	}

	dumpFilePath := filepath.Join(cfg.DumpFileDir, "dump.json")
	d := dumper.New(repo, dumpFilePath,
		msToDuration(runtime.DumpPeriodMs),
		func() bool { return true },
		func(tag, path string) bool {
			accepted := sinkFn(tag, path)
			tel.RecordDump(accepted, 0)
			if accepted {
				hub.Publish(eventhub.DumpCompleted)
			} else {
				hub.Publish(eventhub.DumpRejected)
			}
			return accepted
		},
		func() int64 { return repo.AvailableSpace("") - cfgStore.Get().MinStorageThresholdBytes },
		dumper.Lifecycle{
			OnDumpCompleted: func() {},
			OnDumpRejected:  func() {},
		},
	)
	repo.OnEmpty(func() { hub.Publish(eventhub.StorageEmpty) })

	lg := logger.New(repo, limiter, cfgStore, d, bootRowID, logger.Lifecycle{
		OnRateLimited: func() { tel.RecordDrop("rate_limited"); hub.Publish(eventhub.EntryRateLimited) },
		OnOversized:   func() { tel.RecordDrop("oversize"); hub.Publish(eventhub.EntryOversized) },
		OnAccepted:    func() { tel.RecordIngestion() },
	})

	rp := reporter.New(repo)
	reportPath := filepath.Join(cfg.MetricReportDir, "metric_report.json")
	hdPath := filepath.Join(cfg.MetricReportDir, "metric_report_hd.json")
	ms := metricservice.New(repo, rp, cfgStore, reportPath, hdPath, sinkFn)
	ms.OnReportFinished = func() { tel.RecordReportFinish() }

	var minter *capability.Minter
	if len(cfg.CapabilityKey) > 0 {
		minter = capability.NewMinter(cfg.CapabilityKey)
	}

	srv := transport.NewServer(lg, ms, d, hub, minter, tel)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: otelhttp.NewHandler(mux, "bortd"),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		d.DumpOldEntriesOnBoot()
		d.Run()
		return nil
	})

	g.Go(func() error {
		log.Printf("Starting HTTP server on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		d.Terminate()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		tel.SetStorageFree(repo.AvailableSpace(""))
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				tel.SetStorageFree(repo.AvailableSpace(""))
			}
		}
	})

	g.Go(func() error {
		watchClockSkew(gctx, hub)
		return nil
	})

	<-ctx.Done()
	log.Println("Shutting down...")

	if err := g.Wait(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("bortd exited")
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// watchClockSkew polls the gap between monotonic and wall-clock elapsed time
// and publishes ClockJumped when they disagree by more than half the poll period,
// meaning something stepped the wall clock backwards or forwards (NTP sync,
// manual set, device suspend/resume). Go has no portable equivalent of a
// timerfd with TFD_TIMER_CANCEL_ON_SET, so polling is the closest analogue.
func watchClockSkew(ctx context.Context, hub *eventhub.Hub) {
	const interval = 10 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastMono := time.Now()
	lastWall := time.Now().Round(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nowMono := time.Now()
			nowWall := time.Now().Round(0)
			monoElapsed := nowMono.Sub(lastMono)
			wallElapsed := nowWall.Sub(lastWall)
			drift := wallElapsed - monoElapsed
			if drift < 0 {
				drift = -drift
			}
			if drift > interval/2 {
				slog.Warn("detected wall clock jump", "drift", drift)
				hub.Publish(eventhub.ClockJumped)
			}
			lastMono, lastWall = nowMono, nowWall
		}
	}
}

func printBanner() {
	banner := `
 _                 _
| |__   ___  _ __ | |_
| '_ \ / _ \| '_ \| __|
| |_) | (_) | |_) | |_
|_.__/ \___/| .__/ \__|
            |_|
bort structured telemetry daemon
`
	fmt.Println(banner)
}
