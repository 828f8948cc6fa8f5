package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"lease-offer-sync/assets"
	"lease-offer-sync/config"
	"lease-offer-sync/models"
	"lease-offer-sync/pipeline"
	"lease-offer-sync/scraper/dealer"
	"lease-offer-sync/services"
	"lease-offer-sync/state"
	syncclient "lease-offer-sync/sync"
	"lease-offer-sync/utils"
)

func main() {
	force := flag.Bool("force", false, "bypass the scheduler's staleness check")
	refresh := flag.Bool("refresh", false, "re-derive financial tables from the committed snapshot without scraping")
	daemon := flag.Bool("daemon", false, "host the schedule in-process: full run daily, financial refresh hourly")
	flag.Parse()

	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== Lease Offer Sync starting ===")
	logger.Info("Config — source: %s | state: %s | concurrency: %d | staleness: %dh",
		cfg.SourceURL, cfg.StateBackend, cfg.MaxConcurrency, cfg.StalenessHours)

	store, err := newStore(cfg)
	if err != nil {
		logger.Error("Failed to open state store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	orchestrator, err := buildPipeline(cfg, logger, store)
	if err != nil {
		logger.Error("Failed to assemble pipeline: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *daemon:
		runDaemon(ctx, logger, orchestrator)
	case *refresh:
		if err := orchestrator.RefreshFinancials(ctx); err != nil {
			os.Exit(1)
		}
	default:
		if err := orchestrator.Run(ctx, pipeline.RunOptions{Force: *force}); err != nil {
			os.Exit(1)
		}
	}

	logger.Info("=== Lease Offer Sync done ===")
}

func newStore(cfg *config.Config) (state.Store, error) {
	switch cfg.StateBackend {
	case "postgres":
		return state.NewPostgresStore(cfg.DSN())
	case "file":
		return state.NewFileStore(cfg.StateDir)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

func buildPipeline(cfg *config.Config, logger *utils.Logger, store state.Store) (*pipeline.Orchestrator, error) {
	enricher := services.NewEnricher(logger, cfg.TaxRate,
		models.FeeSchedule{
			Acquisition:   cfg.AcquisitionFee,
			Documentation: cfg.DocumentationFee,
			Disposition:   cfg.DispositionFee,
		},
		services.EnrichmentDefaults{
			DiscountPct: cfg.DefaultDiscountPct,
			ResidualPct: cfg.DefaultResidualPct,
			TermMonths:  cfg.DefaultTermMonths,
			Payment:     cfg.DefaultPayment,
		})

	processor, err := assets.NewProcessor(logger, assets.Options{
		OutDir:      cfg.ImageDir,
		PublicURL:   cfg.ImageBaseURL,
		MaxWidth:    cfg.ImageMaxWidth,
		Quality:     cfg.ImageQuality,
		Concurrency: cfg.MaxConcurrency,
	})
	if err != nil {
		return nil, err
	}

	syncer := syncclient.NewClient(logger, syncclient.Options{
		BaseURL:     cfg.MarketplaceBaseURL,
		Token:       cfg.MarketplaceToken,
		Concurrency: cfg.MaxConcurrency,
		MaxRetries:  cfg.MaxRetries,
	})

	scheduler := pipeline.NewScheduler(logger, time.Duration(cfg.StalenessHours)*time.Hour)

	return pipeline.NewOrchestrator(
		logger,
		scheduler,
		dealer.New(cfg, logger),
		enricher,
		processor,
		services.NewDiffEngine(logger),
		syncer,
		store,
	), nil
}

// runDaemon hosts the two schedule definitions in-process: a full run once a
// day and a lightweight financial refresh every hour. Each cycle still runs
// to completion and exits; overlap is handled by the run guard.
func runDaemon(ctx context.Context, logger *utils.Logger, orchestrator *pipeline.Orchestrator) {
	scheduler := gocron.NewScheduler(time.UTC)

	if _, err := scheduler.Every(1).Day().At("06:00").Do(func() {
		if err := orchestrator.Run(ctx, pipeline.RunOptions{}); err != nil {
			logger.Error("Scheduled run failed: %v", err)
		}
	}); err != nil {
		logger.Error("Failed to register daily run: %v", err)
		return
	}

	if _, err := scheduler.Every(1).Hour().Do(func() {
		if err := orchestrator.RefreshFinancials(ctx); err != nil {
			logger.Error("Scheduled refresh failed: %v", err)
		}
	}); err != nil {
		logger.Error("Failed to register hourly refresh: %v", err)
		return
	}

	logger.Info("Daemon mode — full run daily at 06:00 UTC, financial refresh hourly")
	scheduler.StartAsync()

	<-ctx.Done()
	scheduler.Stop()
	logger.Info("Daemon stopped")
}
