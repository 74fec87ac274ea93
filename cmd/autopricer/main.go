package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scraplab/autopricer/internal/alert"
	"github.com/scraplab/autopricer/internal/baseline"
	"github.com/scraplab/autopricer/internal/config"
	"github.com/scraplab/autopricer/internal/dispatch"
	"github.com/scraplab/autopricer/internal/ingest"
	"github.com/scraplab/autopricer/internal/itemlist"
	"github.com/scraplab/autopricer/internal/keyprice"
	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
	"github.com/scraplab/autopricer/internal/pricelist"
	"github.com/scraplab/autopricer/internal/pricer"
	"github.com/scraplab/autopricer/internal/scheduler"
	"github.com/scraplab/autopricer/internal/schema"
	"github.com/scraplab/autopricer/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

// discardPublisher swallows prices when outbound dispatch is disabled.
type discardPublisher struct{}

func (discardPublisher) Publish(models.PricedItem) {}

func main() {
	flag.Parse()

	// Secrets such as the Telegram token come from the environment; a
	// missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	pl, err := pricelist.Open(cfg.Storage.PricelistPath)
	if err != nil {
		logger.Fatal("Failed to open pricelist: %v", err)
	}

	items := itemlist.New(cfg.Storage.ItemListPath, cfg.Pricing.PriceAllItems)
	if err := items.Load(); err != nil {
		logger.Fatal("Failed to load item list: %v", err)
	}

	resolver, err := schema.LoadFile(cfg.Storage.SchemaPath)
	if err != nil {
		logger.Fatal("Failed to load item schema: %v", err)
	}

	baselineClient := baseline.NewClient(cfg.Baseline.URL, cfg.Baseline.CachePath, baseline.ClientConfig{
		Timeout:        cfg.Baseline.Timeout,
		MaxRetries:     cfg.Baseline.MaxRetries,
		RetryDelayBase: cfg.Baseline.RetryDelayBase,
	})

	var alerter alert.Notifier
	if cfg.Telegram.Enabled {
		tg, err := alert.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		alerter = tg
		logger.Info("Telegram alerts enabled")
	} else {
		alerter = alert.LogOnly{}
		logger.Debug("Telegram alerts disabled, logging only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var wg sync.WaitGroup

	// Outbound side: finalized prices drain through a paced queue into the
	// websocket hub so a full cycle's burst cannot flood subscribers.
	var publisher pricer.Publisher
	if cfg.Dispatch.Enabled {
		hub := dispatch.NewHub(cfg.Dispatch.ListenAddr)
		queue := dispatch.NewQueue(hub, cfg.Dispatch.QueueInterval)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := hub.Run(ctx); err != nil {
				logger.Error("Price feed server: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			queue.Run(ctx)
		}()
		publisher = queue
	} else {
		publisher = discardPublisher{}
		logger.Warn("Outbound dispatch disabled, prices will only reach the pricelist file")
	}

	stabilizer := keyprice.New(store, pl, publisher, alerter, keyprice.Config{
		ChangeThreshold:     cfg.KeyPrice.ChangeThreshold,
		VolatilityThreshold: cfg.KeyPrice.VolatilityThreshold,
		MinSpread:           cfg.KeyPrice.MinSpread,
		Retention:           cfg.KeyPrice.Retention,
	})

	pr := pricer.New(store, baselineClient, pl, items, resolver, publisher, pricer.Config{
		FallbackToBaseline:    cfg.Pricing.FallbackToBaseline,
		MaxBuyDifference:      cfg.Pricing.MaxBuyDifference,
		MaxSellDifference:     cfg.Pricing.MaxSellDifference,
		MinSellMargin:         cfg.Pricing.MinSellMargin,
		MaxBuyIncrease:        cfg.Pricing.MaxBuyIncrease,
		MaxSellDecrease:       cfg.Pricing.MaxSellDecrease,
		SellHistoryProtection: cfg.Pricing.SellHistoryProtection,
		CycleConcurrency:      cfg.Pricing.CycleConcurrency,
		KeySanityBand:         cfg.KeyPrice.SanityBand,
		TrustedSteamIDs:       cfg.Stream.TrustedSteamIDs,
	})

	// Inbound side: websocket events flow through the filter into the
	// debounce batcher; deletes bypass the batcher.
	filter := ingest.NewFilter(ingest.FilterConfig{
		ExcludedSteamIDs:     cfg.Stream.ExcludedSteamIDs,
		ExcludedDescriptions: cfg.Stream.ExcludedDescriptions,
		BlockedAttributes:    cfg.Stream.BlockedAttributes,
	}, items, resolver)
	batcher := ingest.NewBatcher(store, cfg.Stream.BatchInterval)
	pipeline := ingest.NewPipeline(filter, batcher, store)
	stream := ingest.NewStream(ingest.StreamConfig{
		URL:                cfg.Stream.URL,
		ReconnectDelayBase: cfg.Stream.ReconnectDelayBase,
		ReconnectDelayMax:  cfg.Stream.ReconnectDelayMax,
		EventLogPath:       cfg.Stream.EventLogPath,
	}, pipeline.Handle)

	wg.Add(3)
	go func() {
		defer wg.Done()
		batcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		stream.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := items.Watch(ctx); err != nil {
			logger.Error("Item list watcher: %v", err)
		}
	}()

	// The first failure of a cycle sequence pages the operator; the next
	// clean run reports recovery.
	cycleAlerts := alert.NewFailureTracker(alerter, "pricing cycle")

	startup(ctx, cfg, store, baselineClient, pr, cycleAlerts)

	sched := scheduler.New()
	sched.Register(scheduler.Task{
		Name:     "baseline-refresh",
		Interval: cfg.Scheduler.BaselineRefresh,
		Run:      baselineClient.Refresh,
	})
	sched.Register(scheduler.Task{
		Name:     "pricing-cycle",
		Interval: cfg.Scheduler.PricingCycle,
		Run: func(ctx context.Context) error {
			_, err := pr.RunCycle(ctx)
			cycleAlerts.Observe(err)
			return err
		},
	})
	sched.Register(scheduler.Task{
		Name:     "retention-sweep",
		Interval: cfg.Scheduler.RetentionSweep,
		Run: func(context.Context) error {
			store.SweepExpired()
			return nil
		},
	})
	sched.Register(scheduler.Task{
		Name:     "moving-average",
		Interval: cfg.Scheduler.MovingAverage,
		Run: func(context.Context) error {
			return store.UpdateMovingAverages(storage.DefaultEMAAlpha)
		},
	})
	sched.Register(scheduler.Task{
		Name:     "key-stability",
		Interval: cfg.Scheduler.KeyStability,
		Run: func(context.Context) error {
			return stabilizer.Check(time.Now())
		},
	})
	sched.Register(scheduler.Task{
		Name:     "key-cleanup",
		Interval: cfg.Scheduler.KeyCleanup,
		Run: func(context.Context) error {
			return stabilizer.Cleanup()
		},
	})
	sched.Register(scheduler.Task{
		Name:     "stale-price-watch",
		Interval: cfg.Scheduler.StaleWatch,
		Run: func(context.Context) error {
			pl.LogStale(cfg.Scheduler.StaleAge)
			return nil
		},
	})

	logger.Info("Autopricer running (cycle: %v, %d items listed)", cfg.Scheduler.PricingCycle, len(items.Names()))
	sched.Run(ctx)
	wg.Wait()
	logger.Info("Service stopped")
}

// startup primes every component that the periodic tasks assume is warm:
// the baseline cache, the key row in the pricelist, listing stats, and an
// initial pricing pass over whatever listings survived the last run.
func startup(ctx context.Context, cfg *config.Config, store *storage.Storage, baselineClient *baseline.Client, pr *pricer.Pricer, cycleAlerts *alert.FailureTracker) {
	if err := baselineClient.Refresh(ctx); err != nil {
		logger.Warn("Initial baseline refresh failed, relying on disk cache: %v", err)
	}
	if err := pr.SeedKeyPrice(cfg.KeyPrice.MinSpread); err != nil {
		logger.Warn("Could not seed key price yet: %v", err)
	}
	if err := store.InitListingStats(); err != nil {
		logger.Error("Initializing listing stats: %v", err)
	}
	res, err := pr.RunCycle(ctx)
	cycleAlerts.Observe(err)
	if err != nil {
		logger.Error("Initial pricing cycle failed: %v", err)
	} else {
		logger.Info("Initial pricing cycle: %d priced, %d skipped", res.Priced, res.Skipped)
	}
}
