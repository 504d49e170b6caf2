package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/allocator"
	"futures-hedge-bot/internal/analysis"
	"futures-hedge-bot/internal/api"
	"futures-hedge-bot/internal/auth"
	"futures-hedge-bot/internal/cache"
	"futures-hedge-bot/internal/circuit"
	"futures-hedge-bot/internal/credentials"
	"futures-hedge-bot/internal/database"
	"futures-hedge-bot/internal/engine"
	"futures-hedge-bot/internal/events"
	"futures-hedge-bot/internal/exchange"
	"futures-hedge-bot/internal/logging"
	"futures-hedge-bot/internal/metrics"
	"futures-hedge-bot/internal/notification"
	"futures-hedge-bot/internal/orders"
	"futures-hedge-bot/internal/snapshot"
)

// mockStartingBalance funds each simulated account when the venue is
// mocked or the bot runs dry.
const mockStartingBalance = 10000

// mockSeedPrice quotes every pair when mock mode runs without a stream.
const mockSeedPrice = 100

func main() {
	// Load .env if present; deployments set real environment variables.
	godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Options{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		JSON:      cfg.Logging.JSON,
		AddSource: cfg.Logging.AddSource,
		Component: "main",
	})
	logging.SetDefault(logger)
	logger.Info("configuration loaded",
		"pairs", len(cfg.Trading.Pairs),
		"dry_run", cfg.Trading.DryRun,
		"mock_mode", cfg.Gateway.MockMode,
		"testnet", cfg.Gateway.TestNet)

	ctx := context.Background()

	// Initialize event bus and its consumers
	bus := events.NewBus()
	metrics.BindBus(bus)

	eventLog := logging.Default().WithComponent("events")
	bus.SubscribeAll(func(e events.Event) {
		eventLog.Debug(string(e.Type), "data", e.Data)
	})

	notifyManager := notification.NewManager(cfg.Notification)
	notifyManager.BindBus(bus)
	if cfg.Notification.Enabled {
		logger.Info("notifications enabled", "webhooks", len(cfg.Notification.Webhooks))
	}

	// Price stream feeds the in-memory cache; skipped entirely in mock
	// mode where no network is touched.
	priceCache := cache.NewPriceCache(2*time.Minute, 10*time.Minute)
	var stream *exchange.PriceStream
	if !cfg.Gateway.MockMode {
		stream = exchange.NewPriceStream(cfg.Gateway.StreamURL, cfg.Trading.Pairs)
	}

	// Initialize gateways. Dry run trades against simulated accounts
	// that still quote live stream prices; mock mode seeds static quotes.
	var primaryGW, hedgeGW exchange.Gateway
	if cfg.Trading.DryRun || cfg.Gateway.MockMode {
		primaryMock := exchange.NewMockGateway("primary", mockStartingBalance)
		hedgeMock := exchange.NewMockGateway("hedge", mockStartingBalance)
		if stream != nil {
			quote := func(ctx context.Context, pair string) (float64, error) {
				if price, ok := stream.Price(pair); ok {
					return price, nil
				}
				return 0, fmt.Errorf("no stream quote for %s", pair)
			}
			primaryMock.WithQuotes(quote)
			hedgeMock.WithQuotes(quote)
		} else {
			for _, pair := range cfg.Trading.Pairs {
				primaryMock.SetPrice(pair, mockSeedPrice)
				hedgeMock.SetPrice(pair, mockSeedPrice)
			}
		}
		primaryGW, hedgeGW = primaryMock, hedgeMock
		logger.Info("simulated gateways active, no orders reach the venue")
	} else {
		loader, err := credentials.NewLoader(cfg.Vault, cfg.Credentials)
		if err != nil {
			log.Fatalf("Failed to initialize credential loader: %v", err)
		}
		creds, err := loader.Load(ctx)
		if err != nil {
			log.Fatalf("Failed to load credentials: %v", err)
		}

		timeout := time.Duration(cfg.Gateway.TimeoutSecs) * time.Second
		primaryGW = exchange.NewClient(creds.Primary.APIKey, creds.Primary.SecretKey,
			cfg.Gateway.BaseURL, "primary", timeout)
		if creds.HasHedge() {
			hedgeGW = exchange.NewClient(creds.Hedge.APIKey, creds.Hedge.SecretKey,
				cfg.Gateway.BaseURL, "hedge", timeout)
			logger.Info("hedge account configured, hedges trade on their own credentials")
		} else {
			logger.Info("single account mode, hedges share the primary credentials")
		}
	}

	// Initialize Redis cache
	var cacheSvc *cache.Service
	if cfg.Redis.Enabled {
		cacheSvc, err = cache.NewService(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to initialize redis: %v", err)
		}
		defer cacheSvc.Close()
	}

	// Initialize snapshot store
	var rdb *redis.Client
	if cacheSvc != nil {
		rdb = cacheSvc.Client()
	}
	store, err := snapshot.New(cfg.Snapshot, rdb)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot store: %v", err)
	}

	// Client order ID generators, one sequence per credential.
	var seq orders.SequenceSource
	if cacheSvc != nil {
		seq = cacheSvc
	}
	primaryIDs, err := orders.NewGenerator(seq, "primary")
	if err != nil {
		log.Fatalf("Failed to initialize order id generator: %v", err)
	}
	hedgeIDs, err := orders.NewGenerator(seq, "hedge")
	if err != nil {
		log.Fatalf("Failed to initialize order id generator: %v", err)
	}

	// Order journal
	journal, journalFile, err := orders.OpenJournalFile(cfg.Trading.JournalPath)
	if err != nil {
		logger.Warn("journal file unavailable, writing to stdout",
			"path", cfg.Trading.JournalPath, "error", err)
		journal = orders.NewJournal(nil)
	} else {
		defer journalFile.Close()
	}

	// Initialize trade history database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		defer db.Close()
	}

	// Initialize circuit breaker
	breaker := circuit.New(cfg.Circuit)
	breaker.SetCallbacks(
		func(reason string) { bus.PublishCircuitTripped(reason) },
		func() { bus.PublishCircuitReset() },
	)

	// Initialize allocator and the dual-credential reconciler
	alloc := allocator.New(cfg.Allocator, cfg.Sizing, cfg.Hedge.SizePct)
	metrics.BindAllocator(alloc)
	reconciler := engine.NewReconciler(primaryGW, hedgeGW, store, bus)

	// Optional analysis provider for entry levels.
	var advisor analysis.Provider
	client := analysis.NewClient(cfg.Analysis)
	if client.IsConfigured() {
		advisor = analysis.NewCached(client, priceCache, cfg.Analysis)
		logger.Info("analysis provider enabled", "model", cfg.Analysis.Model)
	}

	// Initialize the engine
	eng := engine.NewEngine(cfg, engine.EngineDeps{
		Reconciler: reconciler,
		Allocator:  alloc,
		Breaker:    breaker,
		PrimaryIDs: primaryIDs,
		HedgeIDs:   hedgeIDs,
		Journal:    journal,
		Bus:        bus,
		Analysis:   advisor,
		History:    db,
	})

	// Optional operator auth for mutating API routes.
	var authManager *auth.Manager
	if cfg.Auth.Enabled {
		authManager, err = auth.NewManager(cfg.Auth)
		if err != nil {
			log.Fatalf("Failed to initialize auth: %v", err)
		}
	}

	// Initialize API server
	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(cfg.Server, api.ServerDeps{
			Engine:    eng,
			Allocator: alloc,
			Breaker:   breaker,
			History:   db,
			Auth:      authManager,
		})
		go func() {
			if err := server.Start(); err != nil {
				log.Fatalf("Failed to start API server: %v", err)
			}
		}()
		logger.Info("API server listening",
			"host", cfg.Server.Host, "port", cfg.Server.Port,
			"auth", cfg.Auth.Enabled)
	}

	// Start the price stream and keep the local cache fed from it.
	feedStop := make(chan struct{})
	if stream != nil {
		stream.Start()
		go feedPriceCache(stream, priceCache, cfg.Trading.Pairs, feedStop)
	}

	// Start the engine
	eng.Start()
	logger.Info("futures hedge bot started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	// Graceful shutdown
	shutdownSecs := cfg.Server.ShutdownTimeoutSecs
	if shutdownSecs <= 0 {
		shutdownSecs = 30
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownSecs)*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown failed", "error", err)
		}
	}

	eng.Stop()

	close(feedStop)
	if stream != nil {
		stream.Stop()
	}

	logger.Info("shutdown complete")
}

// feedPriceCache copies stream quotes into the local price cache so the
// analysis layer can see recent movement without extra venue calls.
func feedPriceCache(stream *exchange.PriceStream, prices *cache.PriceCache, pairs []string, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, pair := range pairs {
				if price, ok := stream.Price(pair); ok {
					prices.Put(pair, price)
				}
			}
		}
	}
}
