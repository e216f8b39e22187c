package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rengon0x/confluence-bot-sub000/internal/cache"
	"github.com/Rengon0x/confluence-bot-sub000/internal/confluence"
	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
	"github.com/Rengon0x/confluence-bot-sub000/internal/feed"
	"github.com/Rengon0x/confluence-bot-sub000/internal/observability"
	"github.com/Rengon0x/confluence-bot-sub000/internal/settings"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage"
	chstore "github.com/Rengon0x/confluence-bot-sub000/internal/storage/clickhouse"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage/memory"
	"github.com/Rengon0x/confluence-bot-sub000/internal/storage/migrations"
	pgstore "github.com/Rengon0x/confluence-bot-sub000/internal/storage/postgres"
)

func main() {
	// .env is optional; flags and real env take precedence.
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", true, "Run PostgreSQL migrations on startup")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the transaction cache (empty for in-process)")
	redisPassword := flag.String("redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the event archive (empty to disable)")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("WS_ENDPOINT"), "WebSocket transaction feed endpoint")
	kafkaBrokers := flag.String("kafka-brokers", os.Getenv("KAFKA_BROKERS"), "Comma-separated Kafka brokers for the transaction feed")
	kafkaTopic := flag.String("kafka-topic", "transactions", "Kafka topic carrying transaction messages")
	kafkaGroup := flag.String("kafka-group", "confluenced", "Kafka consumer group")
	groupSettings := flag.String("group-settings", os.Getenv("GROUP_SETTINGS"), "Per-group overrides as group:minWallets:windowMinutes, comma-separated")
	maxCacheMB := flag.Int64("max-cache-mb", 100, "Cache size threshold in MB before emergency eviction")
	sweepInterval := flag.Duration("sweep-interval", 2*time.Minute, "Cache time-sweep interval")
	reconcileInterval := flag.Duration("reconcile-interval", 5*time.Minute, "Cache/durable-store reconciliation interval")
	deactivateInterval := flag.Duration("deactivate-interval", 1*time.Hour, "Stale-confluence deactivation interval")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[confluenced] ", log.LstdFlags|log.Lshortfile)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err := run(ctx, logger, options{
		postgresDSN:        *postgresDSN,
		useMemory:          *useMemory,
		migrate:            *migrate,
		redisAddr:          *redisAddr,
		redisPassword:      *redisPassword,
		clickhouseDSN:      *clickhouseDSN,
		wsEndpoint:         *wsEndpoint,
		kafkaBrokers:       *kafkaBrokers,
		kafkaTopic:         *kafkaTopic,
		kafkaGroup:         *kafkaGroup,
		groupSettings:      *groupSettings,
		maxCacheBytes:      *maxCacheMB << 20,
		sweepInterval:      *sweepInterval,
		reconcileInterval:  *reconcileInterval,
		deactivateInterval: *deactivateInterval,
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type options struct {
	postgresDSN        string
	useMemory          bool
	migrate            bool
	redisAddr          string
	redisPassword      string
	clickhouseDSN      string
	wsEndpoint         string
	kafkaBrokers       string
	kafkaTopic         string
	kafkaGroup         string
	groupSettings      string
	maxCacheBytes      int64
	sweepInterval      time.Duration
	reconcileInterval  time.Duration
	deactivateInterval time.Duration
}

func run(ctx context.Context, logger *log.Logger, opts options) error {
	if opts.wsEndpoint == "" && opts.kafkaBrokers == "" {
		return fmt.Errorf("no transaction feed configured: set --ws-endpoint or --kafka-brokers")
	}
	if !opts.useMemory && opts.postgresDSN == "" {
		return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	// Durable stores
	var txStore storage.TransactionStore = memory.NewTransactionStore()
	var confStore storage.ConfluenceStore = memory.NewConfluenceStore()

	if !opts.useMemory {
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if opts.migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return fmt.Errorf("run postgres migrations: %w", err)
			}
		}

		txStore = storage.InstrumentTransactionStore("postgres", pgstore.NewTransactionStore(pool))
		confStore = storage.InstrumentConfluenceStore("postgres", pgstore.NewConfluenceStore(pool))
	}

	// Cache backend
	var cacheStore cache.Store = cache.NewMemoryStore()
	if opts.redisAddr != "" {
		rs, err := cache.NewRedisStore(ctx, opts.redisAddr, opts.redisPassword, 0)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rs.Close()
		cacheStore = rs
	}

	provider, err := parseGroupSettings(opts.groupSettings)
	if err != nil {
		return err
	}
	resolver := settings.NewResolver(provider, logger)

	manager := cache.NewManager(cacheStore, resolver, cache.ManagerConfig{
		MaxBytes: opts.maxCacheBytes,
		Logger:   logger,
	})

	engine := confluence.NewEngine(confluence.Config{
		TransactionStore: txStore,
		ConfluenceStore:  confStore,
		Cache:            manager,
		Settings:         resolver,
		Logger:           logger,
	})

	// Event archive (optional)
	var archive *chstore.EventArchive
	if opts.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, opts.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()
		archive = chstore.NewEventArchive(conn)
	}

	emit := func(ctx context.Context, events []*domain.Confluence) {
		for _, c := range events {
			logger.Printf("confluence %s: %d wallets (%d buy / %d sell), primary=%s",
				c.TokenKey(), c.TotalWallets, c.BuyWalletCount, c.SellWalletCount, c.PrimarySide)
		}
		if archive != nil && len(events) > 0 {
			if err := archive.Record(ctx, events, time.Now().UnixMilli()); err != nil {
				logger.Printf("archiving %d events failed: %v", len(events), err)
			}
		}
	}

	handle := func(ctx context.Context, tx *domain.Transaction) {
		if !engine.Ingest(ctx, tx.GroupID, tx) {
			return
		}
		emit(ctx, engine.DetectWithTransaction(ctx, tx.GroupID, tx))
	}

	// Background jobs
	go runTicker(ctx, opts.sweepInterval, engine.SweepExpired)
	go runTicker(ctx, opts.reconcileInterval, engine.Reconcile)
	go runTicker(ctx, opts.deactivateInterval, engine.DeactivateStale)

	errCh := make(chan error, 2)
	feeds := 0

	if opts.kafkaBrokers != "" {
		kf := feed.NewKafkaFeed(feed.KafkaConfig{
			Brokers:       strings.Split(opts.kafkaBrokers, ","),
			Topic:         opts.kafkaTopic,
			ConsumerGroup: opts.kafkaGroup,
		}, logger)
		defer kf.Close()

		feeds++
		go func() {
			logger.Printf("Consuming Kafka topic %s", opts.kafkaTopic)
			errCh <- kf.Run(ctx, handle)
		}()
	}

	if opts.wsEndpoint != "" {
		wf, err := feed.NewWSFeed(ctx, opts.wsEndpoint, nil, logger)
		if err != nil {
			return fmt.Errorf("connect websocket feed: %w", err)
		}
		defer wf.Close()

		feeds++
		go func() {
			logger.Printf("Consuming WebSocket feed %s", opts.wsEndpoint)
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case tx, ok := <-wf.Transactions():
					if !ok {
						errCh <- fmt.Errorf("websocket feed closed")
						return
					}
					handle(ctx, tx)
				}
			}
		}()
	}

	logger.Println("Confluence engine running")

	// First feed error (or cancellation) ends the process; remaining feeds
	// stop via the shared context.
	var firstErr error
	for i := 0; i < feeds; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// parseGroupSettings parses "group:minWallets:windowMinutes" entries into a
// static settings provider. Unlisted groups use hard defaults.
func parseGroupSettings(spec string) (*settings.StaticProvider, error) {
	groups := make(map[string]domain.GroupSettings)
	if spec == "" {
		return settings.NewStaticProvider(groups), nil
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("bad group settings entry %q, want group:minWallets:windowMinutes", entry)
		}

		minWallets, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bad minWallets in %q: %w", entry, err)
		}
		windowMinutes, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("bad windowMinutes in %q: %w", entry, err)
		}

		groups[parts[0]] = domain.GroupSettings{
			GroupID:       parts[0],
			MinWallets:    minWallets,
			WindowMinutes: windowMinutes,
		}
	}

	return settings.NewStaticProvider(groups), nil
}

// runTicker invokes fn on every tick until the context is canceled.
func runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
