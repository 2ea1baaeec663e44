package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/papertrade/internal/auth"
	"github.com/efreitasn/papertrade/internal/config"
	"github.com/efreitasn/papertrade/internal/events"
	"github.com/efreitasn/papertrade/internal/handler"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/pricing"
	"github.com/efreitasn/papertrade/internal/service"
	"github.com/efreitasn/papertrade/internal/store"
	"github.com/efreitasn/papertrade/internal/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8000"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Root context: cancelled on shutdown so open ticker streams end too.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []io.Closer

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Record store.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, store.PostgresOption{ConnString: cfg.DatabaseURL})
		if err != nil {
			logger.Error("failed to open postgres", slog.String("error", err.Error()))
			os.Exit(1)
		}
		closers = append(closers, pg)
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	// Price cache.
	var cache pricing.PriceCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// The oracle degrades to the fallback table while Redis is down.
			logger.Warn("redis unreachable at startup", slog.String("error", err.Error()))
		}
		rc := pricing.NewRedisCache(client)
		closers = append(closers, rc)
		cache = rc
	} else {
		cache = pricing.NewMemoryCache()
	}

	// Trade events.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("publishing trade events",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	}

	// Pricing and streaming.
	source := pricing.NewCoinGeckoSource(cfg.PriceSourceURL, cfg.PriceCurrency, cfg.PriceTimeout)
	oracle := pricing.NewOracle(source, cache, cfg.PriceTimeout, logger, m)
	tickers := ticker.NewRegistry(oracle)

	// Services.
	authSvc := service.NewAuthService(st,
		auth.NewPasswordHasher(bcrypt.DefaultCost),
		auth.NewTokenIssuer(cfg.SecretKey, cfg.AccessTokenExpire),
	)
	ledgerSvc := service.NewLedgerService(st, publisher, m, logger)
	portfolioSvc := service.NewPortfolioService(st)

	// Router.
	router := handler.NewRouter(handler.Dependencies{
		AuthSvc:        authSvc,
		LedgerSvc:      ledgerSvc,
		PortfolioSvc:   portfolioSvc,
		Prices:         oracle,
		Tickers:        tickers,
		TickInterval:   cfg.TickInterval,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        m,
		Gatherer:       reg,
		Logger:         logger,
	})

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, end streams, flush events, close
	// backends.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	ledgerSvc.Wait()
	if err := publisher.Close(); err != nil {
		logger.Error("event publisher close error", slog.String("error", err.Error()))
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}
