package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/pos-billing/configs"
	"github.com/example/pos-billing/internal/api"
	"github.com/example/pos-billing/internal/api/middleware"
	"github.com/example/pos-billing/internal/auth"
	"github.com/example/pos-billing/internal/domain/catalog"
	"github.com/example/pos-billing/internal/domain/order"
	"github.com/example/pos-billing/internal/domain/user"
	"github.com/example/pos-billing/internal/infrastructure/cache"
	"github.com/example/pos-billing/internal/infrastructure/kafka"
	"github.com/example/pos-billing/internal/infrastructure/storage"
	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/example/pos-billing/internal/logging"
	"github.com/example/pos-billing/internal/payment"
	"github.com/example/pos-billing/internal/query"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	configDir := flag.String("config", "./configs", "directory holding base.yaml")
	flag.Parse()

	cfg, err := configs.Load(*configDir, os.Getenv("APP_ENV"))
	if err != nil {
		logging.Base().Error("load config", "err", err)
		os.Exit(1)
	}

	log := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)
	if err := run(cfg); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *configs.Config) error {
	log := logging.New("main")
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// PostgreSQL
	db, err := store.ConnectPostgres(cfg.Postgres.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to postgres")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	idem := cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
	if err := idem.Ping(ctx); err != nil {
		// idempotency degrades to best effort while Redis is down
		log.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "err", err)
	}

	// Kafka
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	// S3
	s3Client, err := storage.NewS3Client(ctx, storage.ClientConfig{
		Region:       cfg.Storage.Region,
		AccessKey:    cfg.Storage.AccessKey,
		SecretKey:    cfg.Storage.SecretKey,
		Endpoint:     cfg.Storage.Endpoint,
		UsePathStyle: cfg.Storage.UsePathStyle,
	})
	if err != nil {
		return err
	}
	files := storage.NewS3Storage(s3Client, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)

	verifier, err := payment.NewVerifier(cfg.Gateway.SignatureMode, cfg.Gateway.KeySecret)
	if err != nil {
		return err
	}

	// Domain services
	orderStore := store.NewPostgresOrderStore(db)
	orderSvc := order.NewService(orderStore, verifier,
		order.Policy{
			AllowPaidDeletion: cfg.Orders.AllowPaidDeletion,
			EnforceTotals:     cfg.Orders.EnforceTotals,
		},
		order.WithPublisher(producer),
		order.WithIdempotency(idem),
	)
	userSvc := user.NewService(store.NewPostgresUserStore(db))
	catalogSvc := catalog.NewService(store.NewPostgresCatalogStore(db), files)
	gateway := payment.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret,
		cfg.Gateway.Timeout, payment.WithIdempotency(idem))
	dashboard := query.NewHandler(orderStore, orderSvc, cfg.Orders.RecentLimit, loc)
	tokens := auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.TokenTTL)

	if admin := cfg.Security.BootstrapAdmin; admin.Email != "" {
		if err := userSvc.EnsureAdmin(ctx, admin.Email, admin.Password, admin.Name); err != nil {
			return err
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Handlers:         api.NewHandlers(orderSvc, gateway, dashboard),
		AuthHandlers:     api.NewAuthHandlers(userSvc, tokens),
		CategoryHandlers: api.NewCategoryHandlers(catalogSvc),
		Tokens:           tokens,
		Resolver:         userSvc,
		LoginLimiter:     middleware.NewRateLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst),
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		Logger:           logging.New("http"),
		HealthCheck: func(ctx context.Context) error {
			return errors.Join(db.PingContext(ctx), idem.Ping(ctx))
		},
	})

	server := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "addr", cfg.App.HTTPAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
