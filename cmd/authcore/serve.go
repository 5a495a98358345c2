package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/authcore/internal/auth"
	"github.com/alexjbarnes/authcore/internal/authcode"
	"github.com/alexjbarnes/authcore/internal/blacklist"
	"github.com/alexjbarnes/authcore/internal/config"
	"github.com/alexjbarnes/authcore/internal/directory"
	"github.com/alexjbarnes/authcore/internal/flow"
	"github.com/alexjbarnes/authcore/internal/logging"
	"github.com/alexjbarnes/authcore/internal/pending"
	"github.com/alexjbarnes/authcore/internal/server"
	"github.com/alexjbarnes/authcore/internal/sqlstore"
	"github.com/alexjbarnes/authcore/internal/state"
	"github.com/alexjbarnes/authcore/internal/token"
	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second

	// janitorInterval is how often used and expired codes are purged.
	janitorInterval = 10 * time.Minute

	redisConnectTries = 5
)

// runServe starts the authorization server and blocks until ctx is
// cancelled or a component fails.
func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("authcore starting",
		slog.String("version", Version),
		slog.String("issuer", cfg.Issuer),
		slog.String("code_store", cfg.CodeStore),
		slog.String("cache_backend", cfg.CacheBackend),
	)

	signer, err := token.NewSigner(cfg.JWTSecret, logger)
	if err != nil {
		return fmt.Errorf("creating token signer: %w", err)
	}

	dir, err := directory.Load(cfg.DirectoryFile, logger)
	if err != nil {
		return fmt.Errorf("loading directory: %w", err)
	}

	backend, err := openCodeBackend(ctx, cfg)
	if err != nil {
		return err
	}

	codes := authcode.NewStore(backend)
	defer codes.Close()

	caches, err := openCaches(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer caches.close()

	ctrl := flow.NewController(flow.Config{
		Issuer:              cfg.Issuer,
		CodeTTL:             cfg.CodeTTL,
		AccessTTL:           cfg.AccessTokenTTL,
		RefreshTTL:          cfg.RefreshTokenTTL,
		RequirePKCE:         cfg.RequirePKCE,
		RotateRefreshTokens: cfg.RotateRefreshTokens,
	}, flow.Deps{
		Clients:  dir,
		Users:    dir,
		Requests: caches.requests,
		Codes:    codes,
		Signer:   signer,
		Revoked:  caches.revoked,
	}, logger)

	store := auth.NewStore(cfg.SecureCookies())
	defer store.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := server.NewMux(server.MuxConfig{
		Flow:         ctrl,
		Users:        dir,
		Store:        store,
		TokenLimiter: auth.NewClientLimiter(cfg.TokenRateLimit, cfg.TokenRateBurst),
		Metrics:      auth.NewMetrics(reg),
		Gatherer:     reg,
		Health:       caches.health,
		Scopes:       dir.Scopes(),
		Logger:       logger,
		Issuer:       cfg.Issuer,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      logging.Middleware(logger)(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return runJanitor(gctx, codes, cfg.CodeRetention, logger)
	})

	g.Go(func() error {
		return dir.Watch(gctx)
	})

	return g.Wait()
}

// openCodeBackend opens the configured authorization code backend.
func openCodeBackend(ctx context.Context, cfg *config.Config) (authcode.Backend, error) {
	switch cfg.CodeStore {
	case config.CodeStoreBolt:
		s, err := state.LoadAt(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("opening bolt code store: %w", err)
		}

		return s, nil
	case config.CodeStoreSQLite:
		s, err := sqlstore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite code store: %w", err)
		}

		return s, nil
	default:
		return authcode.NewMemory(), nil
	}
}

// caches holds the pending request store and the token blacklist.
type caches struct {
	requests pending.Store
	revoked  blacklist.Blacklist
	health   func(context.Context) error
	close    func()
}

func openCaches(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*caches, error) {
	if cfg.CacheBackend != config.CacheRedis {
		requests := pending.NewMemory(cfg.PendingRequestTTL)
		revoked := blacklist.NewMemory()

		return &caches{
			requests: requests,
			revoked:  revoked,
			close: func() {
				requests.Stop()
				revoked.Stop()
			},
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := pingRedis(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &caches{
		requests: pending.NewRedis(client, "", cfg.PendingRequestTTL),
		revoked:  blacklist.NewRedis(client, ""),
		health: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		close: func() { _ = client.Close() },
	}, nil
}

// pingRedis waits for redis to answer, retrying with exponential backoff.
func pingRedis(ctx context.Context, client *redis.Client, logger *slog.Logger) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(redisConnectTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("redis not reachable, retrying",
				slog.String("addr", client.Options().Addr),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	return nil
}

// runJanitor purges codes that expired more than retention ago until ctx
// is cancelled.
func runJanitor(ctx context.Context, codes *authcode.Store, retention time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := codes.Purge(ctx, retention)
			if err != nil {
				logger.Warn("purging authorization codes", slog.String("error", err.Error()))
				continue
			}

			if n > 0 {
				logger.Debug("purged authorization codes", slog.Int("count", n))
			}
		}
	}
}
