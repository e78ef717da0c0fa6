package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/newsletter-service/internal/adapters/cache"
	emailadapter "github.com/viralforge/newsletter-service/internal/adapters/email"
	eventadapter "github.com/viralforge/newsletter-service/internal/adapters/events"
	httpadapter "github.com/viralforge/newsletter-service/internal/adapters/http"
	metricsadapter "github.com/viralforge/newsletter-service/internal/adapters/metrics"
	"github.com/viralforge/newsletter-service/internal/adapters/postgres"
	"github.com/viralforge/newsletter-service/internal/adapters/security"
	"github.com/viralforge/newsletter-service/internal/application"
	"github.com/viralforge/newsletter-service/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *health.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("service", cfg.ServiceID)
	slog.SetDefault(logger)
	logger.Info("bootstrapping newsletter service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"idempotency_backend", cfg.IdempotencyBackend,
		"dispatch_concurrency", cfg.DispatchConcurrency,
	)

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	closers = append(closers, sqlDB.Close)

	if err := postgres.RunMigrations(ctx, db); err != nil {
		cleanup()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	repos := postgres.NewRepositories(db)

	var redisClient *redis.Client
	idempotency := repos.Idempotency
	if cfg.IdempotencyBackend == IdempotencyBackendRedis {
		redisClient, err = cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, redisClient.Close)
		idempotency = cacheadapter.NewRedisIdempotencyStore(redisClient, cfg.IdempotencyLeaseTTL)
	}

	metrics := metricsadapter.NewPrometheus()
	sender, err := emailadapter.NewClient(emailadapter.Config{
		BaseURL:   cfg.EmailBaseURL,
		Sender:    cfg.EmailSender,
		AuthToken: cfg.EmailAuthToken,
		Timeout:   cfg.EmailTimeout,
		Metrics:   metrics,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init email client: %w", err)
	}

	tokens, err := newTokenVerifier(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	identity := security.NewResolver(tokens, security.NewBasicVerifier(repos.Users))

	svc := application.NewService(application.Dependencies{
		Idempotency:         idempotency,
		Catalog:             repos.Subscribers,
		Sender:              sender,
		Outbox:              repos.Outbox,
		Metrics:             metrics,
		Logger:              logger,
		DispatchConcurrency: cfg.DispatchConcurrency,
	})

	ready := func(ctx context.Context) error {
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
	handler := httpadapter.NewHandler(svc, identity, ready, metrics.Handler())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	publisher, err := newEventPublisher(cfg, logger)
	if err != nil {
		_ = lis.Close()
		cleanup()
		return nil, err
	}
	if closer, ok := publisher.(interface{ Close() error }); ok {
		closers = append(closers, closer.Close)
	}
	outbox := eventadapter.NewOutboxWorker(logger, repos.Outbox, publisher, eventadapter.WorkerConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcHealth: healthSrv,
		grpcLis:    lis,
		outbox:     outbox,
		cleanupFn: func(context.Context) {
			cleanup()
		},
	}, nil
}

// newTokenVerifier loads the configured RS256 public key, falling back to an
// ephemeral key pair when allowed. Bearer tokens minted elsewhere will not
// verify against an ephemeral key.
func newTokenVerifier(cfg Config, logger *slog.Logger) (*security.JWTSigner, error) {
	if cfg.JWTPublicKeyPEM != "" {
		tokens, err := security.NewJWTVerifier(cfg.JWTPublicKeyPEM)
		if err == nil {
			return tokens, nil
		}
		if !cfg.AllowEphemeralJWT {
			return nil, fmt.Errorf("init jwt verifier: %w", err)
		}
		logger.Warn("invalid JWT public key; falling back to ephemeral keys", "error", err)
	}
	logger.Warn("using ephemeral JWT keys for local/dev runtime")
	tokens, err := security.NewEphemeralJWTSigner(cfg.JWTKeyID)
	if err != nil {
		return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
	}
	return tokens, nil
}

func newEventPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return eventadapter.NewLoggingPublisher(logger), nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, eventadapter.DefaultTopics)
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	r.grpcHealth.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// In-flight publishes finish their fan-out before the stores close.
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = r.grpcLis.Close()
	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
