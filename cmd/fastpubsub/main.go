// Command fastpubsub runs the broker API server and its maintenance commands.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/fastpubsub/fastpubsub/internal/api"
	"github.com/fastpubsub/fastpubsub/internal/auth"
	"github.com/fastpubsub/fastpubsub/internal/broker"
	"github.com/fastpubsub/fastpubsub/internal/buildinfo"
	"github.com/fastpubsub/fastpubsub/internal/config"
	"github.com/fastpubsub/fastpubsub/internal/logging"
	"github.com/fastpubsub/fastpubsub/internal/metrics"
	"github.com/fastpubsub/fastpubsub/internal/store"
)

const usage = `usage: fastpubsub <command> [args]

commands:
  server                                 run the API server
  db-migrate                             apply database migrations
  cleanup_acked_messages                 delete expired acked messages once
  cleanup_stuck_messages                 release expired delivery leases once
  generate_secret_key                    print a random signing key
  create_client <name> [scopes] [active] create an API client
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer()
	case "db-migrate":
		err = runMigrate()
	case "cleanup_acked_messages":
		err = runCleanupAcked()
	case "cleanup_stuck_messages":
		err = runCleanupStuck()
	case "generate_secret_key":
		err = runGenerateSecretKey()
	case "create_client":
		err = runCreateClient(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads config, logging, and the database pool shared by every
// command that touches the broker.
func bootstrap(ctx context.Context) (*config.EnvConfig, *zap.Logger, *store.Store, error) {
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	level := cfg.LogLevel
	if cfg.APIDebug {
		level = config.LogLevelDebug
	}
	logger, err := logging.New(level, cfg.LogFormatter)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, st, nil
}

func newBroker(cfg *config.EnvConfig, st *store.Store, logger *zap.Logger) *broker.Broker {
	return broker.New(st, logger, broker.SubscriptionDefaults{
		MaxDeliveryAttempts: cfg.SubscriptionMaxAttempts,
		BackoffMinSeconds:   cfg.SubscriptionBackoffMinSeconds,
		BackoffMaxSeconds:   cfg.SubscriptionBackoffMaxSeconds,
	})
}

func newAuthService(cfg *config.EnvConfig, st *store.Store, logger *zap.Logger) (*auth.Service, error) {
	codec, err := auth.NewTokenCodec(
		cfg.AuthSecretKey,
		cfg.AuthAlgorithm,
		time.Duration(cfg.AuthAccessTokenExpireMinutes)*time.Minute,
	)
	if err != nil {
		return nil, err
	}
	return auth.NewService(st, codec, logger), nil
}

func runServer() error {
	ctx := context.Background()
	cfg, logger, st, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer func() { _ = logger.Sync() }()

	if cfg.APINumWorkers > 0 {
		runtime.GOMAXPROCS(cfg.APINumWorkers)
	}

	engine := newBroker(cfg, st, logger)
	m := metrics.New()

	deps := api.Deps{
		Topics:        engine,
		Subscriptions: engine,
		Health:        engine,
		Metrics:       m,
		AuthEnabled:   cfg.AuthEnabled,
	}
	if cfg.AuthEnabled {
		authSvc, err := newAuthService(cfg, st, logger)
		if err != nil {
			return err
		}
		deps.Clients = authSvc
		deps.Tokens = authSvc
	}

	srv := api.NewServer(cfg.APIHost, cfg.APIPort, deps)

	// In-process sweeps run only when a schedule is configured; deployments
	// can instead invoke the cleanup commands externally.
	var sched *cron.Cron
	if cfg.CleanupSchedule != "" {
		sched = cron.New()
		_, err := sched.AddFunc(cfg.CleanupSchedule, func() {
			sweepOnce(context.Background(), cfg, engine, m, logger)
		})
		if err != nil {
			return fmt.Errorf("cleanup schedule: %w", err)
		}
		sched.Start()
		logger.Info("cleanup scheduler started", zap.String("schedule", cfg.CleanupSchedule))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API server starting",
			zap.String("host", cfg.APIHost),
			zap.Int("port", cfg.APIPort),
			zap.Bool("auth_enabled", cfg.AuthEnabled),
			zap.String("version", buildinfo.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	return awaitShutdown(quit, serverErr, sched, srv, logger)
}

// awaitShutdown blocks until a signal or server error arrives, then stops the
// scheduler (waiting out any sweep in flight) and drains the HTTP server. A
// server error runs the same shutdown sequence before being returned.
func awaitShutdown(quit <-chan os.Signal, serverErr <-chan error, sched *cron.Cron, srv *api.Server, logger *zap.Logger) error {
	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("API server failed", zap.Error(err))
		runErr = fmt.Errorf("API server: %w", err)
	}

	if sched != nil {
		<-sched.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return runErr
}

func sweepOnce(ctx context.Context, cfg *config.EnvConfig, engine *broker.Broker, m *metrics.Metrics, logger *zap.Logger) {
	lockTimeout := time.Duration(cfg.CleanupStuckMessagesLockTimeoutSeconds) * time.Second
	if released, err := engine.SweepStuck(ctx, lockTimeout); err != nil {
		logger.Error("stuck message sweep failed", zap.Error(err))
	} else {
		m.MessagesSwept.WithLabelValues("stuck").Add(float64(released))
	}

	olderThan := time.Duration(cfg.CleanupAckedMessagesOlderThanSeconds) * time.Second
	if deleted, err := engine.SweepAcked(ctx, olderThan); err != nil {
		logger.Error("acked message sweep failed", zap.Error(err))
	} else {
		m.MessagesSwept.WithLabelValues("acked").Add(float64(deleted))
	}
}

func runMigrate() error {
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func runCleanupAcked() error {
	ctx := context.Background()
	cfg, logger, st, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := newBroker(cfg, st, logger)
	olderThan := time.Duration(cfg.CleanupAckedMessagesOlderThanSeconds) * time.Second
	deleted, err := engine.SweepAcked(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d acked messages\n", deleted)
	return nil
}

func runCleanupStuck() error {
	ctx := context.Background()
	cfg, logger, st, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := newBroker(cfg, st, logger)
	lockTimeout := time.Duration(cfg.CleanupStuckMessagesLockTimeoutSeconds) * time.Second
	released, err := engine.SweepStuck(ctx, lockTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("released %d stuck messages\n", released)
	return nil
}

func runGenerateSecretKey() error {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate secret key: %w", err)
	}
	fmt.Println(base64.RawURLEncoding.EncodeToString(buf))
	return nil
}

func runCreateClient(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("create_client: name argument is required")
	}
	name := args[0]
	scopes := auth.ScopeAll
	if len(args) > 1 {
		scopes = args[1]
	}
	isActive := true
	if len(args) > 2 {
		v, err := strconv.ParseBool(args[2])
		if err != nil {
			return fmt.Errorf("create_client: active must be true or false, got %q", args[2])
		}
		isActive = v
	}

	ctx := context.Background()
	_, logger, st, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	// CreateClient never signs tokens, so the codec can be nil here.
	svc := auth.NewService(st, nil, logger)
	result, err := svc.CreateClient(ctx, name, scopes, isActive)
	if err != nil {
		return err
	}
	fmt.Printf("client_id:     %s\nclient_secret: %s\n", result.ID, result.Secret)
	return nil
}
