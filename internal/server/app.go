// Package server wires the idkeeper server together: storage, archive,
// rate limiting, services, the gRPC endpoint and background jobs.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/cryptox"
	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/audit"
	"github.com/dmitrijs2005/idkeeper/internal/server/auth"
	"github.com/dmitrijs2005/idkeeper/internal/server/config"
	"github.com/dmitrijs2005/idkeeper/internal/server/jobs"
	"github.com/dmitrijs2005/idkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/idkeeper/internal/server/mfa"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/password"
	"github.com/dmitrijs2005/idkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/archive"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/idkeeper/internal/server/services"
	"github.com/dmitrijs2005/idkeeper/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	gs "github.com/dmitrijs2005/idkeeper/internal/server/grpc"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	telemetry *telemetry.Provider
	grpc      *gs.GRPCServer
	metrics   *metrics.Metrics
	data      *services.DataProtectionService
	privacy   *services.PrivacyControls
	closers   []func() error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, syncLog, err := newLogger(c)
	if err != nil {
		return nil, err
	}
	app := &App{config: c, logger: logger}
	app.closers = append(app.closers, syncLog)

	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	app.telemetry, err = telemetry.Setup(ctx, telemetry.Options{Endpoint: c.OTLPEndpoint, ServiceName: c.ServiceName})
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}
	tracer := app.telemetry.Tracer("idkeeper/server")

	db, rm, err := app.initStorage(ctx)
	if err != nil {
		return nil, err
	}

	limiter, err := app.initLimiter(ctx)
	if err != nil {
		return nil, err
	}

	sealer, err := cryptox.NewSealer(cryptox.DeriveKey([]byte(c.EncryptionKey), []byte(c.EncryptionSalt)))
	if err != nil {
		return nil, fmt.Errorf("sealer init error: %w", err)
	}

	tokens, err := auth.NewTokenService(auth.Options{
		Secret:     []byte(c.SecretKey),
		AccessTTL:  c.AccessTokenValidityDuration,
		RefreshTTL: c.RefreshTokenValidityDuration,
		Issuer:     c.TokenIssuer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("token service init error: %w", err)
	}

	popts := password.DefaultOptions()
	popts.BcryptCost = c.BcryptCost
	app.metrics = metrics.New()
	auditLog := audit.NewLog(rm.AuditLogs(db), logger, audit.WithFailureCounter(app.metrics.AuditWriteFailures))

	authSvc := services.NewAuthService(db, rm, services.AuthDeps{
		Policy: password.NewPolicy(popts),
		MFA:    mfa.NewManager(mfa.Options{Issuer: c.MFAIssuer, Skew: c.MFASkew}),
		Tokens: tokens,
		Audit:  auditLog,
		Sealer: sealer,
		Logger: logger,
		Tracer: tracer,
	}, services.AuthOptions{
		LockoutThreshold: c.LockoutThreshold,
		MaxUpdateRetries: c.MaxUpdateRetries,
		DefaultRoles:     []string{models.RoleUser},
	})

	app.data = services.NewDataProtectionService(db, rm, services.DataProtectionDeps{
		Audit:  auditLog,
		Sealer: sealer,
		Logger: logger,
		Tracer: tracer,
	}, services.DataProtectionOptions{
		PolicyVersion: c.PolicyVersion,
		PseudonymKey:  []byte(c.PseudonymKey),
	})
	app.privacy = services.NewPrivacyControls(app.data, authSvc, auditLog, logger, c.JobTimeout,
		services.WithJobTTL(c.JobTTL),
		services.WithJobCounter(app.metrics.PrivacyJobs),
	)

	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, logger, gs.Deps{
		Auth:    authSvc,
		Privacy: app.privacy,
		Data:    app.data,
		Tokens:  tokens,
		Limiter: limiter,
	})

	ok = true
	return app, nil
}

func newLogger(c *config.Config) (logging.Logger, func() error, error) {
	switch c.Logger {
	case config.LoggerZap:
		level, err := zapcore.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		l, err := zc.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("zap init: %w", err)
		}
		zl := logging.NewZapLogger(l)
		return zl, func() error { _ = zl.Sync(); return nil }, nil
	default:
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		return logging.NewJSONSlogLogger(os.Stdout, level), func() error { return nil }, nil
	}
}

// initStorage opens the credential store and picks the archive sink.
func (app *App) initStorage(ctx context.Context) (*sql.DB, repomanager.RepositoryManager, error) {
	c := app.config

	var archiveStore archive.Store
	if c.ArchiveBackend == config.ArchiveS3 {
		client, err := archive.NewS3Client(ctx, archive.S3Options{
			Region:       c.S3Region,
			Endpoint:     c.S3BaseEndpoint,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
			UsePathStyle: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("s3 init error: %w", err)
		}
		archiveStore = archive.NewS3Store(client, c.S3Bucket)
	}

	if c.StorageDriver == config.StorageMemory {
		app.logger.Warn(ctx, "using in-memory storage; data is lost on restart")
		m := repomanager.NewMemoryRepositoryManager()
		if archiveStore != nil {
			m.ArchiveStore = archiveStore
		}
		return nil, m, nil
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, db.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}

	var opts []repomanager.Option
	if archiveStore != nil {
		opts = append(opts, repomanager.WithArchiveStore(archiveStore))
	}
	rm := repomanager.NewPostgresRepositoryManager(opts...)
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("migrations error: %w", err)
	}
	return db, rm, nil
}

func (app *App) initLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	c := app.config
	if c.RateLimitBackend != config.LimiterRedis {
		return ratelimit.NewMemoryLimiter(c.RateLimitRequests, c.RateLimitWindow), nil
	}

	client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
	app.closers = append(app.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return ratelimit.NewRedisLimiter(client, c.RateLimitRequests, c.RateLimitWindow), nil
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// drains background jobs and releases resources.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	var (
		wg      sync.WaitGroup
		runErr  error
		errOnce sync.Once
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.grpc.Run(ctx); err != nil {
			app.logger.Error(ctx, "grpc server failed", "error", err)
			errOnce.Do(func() { runErr = err })
			cancel()
		}
	}()

	if app.config.MetricsAddr != "" {
		ms := metrics.NewServer(app.config.MetricsAddr, app.metrics, app.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ms.Run(ctx); err != nil {
				app.logger.Error(ctx, "metrics server failed", "error", err)
				errOnce.Do(func() { runErr = err })
				cancel()
			}
		}()
	}

	retention := jobs.StartRetentionJob(ctx, jobs.RetentionOptions{
		Enabled:  app.config.RetentionEnabled,
		Interval: app.config.RetentionInterval,
		Timeout:  app.config.RetentionTimeout,
	}, app.data, app.logger)

	<-ctx.Done()
	wg.Wait()
	<-retention

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := app.privacy.Wait(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "privacy jobs still running at shutdown", "error", err)
	}
	if err := app.telemetry.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "telemetry shutdown", "error", err)
	}
	app.logger.Info(shutdownCtx, "Stopped")
	return errors.Join(runErr, app.close())
}

func (app *App) close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
