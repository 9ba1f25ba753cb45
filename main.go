package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/recircle/config"
	"github.com/example/recircle/internal/conveyor"
	"github.com/example/recircle/internal/handlers"
	"github.com/example/recircle/internal/logging"
	"github.com/example/recircle/internal/product"
	"github.com/example/recircle/internal/repository"
	"github.com/example/recircle/internal/usecase"
	"github.com/example/recircle/internal/vision"
	"github.com/example/recircle/internal/voucher"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db := initDatabase(ctx, cfg, logger)
	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)
	cache := usecase.NewRedisCache(redisClient)

	lookup := product.NewClient(cfg.ProductDB.BaseURL, cfg.ProductDB.Timeout, cfg.ProductDB.RequestsPerSec, logger)

	detector := initDetector(ctx, cfg, logger)
	images := vision.NewImageFetcher(cfg.ProductDB.Timeout)

	signaler := conveyor.NewClient(cfg.Conveyor.URL, cfg.Conveyor.Timeout, logger)

	uc := usecase.NewVerificationUseCase(
		lookup, detector, images, repo, cache, signaler,
		cfg.Rewards.PointsPerBottle, cfg.Rewards.ScanCooldown, logger)
	vouchers := voucher.New(repo, cfg.Auth.VoucherJWTSecret, cfg.Rewards.CashPerPoint, logger)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = 8 << 20

	handlers.RegisterRoutes(r, handlers.New(uc, vouchers, logger), cfg)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("recircle API listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// initDetector connects the image analysis stage. With vision disabled the
// detector is nil-safe: text-inconclusive scans then fail closed to rejection.
func initDetector(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) vision.Detector {
	if !cfg.Vision.Enabled {
		zapLogger.Warn("image analysis disabled, inconclusive scans will be rejected")
		return vision.Disabled{}
	}
	detector, err := vision.NewGoogleDetector(ctx, cfg.Vision.CredentialsFile, cfg.Vision.ConfidenceThreshold, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize image analysis", zap.Error(err))
	}
	return detector
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
