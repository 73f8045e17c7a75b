package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/account-service/internal/config"
	"github.com/iliyamo/account-service/internal/database"
	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/logging"
	"github.com/iliyamo/account-service/internal/metrics"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/notify"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/router"
	"github.com/iliyamo/account-service/internal/service"
	"github.com/iliyamo/account-service/internal/utils"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Error(ctx, "open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logger.Error(ctx, "migrate database", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	pub := queue.NewPublisher(cfg.Mail.AMQPURL, cfg.Mail.Queue)
	defer pub.Close()
	sender := notify.NewAsyncSender(pub, 256, logger.With("component", "notify"), m)

	if cfg.Mail.ConsumerEnabled {
		var mailer queue.Mailer = notify.LogMailer{Log: logger}
		if cfg.Mail.SMTPHost != "" {
			mailer = notify.NewSMTPMailer(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUser, cfg.Mail.SMTPPass, cfg.Mail.From)
		}
		consumer := &queue.Consumer{
			URL:    cfg.Mail.AMQPURL,
			Queue:  cfg.Mail.Queue,
			Mailer: mailer,
			Log:    logger.With("component", "email_consumer"),
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "email consumer stopped", "error", err)
			}
		}()
	}

	signer := utils.NewSigner()
	deps := service.Deps{
		Store:    repository.NewSQLStore(db),
		Hasher:   utils.NewBcryptHasher(cfg.BcryptCost),
		Signer:   signer,
		Notifier: sender,
		Config: service.AuthConfig{
			AccessSecret:  cfg.AccessSecret,
			RefreshSecret: cfg.RefreshSecret,
			AccessTTL:     cfg.AccessTTL,
			RefreshTTL:    cfg.RefreshTTL,
			OTPTTL:        cfg.OTPTTL,
			ResetTokenTTL: cfg.ResetTokenTTL,
		},
		Log:     logger.With("component", "service"),
		Metrics: m,
	}
	authSvc := service.NewAuthService(deps)
	userSvc := service.NewUserService(deps)

	if cfg.AdminEmail != "" {
		req := service.SeedAdminRequest{Email: cfg.AdminEmail, Password: cfg.AdminPassword, Name: cfg.AdminName}
		if _, err := userSvc.SeedAdmin(ctx, req); err != nil {
			logger.Error(ctx, "seed admin", "error", err)
		}
	}

	// The rate limiter degrades to a pass-through without redis.
	var scripter redis.Scripter
	if rdb := config.NewRedisClient(); rdb != nil {
		defer rdb.Close()
		scripter = rdb
	} else {
		logger.Warn(ctx, "redis unavailable, auth rate limiting disabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency_ms", v.Latency.Milliseconds(), "remote_ip", v.RemoteIP}
			if v.Error != nil {
				logger.Warn(c.Request().Context(), "request", append(args, "error", v.Error)...)
				return nil
			}
			logger.Info(c.Request().Context(), "request", args...)
			return nil
		},
	}))

	rd := router.Deps{
		Auth:         handler.NewAuthHandler(authSvc, userSvc, logger.With("component", "http")),
		Users:        handler.NewUserHandler(userSvc, logger.With("component", "http")),
		Verifier:     signer,
		AccessSecret: cfg.AccessSecret,
		DB:           db,
		Metrics:      m.Handler(),
		RateLimit:    middleware.NewTokenBucket(config.LoadRateLimitConfig(), scripter, logger.With("component", "ratelimit")),
	}
	router.RegisterRoutes(e, rd)
	router.RegisterAuth(e, rd)

	addr := ":" + cfg.Port
	go func() {
		logger.Info(ctx, "listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown", "error", err)
	}
	if err := sender.Close(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "notification buffer not drained", "error", err)
	}
	logger.Info(shutdownCtx, "stopped")
}
