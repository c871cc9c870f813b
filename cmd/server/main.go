// Command cafe-server serves the back-office login and password recovery API.
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

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/cafe-backoffice/internal/config"
	"github.com/and161185/cafe-backoffice/internal/health"
	"github.com/and161185/cafe-backoffice/internal/mailer"
	"github.com/and161185/cafe-backoffice/internal/migrate"
	"github.com/and161185/cafe-backoffice/internal/repository/postgres"
	grpcserver "github.com/and161185/cafe-backoffice/internal/server/grpc"
	httpserver "github.com/and161185/cafe-backoffice/internal/server/http"
	"github.com/and161185/cafe-backoffice/internal/service"
	"github.com/and161185/cafe-backoffice/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations and serves HTTP plus the ops gRPC port.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("mail", cfg.Mail.Mode),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DB.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	sessions := session.NewRedisStore(rdb, "sess", cfg.Session.TTL)

	dispatcher, closeMail, err := buildMailer(cfg, logger)
	if err != nil {
		logger.Fatal("mailer", zap.Error(err))
	}
	defer closeMail()

	// Services
	accounts := postgres.NewAccountRepo(db)
	tokens := service.NewTokenIssuer([]byte(cfg.JWT.Key), cfg.JWT.TTL)
	authSvc := service.NewAuthService(accounts, tokens, logger)
	resetSvc := service.NewResetService(accounts, dispatcher, service.ResetConfig{
		MaxMismatches: cfg.OTP.MaxMismatches,
		MaskNotFound:  cfg.Reset.MaskNotFound,
	}, logger)

	checks := health.Checks{"postgres": db, "redis": sessions}

	api := httpserver.New(authSvc, resetSvc, accounts, sessions, tokens, checks, httpserver.Options{
		CookieName:   cfg.Session.CookieName,
		SecureCookie: cfg.Session.SecureCookie,
		SessionTTL:   cfg.Session.TTL,
	}, logger)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ops := grpcserver.NewOps(checks, logger, cfg.Dev)
	go ops.Watch(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ops grpc listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- ops.Server().Serve(lis)
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		done := make(chan struct{})
		go func() {
			ops.Server().GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutCtx.Done():
			ops.Server().Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// buildMailer selects the code transport. In queue mode the worker delivering
// queued codes runs in-process over SMTP.
func buildMailer(cfg *config.Config, log *zap.Logger) (mailer.Dispatcher, func(), error) {
	smtpCfg := mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.Mail.From,
	}

	switch cfg.Mail.Mode {
	case config.MailSMTP:
		d, err := mailer.NewSMTPDispatcher(smtpCfg)
		return d, func() {}, err
	case config.MailQueue:
		smtp, err := mailer.NewSMTPDispatcher(smtpCfg)
		if err != nil {
			return nil, nil, err
		}
		opt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		q := mailer.NewQueueDispatcher(opt, log)
		w := mailer.NewWorker(opt, smtp, log)
		if err := w.Run(); err != nil {
			_ = q.Close()
			return nil, nil, err
		}
		return q, func() {
			w.Shutdown()
			_ = q.Close()
		}, nil
	default:
		return mailer.NewLogDispatcher(log), func() {}, nil
	}
}
