package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voip-dashboard/internal/auth"
	"voip-dashboard/internal/calls"
	"voip-dashboard/internal/config"
	"voip-dashboard/internal/httpapi"
	"voip-dashboard/internal/notifications"
	"voip-dashboard/internal/numbers"
	"voip-dashboard/internal/realtime"
	"voip-dashboard/internal/reporting"
	"voip-dashboard/internal/telephony"
	"voip-dashboard/internal/voice"
	"voip-dashboard/pkg/database"
	"voip-dashboard/pkg/logger"
	"voip-dashboard/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogFile)
	zap.ReplaceGlobals(log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api exited", zap.Error(err))
		_ = logger.ShutdownFlush(context.Background(), log, 2*time.Second)
		os.Exit(1)
	}
}

func run(rootCtx context.Context, cfg config.Config, log *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(rootCtx, db, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis is optional; without it push stays in-process and webhooks are not de-duplicated.
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer rdb.Close()
	}

	hub := realtime.NewHub(log)
	var push realtime.Notifier = hub
	var fanout *realtime.RedisFanout
	if rdb != nil {
		fanout = realtime.NewRedisFanout(rdb, hub, log)
		push = fanout
	}

	callStore := calls.NewPostgresStore(db)
	numberRepo := numbers.NewPostgresRepo(db)
	noteSvc := notifications.NewService(notifications.NewPostgresRepo(db))
	gateway := telephony.NewTelnyxGateway(cfg.Telnyx, log)

	reconcilerOpts := []voice.ReconcilerOption{voice.WithNotifications(noteSvc)}
	if rdb != nil {
		reconcilerOpts = append(reconcilerOpts, voice.WithDeduper(voice.NewRedisDeduper(rdb, cfg.Webhook.DedupTTL)))
	}

	h := httpapi.Handlers{
		Auth: authManager,
		Voice: voice.NewService(voice.ServiceConfig{
			Gateway:      gateway,
			Store:        callStore,
			Numbers:      numberRepo,
			Notes:        noteSvc,
			ConnectionID: cfg.Telnyx.ConnectionID,
			Log:          log,
		}),
		Reconciler:    voice.NewReconciler(callStore, numbers.NewResolver(numberRepo), push, log, reconcilerOpts...),
		Numbers:       numbers.NewService(numberRepo, gateway, noteSvc, cfg.Telnyx.ConnectionID, log),
		Notifications: noteSvc,
		Reports:       reporting.NewService(callStore),
		Push:          push,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:      cfg,
		handlers: h,
		authMW:   auth.RequireAccessToken(authManager),
		ws:       realtime.ServeWs(hub, realtime.NewUpgrader(cfg.App.CORSAllowedOrigins), authManager.UserIDFromToken, log),
		ready: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("api listening", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return hub.Run(gCtx, cfg.Push.PingInterval)
	})

	if fanout != nil {
		g.Go(func() error {
			return fanout.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		hub.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	_ = logger.ShutdownFlush(context.Background(), log, 2*time.Second)
	return err
}
