package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	_ "github.com/deployops/approval-gate/api/swagger"
	"github.com/deployops/approval-gate/internal/ci"
	"github.com/deployops/approval-gate/internal/handler"
	"github.com/deployops/approval-gate/internal/notify"
	"github.com/deployops/approval-gate/internal/registry"
	"github.com/deployops/approval-gate/internal/repository"
	"github.com/deployops/approval-gate/internal/service"
	"github.com/deployops/approval-gate/pkg/cache"
	"github.com/deployops/approval-gate/pkg/config"
	"github.com/deployops/approval-gate/pkg/database"
	"github.com/deployops/approval-gate/pkg/jobs"
	"github.com/deployops/approval-gate/pkg/logger"
	corsmiddleware "github.com/deployops/approval-gate/pkg/middleware/cors"
	reqidmiddleware "github.com/deployops/approval-gate/pkg/middleware/requestid"
)

// @title Approval Gate API
// @version 1.0.0
// @description Deploy approval gating service: pipelines block on a wait call until a human approves, rejects, or the request times out.
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	sugar := logr.Sugar()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		sugar.Fatalw("redis connection failed", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	store := repository.NewApprovalRepository(db)
	decisionCache := repository.NewDecisionCache(redisClient, cfg.Approval.DecisionCacheTTL, logr)
	reg := registry.New(logr)
	metrics := service.NewMetricsService()
	links := service.NewLinkService(cfg.Links, cfg.BaseURL)

	perms, err := service.NewPermissionService(cfg.Permissions.File, logr)
	if err != nil {
		sugar.Fatalw("permissions file unusable", "file", cfg.Permissions.File, "error", err)
	}

	jenkins := ci.NewJenkinsClient(cfg.Jenkins, logr)

	var notifier service.Notifier = service.NoopNotifier()
	var answerer *notify.TelegramNotifier
	var notifyQueue *jobs.Queue
	if cfg.Telegram.Enabled {
		telegram, err := notify.NewTelegramNotifier(cfg.Telegram, logr)
		if err != nil {
			sugar.Fatalw("telegram client failed", "error", err)
		}
		notifyQueue = jobs.NewQueue("notify", jobs.QueueConfig{
			Workers:    cfg.Notify.Workers,
			MaxRetries: cfg.Notify.MaxRetries,
			RetryDelay: cfg.Notify.RetryDelay,
			Logger:     logr,
			OnDrop: func(jobs.Task, error) {
				metrics.NotifyFailed()
			},
		})
		notifyQueue.Start(ctx)
		notifier = notify.NewDispatcher(notifyQueue, telegram, logr)
		answerer = telegram
	} else {
		sugar.Infow("telegram notifications disabled")
	}

	guard := service.NewTransitionGuard(reg, store, decisionCache, cfg.Approval, logr)
	guard.SetMetrics(metrics)

	reminders := service.NewReminderScheduler(reg, store, notifier, links, perms, cfg.Approval, logr)
	reminders.SetMetrics(metrics)
	enforcer := service.NewTimeoutEnforcer(guard, jenkins, notifier, logr)
	guard.AddCanceler(reminders)
	guard.AddCanceler(enforcer)

	wait := service.NewWaitCoordinator(reg, store, guard, cfg.Approval, logr)

	reaper := service.NewReaper(reg, store, decisionCache, cfg.Approval, logr)
	go reaper.Run(ctx)

	approvals := service.NewApprovalService(service.ApprovalServiceDeps{
		Registry:  reg,
		Store:     store,
		Cache:     decisionCache,
		Guard:     guard,
		Wait:      wait,
		Reminders: reminders,
		Enforcer:  enforcer,
		Notifier:  notifier,
		Build:     jenkins,
		Perms:     perms,
		Links:     links,
		Metrics:   metrics,
		Config:    cfg.Approval,
		Logger:    logr,
		RunCtx:    ctx,
	})
	export := service.NewExportService(store, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	var telegramHandler *handler.TelegramHandler
	if cfg.Telegram.Enabled {
		telegramHandler = handler.NewTelegramHandler(approvals, answerer, logr)
	}

	handler.RegisterRoutes(r, handler.RouterDeps{
		Approvals:         handler.NewApprovalHandler(approvals, export),
		DecisionPage:      handler.NewDecisionPageHandler(approvals, logr),
		Telegram:          telegramHandler,
		Builds:            handler.NewBuildHandler(approvals),
		Health:            handler.NewHealthHandler(db, redisClient),
		Metrics:           metrics,
		PipelineTokenHash: cfg.Pipeline.TokenHash,
		EnableDocs:        cfg.Env != config.EnvProduction,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("server shutdown", "error", err)
	}

	reminders.StopAll()
	enforcer.StopAll()
	if notifyQueue != nil {
		notifyQueue.Stop()
	}
	sugar.Infow("stopped")
}
