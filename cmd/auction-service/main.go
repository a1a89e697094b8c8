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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"auction-core/internal/api/handlers"
	apimiddleware "auction-core/internal/api/middleware"
	"auction-core/internal/bootstrap"
	"auction-core/internal/config"
	"auction-core/internal/metrics"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

const serviceName = "auction-service"

func main() {
	log := logger.New()
	log.Info("Starting Auction Service")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)
	defer log.Sync()
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	infra, err := bootstrap.New(ctx, serviceName, cfg, log)
	cancel()
	if err != nil {
		log.Error("Failed to initialize infrastructure", "error", err)
		os.Exit(1)
	}
	defer infra.Close()

	broadcaster, err := infra.Broadcaster(nil)
	if err != nil {
		log.Error("Failed to initialize event sinks", "error", err)
		os.Exit(1)
	}

	gateway := infra.Gateway()
	escrow := services.NewEscrowCoordinator(
		infra.Ledger,
		gateway,
		infra.PaymentMethods(),
		broadcaster,
		infra.EscrowConfig(),
		log,
	)
	auctionManager := services.NewAuctionManager(infra.Ledger, infra.Locker, broadcaster, log)
	scheduler := services.NewCronAuctionScheduler(infra.Ledger, escrow, broadcaster, infra.SchedulerConfig(), log)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go broadcaster.Run(runCtx)

	if err := scheduler.Start(runCtx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if cfg.Storage.Driver == "memory" && !cfg.Confirmations.EmbeddedWorker {
		log.Error("memory storage keeps confirmations in-process; set confirmations.embedded_worker")
		os.Exit(1)
	}

	queue := infra.ConfirmationQueue()
	workerDone := make(chan struct{})
	if cfg.Confirmations.EmbeddedWorker {
		if err := infra.RecoverConfirmations(runCtx); err != nil {
			log.Error("Failed to recover in-flight confirmations", "error", err)
		}
		worker := services.NewConfirmationWorker(queue, escrow, infra.ConfirmationWorkerConfig(), log)
		go func() {
			defer close(workerDone)
			worker.Run(runCtx)
		}()
	} else {
		close(workerDone)
	}

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","method":"${method}","uri":"${uri}","status":${status},"error":"${error}","latency":${latency},"latency_human":"${latency_human}","bytes_in":${bytes_in},"bytes_out":${bytes_out}}` + "\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET, echo.HEAD, echo.PUT, echo.PATCH,
			echo.POST, echo.DELETE, echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			handlers.SignatureHeader,
		},
		MaxAge: 86400,
	}))
	e.Use(apimiddleware.EchoMetrics())

	api := e.Group("/api/v1")
	handlers.NewAuctionHandler(auctionManager, escrow, log).Register(api)
	handlers.NewConfirmationHandler(gateway, queue, log).Register(api)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   serviceName,
			"timestamp": time.Now().Format(time.RFC3339),
			"instance":  cfg.Instance.ID,
		})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting auction service server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}

	stopRun()
	<-workerDone
	select {
	case <-broadcaster.Done():
	case <-shutdownCtx.Done():
		log.Warn("Event broadcaster did not drain before shutdown deadline")
	}

	log.Info("Auction service stopped")
}
