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

	"github.com/gorilla/mux"

	apimiddleware "auction-core/internal/api/middleware"
	"auction-core/internal/bootstrap"
	"auction-core/internal/config"
	"auction-core/internal/metrics"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

const serviceName = "reconciler-service"

// ReconcilerService drains gateway confirmations into the escrow coordinator.
type ReconcilerService struct {
	infra  *bootstrap.Infrastructure
	worker *services.ConfirmationWorker
	log    logger.Logger
}

func NewReconcilerService(infra *bootstrap.Infrastructure, worker *services.ConfirmationWorker, log logger.Logger) *ReconcilerService {
	return &ReconcilerService{
		infra:  infra,
		worker: worker,
		log:    log,
	}
}

func (rs *ReconcilerService) Start(ctx context.Context) error {
	rs.log.Info("Starting reconciler service")

	if err := rs.infra.RecoverConfirmations(ctx); err != nil {
		return err
	}
	return rs.worker.Run(ctx)
}

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)
	defer log.Sync()

	if cfg.Storage.Driver == "memory" {
		log.Error("reconciler-service needs a shared ledger; use confirmations.embedded_worker with the memory driver")
		os.Exit(1)
	}

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

	escrow := services.NewEscrowCoordinator(
		infra.Ledger,
		infra.Gateway(),
		infra.PaymentMethods(),
		broadcaster,
		infra.EscrowConfig(),
		log,
	)
	worker := services.NewConfirmationWorker(infra.ConfirmationQueue(), escrow, infra.ConfirmationWorkerConfig(), log)
	reconciler := NewReconcilerService(infra, worker, log)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go broadcaster.Run(runCtx)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := reconciler.Start(runCtx); err != nil {
			log.Error("Reconciler service failed", "error", err)
			os.Exit(1)
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.Use(apimiddleware.CORSWithLogging(log))
	router.Use(apimiddleware.Metrics)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down reconciler service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopRun()
	<-workerDone
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	select {
	case <-broadcaster.Done():
	case <-shutdownCtx.Done():
	}

	log.Info("Reconciler service stopped")
}
