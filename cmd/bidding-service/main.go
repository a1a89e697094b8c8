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

	"auction-core/internal/api/handlers"
	"auction-core/internal/api/middleware"
	"auction-core/internal/bootstrap"
	"auction-core/internal/config"
	"auction-core/internal/infrastructure/redis"
	"auction-core/internal/infrastructure/websocket"
	"auction-core/internal/metrics"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

const serviceName = "bidding-service"

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	infra, err := bootstrap.New(ctx, serviceName, cfg, log)
	cancel()
	if err != nil {
		log.Error("Failed to initialize infrastructure", "error", err)
		os.Exit(1)
	}
	defer infra.Close()

	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)

	broadcaster, err := infra.Broadcaster(notifier)
	if err != nil {
		log.Error("Failed to initialize event sinks", "error", err)
		os.Exit(1)
	}

	auctionManager := services.NewAuctionManager(infra.Ledger, infra.Locker, broadcaster, log)
	bidService := services.NewBidService(infra.Ledger, infra.Locker, broadcaster, infra.BidServiceConfig(), log)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go broadcaster.Run(runCtx)

	// Every instance relays the shared channel to its own WebSocket clients,
	// so a bid accepted on one node reaches watchers connected to another.
	if infra.Redis != nil {
		subscriber := redis.NewRedisEventSubscriber(infra.Redis, cfg.Events.RedisChannel, log)
		eventListener := services.NewEventListener(connManager, notifier, log)
		go func() {
			if err := eventListener.Start(runCtx, subscriber); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Event listener stopped", "error", err)
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(middleware.CORS)
	router.Use(middleware.Metrics)

	handlers.NewBidHandler(bidService, auctionManager, log).Register(router)
	handlers.NewWebSocketHandlers(bidService, auctionManager, connManager, log).Register(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting bidding service", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	stopRun()
	select {
	case <-broadcaster.Done():
	case <-shutdownCtx.Done():
		log.Warn("Event broadcaster did not drain before shutdown deadline")
	}

	log.Info("Bidding service stopped")
}
