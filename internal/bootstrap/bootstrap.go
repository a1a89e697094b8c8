// Package bootstrap turns a loaded config into the infrastructure handles the
// services need. Every handle it opens is released by Close.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"auction-core/internal/config"
	"auction-core/internal/domain"
	"auction-core/internal/infrastructure/gateway"
	"auction-core/internal/infrastructure/kafka"
	"auction-core/internal/infrastructure/lock"
	"auction-core/internal/infrastructure/memory"
	"auction-core/internal/infrastructure/mysql"
	redisinfra "auction-core/internal/infrastructure/redis"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
	"auction-core/pkg/tracing"
	"auction-core/pkg/utils"
)

const (
	SinkRedis     = "redis"
	SinkKafka     = "kafka"
	SinkWebSocket = "websocket"
)

type Infrastructure struct {
	Config *config.Config
	Log    logger.Logger

	Ledger domain.Ledger
	Locker domain.AuctionLocker
	Redis  *redis.Client

	queue   domain.ConfirmationQueue
	closers []func()
}

// New connects to everything cfg asks for. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, serviceName string, cfg *config.Config, log logger.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{Config: cfg, Log: log}

	if err := infra.init(ctx, serviceName); err != nil {
		infra.Close()
		return nil, err
	}
	return infra, nil
}

func (i *Infrastructure) init(ctx context.Context, serviceName string) error {
	cfg := i.Config

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracing(serviceName, cfg.Tracing.Endpoint)
		if err != nil {
			return err
		}
		i.closers = append(i.closers, shutdown)
		i.Log.Info("Tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	if i.needsRedis() {
		client, err := redisinfra.NewClient(ctx, redisinfra.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		i.Redis = client
		i.closers = append(i.closers, func() { client.Close() })
		i.Log.Info("Connected to Redis", "address", cfg.Redis.Address)
	}

	switch cfg.Storage.Driver {
	case "memory":
		i.Ledger = memory.NewLedger()
		i.Log.Warn("Using in-memory ledger; state is lost on restart")
	default:
		db, err := utils.InitializeMysql(ctx, utils.MySQLOptions{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		i.closers = append(i.closers, func() { db.Close() })
		if cfg.MySQL.Migrate {
			if err := mysql.Migrate(ctx, db); err != nil {
				return err
			}
			i.Log.Info("MySQL schema migrated")
		}
		i.Ledger = mysql.NewLedger(db)
	}

	switch cfg.Bidding.LockBackend {
	case "local":
		i.Locker = lock.NewLocalLocker()
	default:
		i.Locker = lock.NewRedisLocker(i.Redis, cfg.Bidding.LockTTL, i.Log)
	}
	return nil
}

func (i *Infrastructure) needsRedis() bool {
	cfg := i.Config
	if cfg.Storage.Driver != "memory" || cfg.Bidding.LockBackend == "redis" {
		return true
	}
	for _, s := range cfg.Events.Sinks {
		if s == SinkRedis {
			return true
		}
	}
	return false
}

// Sinks builds the broadcaster's outbound channels from events.sinks. ws may be
// nil for services without WebSocket clients; the websocket sink is then skipped.
func (i *Infrastructure) Sinks(ws domain.EventPublisher) ([]services.Sink, error) {
	var sinks []services.Sink
	for _, name := range i.Config.Events.Sinks {
		switch name {
		case SinkRedis:
			sinks = append(sinks, services.Sink{
				Name:      SinkRedis,
				Publisher: redisinfra.NewEventPublisher(i.Redis, i.Config.Events.RedisChannel),
			})
		case SinkKafka:
			producer, err := kafka.InitProducer(i.Config.Kafka.Brokers, i.Log)
			if err != nil {
				return nil, err
			}
			publisher := kafka.NewEventPublisher(producer, i.Config.Events.KafkaTopic, i.Log)
			i.closers = append(i.closers, func() { publisher.Close() })
			sinks = append(sinks, services.Sink{Name: SinkKafka, Publisher: publisher})
		case SinkWebSocket:
			if ws == nil {
				i.Log.Warn("Ignoring websocket sink in a service without websocket clients")
				continue
			}
			sinks = append(sinks, services.Sink{Name: SinkWebSocket, Publisher: ws})
		default:
			return nil, fmt.Errorf("unknown event sink %q", name)
		}
	}
	return sinks, nil
}

// Broadcaster wraps the configured sinks; the caller runs it.
func (i *Infrastructure) Broadcaster(ws domain.EventPublisher) (*services.Broadcaster, error) {
	sinks, err := i.Sinks(ws)
	if err != nil {
		return nil, err
	}
	return services.NewBroadcaster(i.Config.Events.BufferSize, i.Log, sinks...), nil
}

// ConfirmationQueue is Redis-backed unless Redis is not configured at all.
// Repeated calls return the same queue.
func (i *Infrastructure) ConfirmationQueue() domain.ConfirmationQueue {
	if i.queue != nil {
		return i.queue
	}
	if i.Redis == nil {
		i.queue = memory.NewConfirmationQueue()
	} else {
		i.queue = redisinfra.NewConfirmationQueue(i.Redis, i.Config.Confirmations.QueueKey)
	}
	return i.queue
}

func (i *Infrastructure) PaymentMethods() domain.PaymentMethodStore {
	if i.Redis == nil {
		return memory.NewPaymentMethodStore()
	}
	return redisinfra.NewPaymentMethodStore(i.Redis)
}

func (i *Infrastructure) Gateway() *gateway.HTTPGateway {
	return gateway.NewHTTPGateway(gateway.Options{
		BaseURL:       i.Config.Gateway.BaseURL,
		APIKey:        i.Config.Gateway.APIKey,
		WebhookSecret: i.Config.Gateway.WebhookSecret,
		Timeout:       i.Config.Gateway.Timeout,
	})
}

func (i *Infrastructure) EscrowConfig() services.EscrowConfig {
	e := i.Config.Escrow
	return services.EscrowConfig{
		Retry: services.RetryPolicy{
			MaxAttempts: e.MaxAttempts,
			BaseDelay:   e.BaseDelay,
			MaxDelay:    e.MaxDelay,
		},
		AuthorizationTimeout: e.AuthorizationTimeout,
		Currency:             e.Currency,
		ConflictRetries:      i.Config.Bidding.ConflictRetries,
	}
}

func (i *Infrastructure) BidServiceConfig() services.BidServiceConfig {
	return services.BidServiceConfig{
		ConflictRetries: i.Config.Bidding.ConflictRetries,
		ExtensionWindow: i.Config.Bidding.ExtensionWindow,
	}
}

func (i *Infrastructure) SchedulerConfig() services.SchedulerConfig {
	return services.SchedulerConfig{
		ScanInterval: i.Config.Scheduler.ScanInterval,
		BatchSize:    i.Config.Scheduler.BatchSize,
	}
}

func (i *Infrastructure) ConfirmationWorkerConfig() services.ConfirmationWorkerConfig {
	return services.ConfirmationWorkerConfig{
		MaxAttempts: i.Config.Confirmations.MaxAttempts,
		PollTimeout: i.Config.Confirmations.PollTimeout,
		Backoff: services.RetryPolicy{
			MaxAttempts: i.Config.Confirmations.MaxAttempts,
			BaseDelay:   i.Config.Escrow.BaseDelay,
			MaxDelay:    i.Config.Escrow.MaxDelay,
		},
	}
}

// Close releases handles in reverse order of opening.
func (i *Infrastructure) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
	i.closers = nil
}

type inFlightRecoverer interface {
	RecoverInFlight(ctx context.Context) (int, error)
}

// RecoverConfirmations puts confirmations a crashed worker left in flight back
// on the queue. Queues without an in-flight list are left alone.
func (i *Infrastructure) RecoverConfirmations(ctx context.Context) error {
	r, ok := i.ConfirmationQueue().(inFlightRecoverer)
	if !ok {
		return nil
	}
	moved, err := r.RecoverInFlight(ctx)
	if err != nil {
		return err
	}
	if moved > 0 {
		i.Log.Warn("Recovered in-flight payment confirmations", "count", moved)
	}
	return nil
}
