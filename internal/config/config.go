package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Instance      InstanceConfig      `mapstructure:"instance"`
	Log           LogConfig           `mapstructure:"log"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Bidding       BiddingConfig       `mapstructure:"bidding"`
	Escrow        EscrowConfig        `mapstructure:"escrow"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Events        EventsConfig        `mapstructure:"events"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Confirmations ConfirmationsConfig `mapstructure:"confirmations"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig selects the ledger backend: "mysql" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SchedulerConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type BiddingConfig struct {
	ConflictRetries int           `mapstructure:"conflict_retries"`
	ExtensionWindow time.Duration `mapstructure:"extension_window"`
	LockBackend     string        `mapstructure:"lock_backend"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

type EscrowConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts"`
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	AuthorizationTimeout time.Duration `mapstructure:"authorization_timeout"`
	Currency             string        `mapstructure:"currency"`
}

type GatewayConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type EventsConfig struct {
	Sinks        []string `mapstructure:"sinks"`
	BufferSize   int      `mapstructure:"buffer_size"`
	RedisChannel string   `mapstructure:"redis_channel"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type ConfirmationsConfig struct {
	QueueKey    string        `mapstructure:"queue_key"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	// EmbeddedWorker runs reconciliation inside auction-service instead of
	// reconciler-service. Required with the memory storage driver.
	EmbeddedWorker bool `mapstructure:"embedded_worker"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.migrate", false)
	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("instance.id", "auction-service-1")
	v.SetDefault("log.level", "info")

	v.SetDefault("scheduler.scan_interval", 5*time.Second)
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("bidding.conflict_retries", 3)
	v.SetDefault("bidding.extension_window", time.Duration(0))
	v.SetDefault("bidding.lock_backend", "redis")
	v.SetDefault("bidding.lock_ttl", 5*time.Second)

	v.SetDefault("escrow.max_attempts", 5)
	v.SetDefault("escrow.base_delay", 500*time.Millisecond)
	v.SetDefault("escrow.max_delay", 10*time.Second)
	v.SetDefault("escrow.authorization_timeout", 10*time.Second)
	v.SetDefault("escrow.currency", "USD")

	v.SetDefault("gateway.base_url", "http://localhost:9090")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.timeout", 10*time.Second)

	v.SetDefault("events.sinks", []string{"redis"})
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.redis_channel", "auction_events")
	v.SetDefault("events.kafka_topic", "auction_events")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})

	v.SetDefault("confirmations.queue_key", "payment_confirmations")
	v.SetDefault("confirmations.max_attempts", 10)
	v.SetDefault("confirmations.poll_timeout", 5*time.Second)
	v.SetDefault("confirmations.embedded_worker", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("mysql.dsn", "MYSQL_DSN")
	v.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	v.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	v.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	v.BindEnv("mysql.migrate", "MYSQL_MIGRATE")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("instance.id", "INSTANCE_ID")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("scheduler.scan_interval", "SCHEDULER_SCAN_INTERVAL")
	v.BindEnv("scheduler.batch_size", "SCHEDULER_BATCH_SIZE")
	v.BindEnv("bidding.conflict_retries", "BIDDING_CONFLICT_RETRIES")
	v.BindEnv("bidding.extension_window", "BIDDING_EXTENSION_WINDOW")
	v.BindEnv("bidding.lock_backend", "BIDDING_LOCK_BACKEND")
	v.BindEnv("bidding.lock_ttl", "BIDDING_LOCK_TTL")
	v.BindEnv("escrow.max_attempts", "ESCROW_MAX_ATTEMPTS")
	v.BindEnv("escrow.base_delay", "ESCROW_BASE_DELAY")
	v.BindEnv("escrow.max_delay", "ESCROW_MAX_DELAY")
	v.BindEnv("escrow.authorization_timeout", "ESCROW_AUTHORIZATION_TIMEOUT")
	v.BindEnv("escrow.currency", "ESCROW_CURRENCY")
	v.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	v.BindEnv("gateway.api_key", "GATEWAY_API_KEY")
	v.BindEnv("gateway.webhook_secret", "GATEWAY_WEBHOOK_SECRET")
	v.BindEnv("gateway.timeout", "GATEWAY_TIMEOUT")
	v.BindEnv("events.sinks", "EVENTS_SINKS")
	v.BindEnv("events.buffer_size", "EVENTS_BUFFER_SIZE")
	v.BindEnv("events.redis_channel", "EVENTS_REDIS_CHANNEL")
	v.BindEnv("events.kafka_topic", "EVENTS_KAFKA_TOPIC")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("confirmations.queue_key", "CONFIRMATIONS_QUEUE_KEY")
	v.BindEnv("confirmations.max_attempts", "CONFIRMATIONS_MAX_ATTEMPTS")
	v.BindEnv("confirmations.poll_timeout", "CONFIRMATIONS_POLL_TIMEOUT")
	v.BindEnv("confirmations.embedded_worker", "CONFIRMATIONS_EMBEDDED_WORKER")
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.endpoint", "TRACING_ENDPOINT")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/auction-system/")

	// Environment variable support
	v.AutomaticEnv()
	bindEnv(v)

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.ScanInterval <= 0 {
		return fmt.Errorf("scheduler.scan_interval must be positive")
	}
	if c.Escrow.MaxAttempts < 1 {
		return fmt.Errorf("escrow.max_attempts must be at least 1")
	}
	switch c.Storage.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Bidding.LockBackend {
	case "redis":
		if c.Bidding.LockTTL < time.Millisecond {
			return fmt.Errorf("bidding.lock_ttl must be at least 1ms, got %s", c.Bidding.LockTTL)
		}
	case "local":
	default:
		return fmt.Errorf("unknown bidding.lock_backend %q", c.Bidding.LockBackend)
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, Storage: %s, Instance: %s, Scan: %s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.Storage.Driver,
		c.Instance.ID,
		c.Scheduler.ScanInterval,
	)
}
