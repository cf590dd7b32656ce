package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug       bool   `mapstructure:"debug"`
	Environment string `mapstructure:"environment"` // "development" or "production"
	SentryDSN   string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
}

// EthereumConfig holds chain connectivity configuration
type EthereumConfig struct {
	RPCURL               string        `mapstructure:"rpc_url"`
	ChainID              uint64        `mapstructure:"chain_id"`
	StartBlock           uint64        `mapstructure:"start_block"`
	MaxBlockRange        uint64        `mapstructure:"max_block_range"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
}

// ContractsConfig holds the on-chain addresses the watchers track
type ContractsConfig struct {
	PoolFactory   string   `mapstructure:"pool_factory"`
	OpenPools     []string `mapstructure:"open_pools"`
	LockedPools   []string `mapstructure:"locked_pools"`
	TreasuryOwner string   `mapstructure:"treasury_owner"`
}

// WatcherConfig holds poll loop configuration
type WatcherConfig struct {
	DepositInterval      time.Duration `mapstructure:"deposit_interval"`
	LockedInterval       time.Duration `mapstructure:"locked_interval"`
	PoolCreationInterval time.Duration `mapstructure:"pool_creation_interval"`
	ReconcileCron        string        `mapstructure:"reconcile_cron"`
}

// ApprovalConfig holds token approval check configuration
type ApprovalConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// WebhookConfig holds webhook ingestion configuration
type WebhookConfig struct {
	Secret    string `mapstructure:"secret"`
	RateLimit int    `mapstructure:"rate_limit"` // requests per minute per source IP
}

// QueueConfig holds queue worker configuration
type QueueConfig struct {
	ImmediateConsumer string        `mapstructure:"immediate_consumer"`
	DelayedConsumer   string        `mapstructure:"delayed_consumer"`
	MaxDeliver        int           `mapstructure:"max_deliver"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
}

// IndexerConfig holds configuration for the indexer binary
type IndexerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Ethereum   EthereumConfig  `mapstructure:"ethereum"`
	Contracts  ContractsConfig `mapstructure:"contracts"`
	Watcher    WatcherConfig   `mapstructure:"watcher"`
	Approval   ApprovalConfig  `mapstructure:"approval"`
}

// GatewayConfig holds configuration for the webhook-gateway binary
type GatewayConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Webhook    WebhookConfig  `mapstructure:"webhook"`
}

// WorkerConfig holds configuration for the queue-worker binary
type WorkerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Queue      QueueConfig    `mapstructure:"queue"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`
	Approval   ApprovalConfig `mapstructure:"approval"`
	Contracts  ContractsConfig `mapstructure:"contracts"`
}

// LoadIndexerConfig loads configuration for the indexer binary
func LoadIndexerConfig(configFile string, envPath string) (*IndexerConfig, error) {
	v := configureViper("indexer", configFile, envPath)

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("ethereum.max_block_range", 250)
	v.SetDefault("ethereum.block_head_ttl", "12s")
	v.SetDefault("ethereum.block_head_stale_window", "60s")
	v.SetDefault("watcher.deposit_interval", "15s")
	v.SetDefault("watcher.locked_interval", "15s")
	v.SetDefault("watcher.pool_creation_interval", "30s")
	v.SetDefault("watcher.reconcile_cron", "*/10 * * * *")
	v.SetDefault("approval.timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config IndexerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Ethereum.RPCURL == "" {
		return nil, errors.New("ethereum.rpc_url is required")
	}

	return &config, nil
}

// LoadGatewayConfig loads configuration for the webhook-gateway binary
func LoadGatewayConfig(configFile string, envPath string) (*GatewayConfig, error) {
	v := configureViper("webhook-gateway", configFile, envPath)

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "POOL_EVENTS")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("webhook.rate_limit", 120)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config GatewayConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Webhook.Secret == "" {
		return nil, errors.New("webhook.secret is required")
	}

	return &config, nil
}

// LoadWorkerConfig loads configuration for the queue-worker binary
func LoadWorkerConfig(configFile string, envPath string) (*WorkerConfig, error) {
	v := configureViper("queue-worker", configFile, envPath)

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "POOL_EVENTS")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("queue.immediate_consumer", "pool-immediate")
	v.SetDefault("queue.delayed_consumer", "pool-delayed")
	v.SetDefault("queue.max_deliver", 3)
	v.SetDefault("queue.settle_delay", "2m")
	v.SetDefault("queue.worker_pool_size", 20)
	v.SetDefault("approval.timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config WorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/indexer/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("POOL_INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"environment",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		// Ethereum
		"ethereum.rpc_url",
		"ethereum.chain_id",
		"ethereum.start_block",
		"ethereum.max_block_range",
		"ethereum.block_head_ttl",
		"ethereum.block_head_stale_window",
		// Contracts
		"contracts.pool_factory",
		"contracts.open_pools",
		"contracts.locked_pools",
		"contracts.treasury_owner",
		// Watcher
		"watcher.deposit_interval",
		"watcher.locked_interval",
		"watcher.pool_creation_interval",
		"watcher.reconcile_cron",
		// Approval
		"approval.timeout",
		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Webhook
		"webhook.secret",
		"webhook.rate_limit",
		// Queue
		"queue.immediate_consumer",
		"queue.delayed_consumer",
		"queue.max_deliver",
		"queue.settle_delay",
		"queue.worker_pool_size",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// IsProduction reports whether the service runs in production mode
func (c *BaseConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
