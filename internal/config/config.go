package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/viper"
)

// Backend selectors.
const (
	BackendMemory = "memory"
	BackendStore  = "store"

	CoordinatorStore = "store"
	CoordinatorNATS  = "nats"
	CoordinatorNone  = "none"
)

// Config holds all runtime configuration for the relay.
type Config struct {
	AppName    string `mapstructure:"app_name"`
	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port"`

	StorageBackend string `mapstructure:"storage_backend"`
	StoreHost      string `mapstructure:"store_host"`
	StorePort      int    `mapstructure:"store_port"`
	StorePassword  string `mapstructure:"store_password"`
	StoreTLS       bool   `mapstructure:"store_tls"`

	MaxMessagesPerTopic     int64 `mapstructure:"max_messages_per_topic"`
	PersistentTierRetention int   `mapstructure:"persistent_tier_retention"`
	HotTierRetention        int   `mapstructure:"hot_tier_retention"`

	JWTSecretKey         string `mapstructure:"jwt_secret_key"`
	JWTAlgorithm         string `mapstructure:"jwt_algorithm"`
	JWTExpirationMinutes int    `mapstructure:"jwt_expiration_minutes"`

	BootstrapAdminUsername string `mapstructure:"bootstrap_admin_username"`
	BootstrapAdminPassword string `mapstructure:"bootstrap_admin_password"`
	BootstrapAdminEmail    string `mapstructure:"bootstrap_admin_email"`

	CoordinatorBackend string `mapstructure:"coordinator_backend"`
	NATSURL            string `mapstructure:"nats_url"`

	MaxConnectionsPerInstance int   `mapstructure:"max_connections_per_instance"`
	MaxMessageSize            int64 `mapstructure:"max_message_size"`

	LoginRatePerSecond float64 `mapstructure:"login_rate_per_second"`
	LoginRateBurst     int     `mapstructure:"login_rate_burst"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load reads configuration from environment variables and an optional
// config file. Precedence: PULSAR_* env > config file > defaults.
func Load() (Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("app_name", "Pulsar Relay")
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)

	v.SetDefault("storage_backend", BackendMemory)
	v.SetDefault("store_host", "localhost")
	v.SetDefault("store_port", 6379)
	v.SetDefault("store_password", "")
	v.SetDefault("store_tls", false)

	v.SetDefault("max_messages_per_topic", 1_000_000)
	v.SetDefault("persistent_tier_retention", 86400)
	v.SetDefault("hot_tier_retention", 600)

	v.SetDefault("jwt_secret_key", "your-secret-key-here-change-in-production")
	v.SetDefault("jwt_algorithm", "HS256")
	v.SetDefault("jwt_expiration_minutes", 60)

	v.SetDefault("bootstrap_admin_username", "")
	v.SetDefault("bootstrap_admin_password", "")
	v.SetDefault("bootstrap_admin_email", "")

	v.SetDefault("coordinator_backend", "")
	v.SetDefault("nats_url", "nats://localhost:4222")

	v.SetDefault("max_connections_per_instance", 10000)
	v.SetDefault("max_message_size", 1<<20)

	v.SetDefault("login_rate_per_second", 1.0)
	v.SetDefault("login_rate_burst", 10)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pulsar-relay")
	v.SetEnvPrefix("PULSAR")
	v.AutomaticEnv()

	// Config file is optional
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	// Unset coordinator backend follows the storage backend: workers
	// sharing a store relay through it, a single memory-backed worker
	// needs no relay.
	if cfg.CoordinatorBackend == "" {
		if cfg.StorageBackend == BackendStore {
			cfg.CoordinatorBackend = CoordinatorStore
		} else {
			cfg.CoordinatorBackend = CoordinatorNone
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendStore:
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	switch c.CoordinatorBackend {
	case CoordinatorStore, CoordinatorNATS, CoordinatorNone:
	default:
		return fmt.Errorf("unknown coordinator_backend %q", c.CoordinatorBackend)
	}
	if c.JWTAlgorithm != "HS256" {
		return fmt.Errorf("unsupported jwt_algorithm %q (only HS256)", c.JWTAlgorithm)
	}
	if c.MaxMessagesPerTopic <= 0 {
		return fmt.Errorf("max_messages_per_topic must be positive")
	}
	if c.JWTExpirationMinutes <= 0 {
		return fmt.Errorf("jwt_expiration_minutes must be positive")
	}
	return nil
}

// ListenAddr is the host:port the HTTP server binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// StoreAddr is the host:port of the backing store.
func (c Config) StoreAddr() string {
	return net.JoinHostPort(c.StoreHost, strconv.Itoa(c.StorePort))
}

// NeedsStore reports whether any configured component requires a store
// connection.
func (c Config) NeedsStore() bool {
	return c.StorageBackend == BackendStore || c.CoordinatorBackend == CoordinatorStore
}
