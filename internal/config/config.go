package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the prediction service configuration
type Config struct {
	Environment string         `mapstructure:"environment" validate:"required,oneof=development test staging production"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Tasks       TasksConfig    `mapstructure:"tasks"`
	Registry    RegistryConfig `mapstructure:"registry"`
	Jobs        JobsConfig     `mapstructure:"jobs"`
	Seed        SeedConfig     `mapstructure:"seed"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	GRPCPort        int           `mapstructure:"grpc_port" validate:"omitempty,min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "memory"
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	Host            string        `mapstructure:"host" validate:"required_if=Driver postgres"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name" validate:"required_if=Driver postgres"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	// MigrateMode is "sql" (embedded migrations), "auto" (gorm AutoMigrate) or "none"
	MigrateMode string `mapstructure:"migrate_mode" validate:"oneof=sql auto none"`
	LogQueries  bool   `mapstructure:"log_queries"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the host:port of the Redis server
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers" validate:"required_if=Enabled true"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Topics       TopicsConfig  `mapstructure:"topics"`
}

// TopicsConfig holds Kafka topic names
type TopicsConfig struct {
	Tasks        string `mapstructure:"tasks"`
	Transactions string `mapstructure:"transactions"`
}

// AuthConfig holds token and password hashing settings
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	TokenTTL   time.Duration `mapstructure:"token_ttl" validate:"required"`
	BcryptCost int           `mapstructure:"bcrypt_cost" validate:"min=4,max=31"`
}

// TasksConfig holds prediction task settings
type TasksConfig struct {
	RequiredFields []string       `mapstructure:"required_fields"`
	RecordSchema   string         `mapstructure:"record_schema"`
	PredictTimeout time.Duration  `mapstructure:"predict_timeout" validate:"required"`
	StaleAfter     time.Duration  `mapstructure:"stale_after" validate:"required"`
	MaxRecords     int            `mapstructure:"max_records" validate:"min=1"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
}

// CircuitBreaker configures the predictor circuit breaker
type CircuitBreaker struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// RegistryConfig holds model registry cache settings
type RegistryConfig struct {
	// Cache is "redis", "local" or "none"
	Cache    string        `mapstructure:"cache" validate:"oneof=redis local none"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// JobsConfig holds background job schedules in cron syntax
type JobsConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ReconcileSchedule string `mapstructure:"reconcile_schedule"`
	RecoverSchedule   string `mapstructure:"recover_schedule"`
}

// SeedConfig controls demo data loading at startup
type SeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// Load reads configuration from path (optional), environment variables and defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			path = ""
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ml-service")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.enable_cors", true)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "ml_service")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.migrate_mode", "sql")
	v.SetDefault("database.log_queries", false)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.topics.tasks", "ml-service.tasks")
	v.SetDefault("kafka.topics.transactions", "ml-service.transactions")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "change-me-in-production-please")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 12)

	// Task defaults
	v.SetDefault("tasks.required_fields", []string{"feature1", "feature2"})
	v.SetDefault("tasks.record_schema", "")
	v.SetDefault("tasks.predict_timeout", "30s")
	v.SetDefault("tasks.stale_after", "10m")
	v.SetDefault("tasks.max_records", 10000)
	v.SetDefault("tasks.circuit_breaker.enabled", true)
	v.SetDefault("tasks.circuit_breaker.failure_threshold", 5)
	v.SetDefault("tasks.circuit_breaker.reset_timeout", "30s")

	// Registry defaults
	v.SetDefault("registry.cache", "local")
	v.SetDefault("registry.cache_ttl", "5m")

	// Job defaults
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.reconcile_schedule", "@every 1h")
	v.SetDefault("jobs.recover_schedule", "@every 5m")

	// Seed defaults
	v.SetDefault("seed.enabled", false)
	v.SetDefault("seed.file", "")
}
