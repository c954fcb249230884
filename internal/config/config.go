// Package config loads marketplace settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderSandbox = "sandbox"
	ProviderREST    = "rest"
)

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	GRPCHealthPort  string        `yaml:"grpc_health_port"`
	LogLevel        string        `yaml:"log_level"`
	Currency        string        `yaml:"currency"`
	PromoCode       string        `yaml:"promo_code"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SessionIdle     time.Duration `yaml:"session_idle"`

	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Payment  PaymentConfig  `yaml:"payment"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"db_name"`
	MigrationsPath string `yaml:"migrations_path"`
}

type CatalogConfig struct {
	DBPath         string `yaml:"db_path"`
	MigrationsPath string `yaml:"migrations_path"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type PaymentConfig struct {
	Provider     string `yaml:"provider"`
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// SandboxRoll fixes the sandbox outcome (0-100); negative means random.
	SandboxRoll int `yaml:"sandbox_roll"`
}

func Default() Config {
	return Config{
		HTTPPort:        "8080",
		GRPCHealthPort:  "50060",
		LogLevel:        "info",
		Currency:        "USD",
		PromoCode:       "CRAFT10",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		SessionIdle:     30 * time.Minute,
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "cartdb",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Password:       "postgres",
			DBName:         "marketplace",
			MigrationsPath: "./internal/orders/repository/migrations",
		},
		Catalog: CatalogConfig{
			DBPath:         "./catalog.db",
			MigrationsPath: "./internal/catalog/migrations",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "order-events",
		},
		Payment: PaymentConfig{
			Provider:    ProviderSandbox,
			SandboxRoll: -1,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and then the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func applyEnv(cfg *Config) error {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCHealthPort = getEnv("GRPC_HEALTH_PORT", cfg.GRPCHealthPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Currency = getEnv("CURRENCY", cfg.Currency)
	cfg.PromoCode = getEnv("PROMO_CODE", cfg.PromoCode)

	cfg.Mongo.URI = getEnv("MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = getEnv("MONGO_DB_NAME", cfg.Mongo.Database)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Postgres.Host = getEnv("DB_HOST", cfg.Postgres.Host)
	cfg.Postgres.User = getEnv("DB_USER", cfg.Postgres.User)
	cfg.Postgres.Password = getEnv("DB_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.DBName = getEnv("DB_NAME", cfg.Postgres.DBName)
	cfg.Postgres.MigrationsPath = getEnv("MIGRATIONS_PATH", cfg.Postgres.MigrationsPath)
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.Postgres.Port = port
	}

	cfg.Catalog.DBPath = getEnv("CATALOG_DB_PATH", cfg.Catalog.DBPath)
	cfg.Catalog.MigrationsPath = getEnv("CATALOG_MIGRATIONS_PATH", cfg.Catalog.MigrationsPath)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Payment.Provider = getEnv("PAYMENT_PROVIDER", cfg.Payment.Provider)
	cfg.Payment.BaseURL = getEnv("PAYMENT_BASE_URL", cfg.Payment.BaseURL)
	cfg.Payment.ClientID = getEnv("PAYMENT_CLIENT_ID", cfg.Payment.ClientID)
	cfg.Payment.ClientSecret = getEnv("PAYMENT_CLIENT_SECRET", cfg.Payment.ClientSecret)
	if v := os.Getenv("PAYMENT_SANDBOX_ROLL"); v != "" {
		roll, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PAYMENT_SANDBOX_ROLL: %w", err)
		}
		cfg.Payment.SandboxRoll = roll
	}

	for key, dst := range map[string]*time.Duration{
		"REQUEST_TIMEOUT":  &cfg.RequestTimeout,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
		"SESSION_IDLE":     &cfg.SessionIdle,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	for name, port := range map[string]string{"http_port": c.HTTPPort, "grpc_health_port": c.GRPCHealthPort} {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			errs = append(errs, fmt.Errorf("%s: invalid port %q", name, port))
		}
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		errs = append(errs, fmt.Errorf("postgres.port: invalid port %d", c.Postgres.Port))
	}
	if strings.TrimSpace(c.Currency) == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.SessionIdle <= 0 {
		errs = append(errs, errors.New("session_idle must be positive"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}

	switch c.Payment.Provider {
	case ProviderSandbox:
		if c.Payment.SandboxRoll > 100 {
			errs = append(errs, fmt.Errorf("payment.sandbox_roll: %d is above 100", c.Payment.SandboxRoll))
		}
	case ProviderREST:
		if c.Payment.BaseURL == "" || c.Payment.ClientID == "" || c.Payment.ClientSecret == "" {
			errs = append(errs, errors.New("payment: rest provider needs base_url, client_id and client_secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("payment.provider: unknown provider %q", c.Payment.Provider))
	}

	return errors.Join(errs...)
}
