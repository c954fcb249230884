package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketplace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "CRAFT10", cfg.PromoCode)
	assert.Equal(t, ProviderSandbox, cfg.Payment.Provider)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
http_port: "9090"
currency: EUR
request_timeout: 5s
postgres:
  host: db.internal
  port: 6543
kafka:
  brokers: [k1:9092, k2:9092]
payment:
  provider: rest
  base_url: https://api.sandbox.example
  client_id: id
  client_secret: secret
`)
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "k3:9092, k4:9092")
	t.Setenv("SESSION_IDLE", "10m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.HTTPPort, "env wins over the file")
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, "postgres", cfg.Postgres.User, "unset keys keep defaults")
	assert.Equal(t, []string{"k3:9092", "k4:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Minute, cfg.SessionIdle)
	assert.Equal(t, ProviderREST, cfg.Payment.Provider)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "http_port: [unclosed"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("DB_PORT", "five")
		_, err := Load("")
		assert.ErrorContains(t, err, "invalid DB_PORT")
	})

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("REQUEST_TIMEOUT", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "invalid REQUEST_TIMEOUT")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad http port", func(c *Config) { c.HTTPPort = "99999" }, "http_port"},
		{"non numeric port", func(c *Config) { c.GRPCHealthPort = "grpc" }, "grpc_health_port"},
		{"empty currency", func(c *Config) { c.Currency = " " }, "currency is required"},
		{"unknown provider", func(c *Config) { c.Payment.Provider = "cash" }, "unknown provider"},
		{"rest without credentials", func(c *Config) { c.Payment.Provider = ProviderREST }, "rest provider needs"},
		{"roll above range", func(c *Config) { c.Payment.SandboxRoll = 101 }, "sandbox_roll"},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }, "kafka.brokers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Currency = ""
	cfg.Payment.Provider = "cash"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency is required")
	assert.Contains(t, err.Error(), "unknown provider")
}
