package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"feature1", "feature2"}, cfg.Tasks.RequiredFields)
	assert.Equal(t, 30*time.Second, cfg.Tasks.PredictTimeout)
	assert.Equal(t, "local", cfg.Registry.Cache)
	assert.Equal(t, "ml-service.tasks", cfg.Kafka.Topics.Tasks)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment: test
server:
  port: 9000
database:
  driver: memory
tasks:
  required_fields: [age, income]
  predict_timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("AUTH_JWT_SECRET", "a-much-longer-test-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"age", "income"}, cfg.Tasks.RequiredFields)
	assert.Equal(t, 2*time.Second, cfg.Tasks.PredictTimeout)
	assert.Equal(t, "a-much-longer-test-secret", cfg.Auth.JWTSecret)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	t.Run("unknown driver", func(t *testing.T) {
		bad := *cfg
		bad.Database.Driver = "sqlite"
		assert.Error(t, bad.Validate())
	})

	t.Run("short jwt secret", func(t *testing.T) {
		bad := *cfg
		bad.Auth.JWTSecret = "short"
		assert.Error(t, bad.Validate())
	})

	t.Run("kafka enabled without brokers", func(t *testing.T) {
		bad := *cfg
		bad.Kafka.Enabled = true
		bad.Kafka.Brokers = nil
		assert.Error(t, bad.Validate())
	})

	t.Run("memory driver needs no host", func(t *testing.T) {
		ok := *cfg
		ok.Database.Driver = "memory"
		ok.Database.Host = ""
		assert.NoError(t, ok.Validate())
	})
}
