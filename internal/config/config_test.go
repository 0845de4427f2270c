package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

tracking:
  base_url: "https://t.example.com/track"
  resolve_timeout_ms: 1500

storage:
  type: "redis"
  redis_url: "redis://localhost:6379/2"

aws:
  region: "eu-west-1"

events:
  enabled: true
  sqs_queue_url: "https://sqs.eu-west-1.amazonaws.com/123/tracking"

logging:
  level: "debug"
  redact_pii: false

cors:
  allowed_origins: ["https://dash.example.com"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://t.example.com/track", cfg.Tracking.BaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Tracking.ResolveTimeout())
	assert.Equal(t, StorageRedis, cfg.Storage.Type)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Storage.RedisURL)
	assert.Equal(t, "{trk}:", cfg.Storage.RedisKeyPrefix)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Redact())
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.CORS.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_PortMovesDerivedBaseURL(t *testing.T) {
	t.Setenv("PORT", "9090")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9090/track", cfg.Tracking.BaseURL)
}

func TestLoadDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "http://localhost:8080/track", cfg.Tracking.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Tracking.ResolveTimeout())
	assert.Equal(t, StorageFile, cfg.Storage.Type)
	assert.Equal(t, "./data/email-tracking.json", cfg.Storage.FilePath)
	assert.Equal(t, 5*time.Minute, cfg.Export.LockTTL())
	assert.True(t, cfg.Logging.Redact())
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("TRACKING_BASE_URL", "https://track.example.org/track")
	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/tracking?sslmode=disable")
	t.Setenv("SQS_TRACKING_QUEUE_URL", "https://sqs.example/queue")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("PROMETHEUS_PUSHGATEWAY_URL", "http://pushgateway:9091")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "https://track.example.org/track", cfg.Tracking.BaseURL)
	assert.Equal(t, StoragePostgres, cfg.Storage.Type)
	assert.Equal(t, "postgres://u:p@localhost/tracking?sslmode=disable", cfg.Storage.DatabaseURL)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "http://pushgateway:9091", cfg.Export.PushgatewayURL)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"relative base url", func(c *Config) { c.Tracking.BaseURL = "/track" }, true},
		{"unknown storage", func(c *Config) { c.Storage.Type = "mongo" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = StoragePostgres }, true},
		{"redis without url", func(c *Config) { c.Storage.Type = StorageRedis }, true},
		{"dynamodb without table", func(c *Config) { c.Storage.Type = StorageDynamoDB }, true},
		{"memory", func(c *Config) { c.Storage.Type = StorageMemory }, false},
		{"events without queue", func(c *Config) { c.Events.Enabled = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfigGetHost(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	c := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", c.Addr())

	t.Setenv("ECS_CONTAINER_METADATA_URI", "http://169.254.170.2/v4")
	assert.Equal(t, "0.0.0.0", c.GetHost())
}

func TestAWSConfigGetProfile(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("AWS_PROFILE_OVERRIDE", "")
	c := AWSConfig{Profile: "dev"}
	assert.Equal(t, "dev", c.GetProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "iam")
	assert.Equal(t, "", c.GetProfile())
}
