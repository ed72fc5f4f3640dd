package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "postgres://msm@localhost/msm")
	t.Setenv("EVAL_WORKERS", "8")
	t.Setenv("EVAL_QUEUE_SIZE", "not-a-number")
	t.Setenv("INGEST_BLOCK", "250ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ADMIN_JOB_TITLES", "Директор,Главный инженер")
	t.Setenv("INGEST_MAX_SKEW_SECONDS", "60")

	cfg := FromEnv()
	assert.Equal(t, "postgres://msm@localhost/msm", cfg.DatabaseURL)
	assert.Equal(t, 8, cfg.Evaluation.Workers)
	assert.Equal(t, 1024, cfg.Evaluation.QueueSize, "unparsable values fall back to defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.Block)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"Директор", "Главный инженер"}, cfg.Auth.AdminJobTitles)
	assert.Equal(t, time.Minute, cfg.Auth.IngestMaxSkew)
	assert.Equal(t, "alert_notification", cfg.Kafka.AlertTopic)
	assert.Equal(t, "msm:live_data", cfg.LiveData.Channel)
	assert.Equal(t, int64(10), cfg.Ingest.MaxDeliveries)
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "msm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
ingest:
  stream: plant:readings
  block: 2s
evaluation:
  workers: 2
kafka:
  brokers: ["broker:9092"]
`), 0o600))
	t.Setenv("MSM_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "plant:readings", cfg.Ingest.Stream)
	assert.Equal(t, 2*time.Second, cfg.Ingest.Block)
	assert.Equal(t, 2, cfg.Evaluation.Workers)
	assert.Equal(t, []string{"broker:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL, "keys absent from yaml keep env values")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadReportsBadOverlay(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("MSM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	cfg := FromEnv()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.DatabaseURL = "postgres://x"
	cfg.Evaluation.Workers = 0
	assert.ErrorContains(t, cfg.Validate(), "EVAL_WORKERS")

	cfg.Evaluation.Workers = 1
	require.NoError(t, cfg.Validate())
	cfg.Auth.JWTSecret = ""
	assert.ErrorContains(t, cfg.ValidateAPI(), "AUTH_JWT_SECRET")
	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.ValidateAPI())
}
