package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration shared by the worker and API binaries.
type Config struct {
	ServiceName     string        `yaml:"service_name"`
	HTTPAddr        string        `yaml:"http_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	DatabaseURL     string        `yaml:"database_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Redis      RedisConfig      `yaml:"redis"`
	Ingest     IngestConfig     `yaml:"ingest"`
	LiveData   LiveDataConfig   `yaml:"live_data"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
}

// RedisConfig locates the broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// IngestConfig names the inbound stream topology.
type IngestConfig struct {
	Stream           string        `yaml:"stream"`
	Group            string        `yaml:"group"`
	Consumer         string        `yaml:"consumer"`
	DeadLetterStream string        `yaml:"dead_letter_stream"`
	Batch            int64         `yaml:"batch"`
	Block            time.Duration `yaml:"block"`
	Parallelism      int           `yaml:"parallelism"`
	MaxLen           int64         `yaml:"max_len"`
	MaxDeliveries    int64         `yaml:"max_deliveries"`
}

// LiveDataConfig names the fan-out channels.
type LiveDataConfig struct {
	Channel      string `yaml:"channel"`
	AlertChannel string `yaml:"alert_channel"`
}

// KafkaConfig configures the alert notification bus.
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	AlertTopic string   `yaml:"alert_topic"`
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL          string        `yaml:"url"`
	Template     string        `yaml:"template"`
	Timeout      time.Duration `yaml:"timeout"`
	Cooldown     time.Duration `yaml:"cooldown"`
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// EvaluationConfig sizes the evaluation pool.
type EvaluationConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// AuthConfig holds token and gateway secrets.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	AdminJobTitles []string      `yaml:"admin_job_titles"`
	IngestSecret   string        `yaml:"ingest_secret"`
	IngestMaxSkew  time.Duration `yaml:"ingest_max_skew"`
	RoleScopesFile string        `yaml:"role_scopes_file"`
}

// LogConfig configures zap output and rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WebSocketConfig bounds live socket IO.
type WebSocketConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PongWait     time.Duration `yaml:"pong_wait"`
}

// Load reads .env (if present), the environment and the MSM_CONFIG yaml overlay.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := FromEnv()
	if path := strings.TrimSpace(os.Getenv("MSM_CONFIG")); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "msm-worker"
	}
	return Config{
		ServiceName:     getenvDefault("SERVICE_NAME", "msm-monitoring"),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:     getenvDefault("METRICS_ADDR", ":9091"),
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Redis: RedisConfig{
			Addr:     getenvDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getenvIntDefault("REDIS_DB", 0),
		},
		Ingest: IngestConfig{
			Stream:           getenvDefault("INGEST_STREAM", "msm:readings"),
			Group:            getenvDefault("INGEST_GROUP", "msm-workers"),
			Consumer:         getenvDefault("INGEST_CONSUMER", hostname),
			DeadLetterStream: getenvDefault("INGEST_DEAD_LETTER_STREAM", "msm:readings:dead"),
			Batch:            int64(getenvIntDefault("INGEST_BATCH", 64)),
			Block:            getenvDuration("INGEST_BLOCK", 5*time.Second),
			Parallelism:      getenvIntDefault("INGEST_PARALLELISM", 1),
			MaxLen:           int64(getenvIntDefault("INGEST_MAX_LEN", 0)),
			MaxDeliveries:    int64(getenvIntDefault("INGEST_MAX_DELIVERIES", 10)),
		},
		LiveData: LiveDataConfig{
			Channel:      getenvDefault("LIVE_DATA_CHANNEL", "msm:live_data"),
			AlertChannel: getenvDefault("ALERT_CHANNEL", "msm:alerts"),
		},
		Kafka: KafkaConfig{
			Brokers:    splitCSV(os.Getenv("KAFKA_BROKERS")),
			AlertTopic: getenvDefault("KAFKA_ALERT_TOPIC", "alert_notification"),
		},
		Webhook: WebhookConfig{
			URL:          os.Getenv("ALERT_WEBHOOK_URL"),
			Template:     os.Getenv("ALERT_NOTIFY_TEMPLATE"),
			Timeout:      getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
			Cooldown:     getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
			DedupeWindow: getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0),
		},
		Evaluation: EvaluationConfig{
			Workers:    getenvIntDefault("EVAL_WORKERS", 4),
			QueueSize:  getenvIntDefault("EVAL_QUEUE_SIZE", 1024),
			JobTimeout: getenvDuration("EVAL_JOB_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:      getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
			AdminJobTitles: splitCSV(os.Getenv("ADMIN_JOB_TITLES")),
			IngestSecret:   os.Getenv("INGEST_HMAC_SECRET"),
			IngestMaxSkew:  time.Duration(getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300)) * time.Second,
			RoleScopesFile: os.Getenv("ROLE_SCOPES_FILE"),
		},
		Log: LogConfig{
			Level:      getenvDefault("LOG_LEVEL", "info"),
			Format:     getenvDefault("LOG_FORMAT", "json"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getenvIntDefault("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getenvIntDefault("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getenvIntDefault("LOG_MAX_AGE_DAYS", 14),
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: getenvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PongWait:     getenvDuration("WS_PONG_WAIT", 60*time.Second),
		},
	}
}

// Overlay merges the yaml file at path over c. Keys absent from the file keep their values.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks settings required by every process.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DatabaseURL) == "" {
		problems = append(problems, "DATABASE_URL or PG_DSN is required")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		problems = append(problems, "REDIS_ADDR is required")
	}
	if c.Evaluation.Workers <= 0 {
		problems = append(problems, "EVAL_WORKERS must be > 0")
	}
	if c.Evaluation.QueueSize <= 0 {
		problems = append(problems, "EVAL_QUEUE_SIZE must be > 0")
	}
	if c.Ingest.Batch <= 0 {
		problems = append(problems, "INGEST_BATCH must be > 0")
	}
	if c.Ingest.Parallelism <= 0 {
		problems = append(problems, "INGEST_PARALLELISM must be > 0")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// ValidateAPI checks settings the API process cannot run without.
func (c Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
