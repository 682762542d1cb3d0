// Package config loads runtime settings from the environment (and an optional
// .env file) and holds the pipeline-wide constants.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"filingbot/types"

	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration of one process.
type Config struct {
	Registry  RegistryConfig
	Kafka     KafkaConfig
	S3        S3Config
	Athena    AthenaConfig
	Redis     RedisConfig
	Parser    ParserConfig
	Discovery DiscoveryConfig
	APIAddr   string

	// IngestEnabled is the initial state of the kill switch.
	IngestEnabled bool
	Watchlist     []types.WatchlistEntity
}

// RegistryConfig configures the rate-limited registry client.
type RegistryConfig struct {
	BaseURL           string
	DataURL           string
	UserAgent         string
	RequestsPerSecond float64
	MaxAttempts       int
	// Gate selects "local" (per process) or "redis" (shared by all processes).
	Gate string
}

// KafkaConfig configures the work queue.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	RetryTopic      string
	DeadLetterTopic string
	GroupID         string
}

// S3Config names the lake bucket. Credentials come from the AWS default chain.
type S3Config struct {
	Bucket       string
	Region       string
	Profile      string
	UsePathStyle bool
}

// AthenaConfig configures the existence queries.
type AthenaConfig struct {
	Database       string
	Workgroup      string
	OutputLocation string
	MaxPolls       int
	PollInterval   time.Duration
}

// RedisConfig is optional; an empty Addr disables claims and the shared gate.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ParserConfig configures parser workers and their buffer.
type ParserConfig struct {
	MinDocumentBytes int
	MaxRows          int
	FlushInterval    time.Duration
	MaxDeliveries    int
}

// DiscoveryConfig holds the schedules and windows of discovery runs.
type DiscoveryConfig struct {
	IncrementalSchedule string
	CatchupSchedule     string
	WatchlistSchedule   string
	IncrementalWindow   time.Duration
	CatchupWindow       time.Duration
	GlobalCategory      string
	TypedFormTypes      []string
}

// ErrMissingUserAgent is returned when no contact identification is configured.
var ErrMissingUserAgent = errors.New("REGISTRY_USER_AGENT is required (e.g. \"Example Corp ops@example.com\")")

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	// Non-fatal if missing
	_ = godotenv.Load()

	cfg := &Config{
		Registry: RegistryConfig{
			BaseURL:           getEnv("REGISTRY_BASE_URL", RegistryBaseURL),
			DataURL:           getEnv("REGISTRY_DATA_URL", RegistryDataURL),
			UserAgent:         strings.TrimSpace(os.Getenv("REGISTRY_USER_AGENT")),
			RequestsPerSecond: getEnvFloat("REGISTRY_RPS", RegistryRequestsPerSecond),
			MaxAttempts:       getEnvInt("REGISTRY_MAX_ATTEMPTS", RegistryMaxAttempts),
			Gate:              strings.ToLower(getEnv("REGISTRY_GATE", "local")),
		},
		Kafka: KafkaConfig{
			Brokers:         getEnvList("KAFKA_BOOTSTRAP_SERVERS", []string{"localhost:9092"}),
			Topic:           getEnv("KAFKA_TOPIC_PARSE_JOBS", ParseJobsTopic),
			RetryTopic:      getEnv("KAFKA_TOPIC_PARSE_RETRY", ParseJobsRetryTopic),
			DeadLetterTopic: getEnv("KAFKA_TOPIC_PARSE_DLQ", ParseJobsDeadLetterTopic),
			GroupID:         getEnv("KAFKA_CONSUMER_GROUP_ID", ParserGroupID),
		},
		S3: S3Config{
			Bucket:       strings.TrimSpace(os.Getenv("S3_BUCKET")),
			Region:       strings.TrimSpace(os.Getenv("S3_REGION")),
			Profile:      strings.TrimSpace(os.Getenv("S3_PROFILE")),
			UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),
		},
		Athena: AthenaConfig{
			Database:       getEnv("ATHENA_DATABASE", "filings_lake"),
			Workgroup:      getEnv("ATHENA_WORKGROUP", "primary"),
			OutputLocation: strings.TrimSpace(os.Getenv("ATHENA_OUTPUT_LOCATION")),
			MaxPolls:       getEnvInt("ATHENA_MAX_POLLS", AthenaMaxPolls),
			PollInterval:   getEnvDuration("ATHENA_POLL_INTERVAL", AthenaPollInterval),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASS"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Parser: ParserConfig{
			MinDocumentBytes: getEnvInt("PARSER_MIN_DOCUMENT_BYTES", MinDocumentBytes),
			MaxRows:          getEnvInt("BUFFER_MAX_ROWS", BufferMaxRows),
			FlushInterval:    getEnvDuration("BUFFER_FLUSH_INTERVAL", BufferFlushInterval),
			MaxDeliveries:    getEnvInt("PARSER_MAX_DELIVERIES", MaxDeliveries),
		},
		Discovery: DiscoveryConfig{
			IncrementalSchedule: getEnv("DISCOVERY_INCREMENTAL_CRON", IncrementalSchedule),
			CatchupSchedule:     getEnv("DISCOVERY_CATCHUP_CRON", CatchupSchedule),
			WatchlistSchedule:   getEnv("DISCOVERY_WATCHLIST_CRON", WatchlistSchedule),
			IncrementalWindow:   getEnvDuration("DISCOVERY_INCREMENTAL_WINDOW", IncrementalWindow),
			CatchupWindow:       getEnvDuration("DISCOVERY_CATCHUP_WINDOW", CatchupWindow),
			GlobalCategory:      getEnv("DISCOVERY_GLOBAL_CATEGORY", GlobalFeedCategory),
			TypedFormTypes:      getEnvList("DISCOVERY_TYPED_FORMS", []string{"13F-HR", "SC 13D", "SC 13G"}),
		},
		APIAddr:       ":" + getEnv("PORT", "8080"),
		IngestEnabled: getEnvBool("INGEST_ENABLED", true),
	}

	if cfg.Registry.UserAgent == "" {
		return nil, ErrMissingUserAgent
	}
	if cfg.Registry.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("REGISTRY_RPS must be positive, got %v", cfg.Registry.RequestsPerSecond)
	}
	if cfg.Registry.Gate != "local" && cfg.Registry.Gate != "redis" {
		return nil, fmt.Errorf("REGISTRY_GATE must be \"local\" or \"redis\", got %q", cfg.Registry.Gate)
	}
	if cfg.Registry.Gate == "redis" && cfg.Redis.Addr == "" {
		return nil, errors.New("REGISTRY_GATE=redis requires REDIS_ADDR")
	}

	watchlist, err := LoadWatchlist(os.Getenv("WATCHLIST_FILE"), os.Getenv("WATCHLIST"))
	if err != nil {
		return nil, err
	}
	cfg.Watchlist = watchlist

	return cfg, nil
}

// KillSwitch halts all outbound activity when disabled. It starts from
// INGEST_ENABLED and can be flipped at runtime through the operator API.
type KillSwitch struct {
	enabled atomic.Bool
}

// NewKillSwitch returns a switch in the given state.
func NewKillSwitch(enabled bool) *KillSwitch {
	k := &KillSwitch{}
	k.enabled.Store(enabled)
	return k
}

// Enabled reports whether ingestion may contact external systems.
func (k *KillSwitch) Enabled() bool {
	if k == nil {
		return true
	}
	return k.enabled.Load()
}

// Set changes the switch state.
func (k *KillSwitch) Set(enabled bool) {
	k.enabled.Store(enabled)
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
