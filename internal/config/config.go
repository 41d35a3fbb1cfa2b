package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Storage.
	DatabasePath    string
	RegionCacheSize int
	StoreRetryMax   uint64

	// Lifecycle and track assignment thresholds.
	ActiveWindow time.Duration
	ArchiveAfter time.Duration
	LeadTimeGate time.Duration

	// EnsembleControlIndex is the deterministic member left out of the
	// ensemble mean; 0 averages every assigned member.
	EnsembleControlIndex int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	activeWindow, err := parsePositiveDuration("ACTIVE_WINDOW", "16h")
	if err != nil {
		return nil, err
	}
	archiveAfter, err := parsePositiveDuration("ARCHIVE_AFTER", "12h")
	if err != nil {
		return nil, err
	}
	leadTimeGate, err := parsePositiveDuration("LEAD_TIME_GATE", "36h")
	if err != nil {
		return nil, err
	}

	retryMax, err := strconv.ParseUint(sharedcfg.EnvOrDefault("STORE_RETRY_MAX", "3"), 10, 8)
	if err != nil {
		return nil, errors.New("invalid STORE_RETRY_MAX")
	}

	controlIndex, err := strconv.Atoi(sharedcfg.EnvOrDefault("ENSEMBLE_CONTROL_INDEX", "0"))
	if err != nil || controlIndex < 0 {
		return nil, errors.New("invalid ENSEMBLE_CONTROL_INDEX")
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "parsed-track-bulletins"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "storm-resolutions"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "storm-data-tracks"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DatabasePath:    sharedcfg.EnvOrDefault("DATABASE_PATH", "storms.db"),
		RegionCacheSize: parseRegionCacheSize(),
		StoreRetryMax:   retryMax,

		ActiveWindow:         activeWindow,
		ArchiveAfter:         archiveAfter,
		LeadTimeGate:         leadTimeGate,
		EnsembleControlIndex: controlIndex,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.DatabasePath == "" {
		return nil, errors.New("DATABASE_PATH is required")
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseRegionCacheSize() int {
	if s := os.Getenv("REGION_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 64
}
