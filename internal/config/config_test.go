package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "parsed-track-bulletins", cfg.KafkaSourceTopic)
	assert.Equal(t, "storm-resolutions", cfg.KafkaSinkTopic)
	assert.Equal(t, "storm-data-tracks", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, "storms.db", cfg.DatabasePath)
	assert.Equal(t, 64, cfg.RegionCacheSize)
	assert.Equal(t, uint64(3), cfg.StoreRetryMax)
	assert.Equal(t, 16*time.Hour, cfg.ActiveWindow)
	assert.Equal(t, 12*time.Hour, cfg.ArchiveAfter)
	assert.Equal(t, 36*time.Hour, cfg.LeadTimeGate)
	assert.Zero(t, cfg.EnsembleControlIndex)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_SOURCE_TOPIC", "custom-source")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("DATABASE_PATH", "/var/lib/tracks/storms.db")
	t.Setenv("REGION_CACHE_SIZE", "8")
	t.Setenv("STORE_RETRY_MAX", "5")
	t.Setenv("ACTIVE_WINDOW", "24h")
	t.Setenv("ARCHIVE_AFTER", "6h")
	t.Setenv("LEAD_TIME_GATE", "48h")
	t.Setenv("ENSEMBLE_CONTROL_INDEX", "31")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-source", cfg.KafkaSourceTopic)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, "/var/lib/tracks/storms.db", cfg.DatabasePath)
	assert.Equal(t, 8, cfg.RegionCacheSize)
	assert.Equal(t, uint64(5), cfg.StoreRetryMax)
	assert.Equal(t, 24*time.Hour, cfg.ActiveWindow)
	assert.Equal(t, 6*time.Hour, cfg.ArchiveAfter)
	assert.Equal(t, 48*time.Hour, cfg.LeadTimeGate)
	assert.Equal(t, 31, cfg.EnsembleControlIndex)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("BATCH_SIZE", "9999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidThresholds(t *testing.T) {
	for _, key := range []string{"ACTIVE_WINDOW", "ARCHIVE_AFTER", "LEAD_TIME_GATE"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "-1h")
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_InvalidStoreRetryMax(t *testing.T) {
	t.Setenv("STORE_RETRY_MAX", "many")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_RETRY_MAX")
}

func TestLoad_BadRegionCacheSizeFallsBack(t *testing.T) {
	t.Setenv("REGION_CACHE_SIZE", "-4")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.RegionCacheSize)
}

func TestLoad_InvalidEnsembleControlIndex(t *testing.T) {
	for _, v := range []string{"-1", "control"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("ENSEMBLE_CONTROL_INDEX", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "ENSEMBLE_CONTROL_INDEX")
		})
	}
}
