package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insider-intel/pkg/insider"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 1<<20, cfg.MmapCapacity)
	assert.Equal(t, 8, cfg.MmapProbeLimit)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, "@every 1h", cfg.CleanupSchedule)
	assert.Equal(t, time.Hour, cfg.RescoreBackoff)
	assert.Equal(t, insider.DefaultPolicy(), cfg.Policy())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MMAP_CAPACITY", "4096")
	t.Setenv("SYNC_INTERVAL", "45")
	t.Setenv("DISCOVERY_INTERVAL", "2m")
	t.Setenv("QUALIFY_MIN_TRADES", "12")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MIN_COPY_CONFIDENCE", "garbage")

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.MmapCapacity)
	assert.Equal(t, 45*time.Second, cfg.SyncInterval)
	assert.Equal(t, 2*time.Minute, cfg.DiscoveryInterval)
	assert.Equal(t, 12, cfg.Policy().QualifyMinTrades)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.75, cfg.MinCopyConfidence, "unparsable values fall back")
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"MMAP_CAPACITY":     "1000",
		"MMAP_PROBE_LIMIT":  "0",
		"SYNC_INTERVAL":     "-5s",
		"UPDATE_BATCH_SIZE": "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
