package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/insider-intel/pkg/insider"
)

type Config struct {
	// Storage
	DBPath         string
	MmapPath       string
	MmapCapacity   uint64
	MmapProbeLimit int

	// Background engine
	SyncInterval          time.Duration
	DiscoveryInterval     time.Duration
	CleanupSchedule       string // robfig/cron spec
	DiscoveryLookbackDays int
	TradeRetentionDays    int
	InactiveRetentionDays int
	TokenLaunchRetention  time.Duration
	UpdateQueueSize       int
	UpdateBatchSize       int
	SyncBatchSize         int
	DiscoveryBatchSize    int
	RescoreBackoff        time.Duration
	StoreTimeout          time.Duration
	CooldownPeriod        time.Duration
	CooldownLossStreak    int

	// Decisions
	MinCopyConfidence float64
	SignalBuffer      int

	// Policy overrides; the rule shapes are fixed in insider.Policy
	QualifyMinWinRate    float64
	QualifyMinAvgProfit  float64
	QualifyMinTrades     int
	QualifyMinConfidence float64
	PromoteMinActivity   float64
	BlacklistMaxWinRate  float64
	BlacklistMaxConf     float64
	BlacklistMinTrades   int
	BlacklistMaxProfit   float64

	// Dashboard
	DashboardPort int

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	def := insider.DefaultPolicy()
	cfg := &Config{
		DBPath:         envOr("DB_PATH", "insider_intel.db"),
		MmapPath:       envOr("MMAP_PATH", "wallets.mmdb"),
		MmapCapacity:   uint64(envInt("MMAP_CAPACITY", 1<<20)),
		MmapProbeLimit: envInt("MMAP_PROBE_LIMIT", 8),

		SyncInterval:          envDuration("SYNC_INTERVAL", 30*time.Second),
		DiscoveryInterval:     envDuration("DISCOVERY_INTERVAL", 5*time.Minute),
		CleanupSchedule:       envOr("CLEANUP_SCHEDULE", "@every 1h"),
		DiscoveryLookbackDays: envInt("DISCOVERY_LOOKBACK_DAYS", 7),
		TradeRetentionDays:    envInt("TRADE_RETENTION_DAYS", 30),
		InactiveRetentionDays: envInt("INACTIVE_RETENTION_DAYS", 60),
		TokenLaunchRetention:  envDuration("TOKEN_LAUNCH_RETENTION", 24*time.Hour),
		UpdateQueueSize:       envInt("UPDATE_QUEUE_SIZE", 10000),
		UpdateBatchSize:       envInt("UPDATE_BATCH_SIZE", 100),
		SyncBatchSize:         envInt("SYNC_BATCH_SIZE", 100),
		DiscoveryBatchSize:    envInt("DISCOVERY_BATCH_SIZE", 200),
		RescoreBackoff:        envDuration("DISCOVERY_RESCORE_BACKOFF", time.Hour),
		StoreTimeout:          envDuration("STORE_TIMEOUT", 5*time.Second),
		CooldownPeriod:        envDuration("COOLDOWN_PERIOD", 6*time.Hour),
		CooldownLossStreak:    envInt("COOLDOWN_LOSS_STREAK", 3),

		MinCopyConfidence: envFloat("MIN_COPY_CONFIDENCE", 0.75),
		SignalBuffer:      envInt("SIGNAL_BUFFER", 1024),

		QualifyMinWinRate:    envFloat("QUALIFY_MIN_WIN_RATE", def.QualifyMinWinRate),
		QualifyMinAvgProfit:  envFloat("QUALIFY_MIN_AVG_PROFIT", def.QualifyMinAvgProfit),
		QualifyMinTrades:     envInt("QUALIFY_MIN_TRADES", def.QualifyMinTrades),
		QualifyMinConfidence: envFloat("QUALIFY_MIN_CONFIDENCE", def.QualifyMinConfidence),
		PromoteMinActivity:   envFloat("PROMOTE_MIN_RECENT_ACTIVITY", def.PromoteMinRecentActivity),
		BlacklistMaxWinRate:  envFloat("BLACKLIST_MAX_WIN_RATE", def.BlacklistMaxWinRate),
		BlacklistMaxConf:     envFloat("BLACKLIST_MAX_CONFIDENCE", def.BlacklistMaxConfidence),
		BlacklistMinTrades:   envInt("BLACKLIST_MIN_TRADES", def.BlacklistMinTrades),
		BlacklistMaxProfit:   envFloat("BLACKLIST_MAX_AVG_PROFIT", def.BlacklistMaxAvgProfit),

		DashboardPort: envInt("DASHBOARD_PORT", 8090),
		LogLevel:      strings.ToLower(envOr("LOG_LEVEL", "info")),
	}
	return cfg, cfg.Validate()
}

// Policy builds the scoring policy from the configured thresholds.
func (c *Config) Policy() insider.Policy {
	p := insider.DefaultPolicy()
	p.QualifyMinWinRate = c.QualifyMinWinRate
	p.QualifyMinAvgProfit = c.QualifyMinAvgProfit
	p.QualifyMinTrades = c.QualifyMinTrades
	p.QualifyMinConfidence = c.QualifyMinConfidence
	p.PromoteMinRecentActivity = c.PromoteMinActivity
	p.BlacklistMaxWinRate = c.BlacklistMaxWinRate
	p.BlacklistMaxConfidence = c.BlacklistMaxConf
	p.BlacklistMinTrades = c.BlacklistMinTrades
	p.BlacklistMaxAvgProfit = c.BlacklistMaxProfit
	return p
}

func (c *Config) Validate() error {
	if c.MmapCapacity == 0 || c.MmapCapacity&(c.MmapCapacity-1) != 0 {
		return fmt.Errorf("MMAP_CAPACITY must be a power of two, got %d", c.MmapCapacity)
	}
	if c.MmapProbeLimit < 1 {
		return fmt.Errorf("MMAP_PROBE_LIMIT must be positive, got %d", c.MmapProbeLimit)
	}
	for name, d := range map[string]time.Duration{
		"SYNC_INTERVAL":          c.SyncInterval,
		"DISCOVERY_INTERVAL":     c.DiscoveryInterval,
		"STORE_TIMEOUT":          c.StoreTimeout,
		"TOKEN_LAUNCH_RETENTION": c.TokenLaunchRetention,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.UpdateQueueSize < 1 || c.UpdateBatchSize < 1 || c.SyncBatchSize < 1 || c.DiscoveryBatchSize < 1 {
		return fmt.Errorf("queue and batch sizes must be positive")
	}
	return nil
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go durations ("30s") or bare seconds ("30").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return fallback
}
