package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file, expanding ${VAR} references
// against the process environment, then fills every field spec §6 names
// an environment default for when the file left it zero. The file itself
// is optional — a missing file yields an all-defaults config driven
// entirely by environment variables, which is the common deployment
// shape for this system.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if data, err := os.ReadFile(path); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = os.Getenv("RPC_URL")
	}
	if cfg.Chain.RPCWSURL == "" {
		cfg.Chain.RPCWSURL = os.Getenv("RPC_WS_URL")
	}
	if cfg.Chain.ContractAddr == "" {
		cfg.Chain.ContractAddr = os.Getenv("CONTRACT_ADDR")
	}
	if cfg.Chain.Timezone == "" {
		cfg.Chain.Timezone = envOr("TIMEZONE", "UTC")
	}
	if cfg.Chain.CallTimeout == 0 {
		cfg.Chain.CallTimeout = 30 * time.Second
	}

	if cfg.Redis.URL == "" {
		cfg.Redis.URL = os.Getenv("REDIS_URL")
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "roundkeeper"
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("POSTGRES_URL")
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.StatementTimeout == 0 {
		cfg.Database.StatementTimeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = envOr("LOG_LEVEL", "info")
	}

	if cfg.Locator.StrideBlocks == 0 {
		cfg.Locator.StrideBlocks = 100
	}
	if cfg.Locator.MaxStrideProbes == 0 {
		cfg.Locator.MaxStrideProbes = 3
	}
	if cfg.Locator.MaxBinaryIterations == 0 {
		cfg.Locator.MaxBinaryIterations = 2
	}
	if cfg.Locator.MaxLinearSteps == 0 {
		cfg.Locator.MaxLinearSteps = cfg.Locator.StrideBlocks
	}
	if cfg.Locator.RegressionSamples == 0 {
		cfg.Locator.RegressionSamples = 5
	}
	if cfg.Locator.ResidualThreshold == 0 {
		cfg.Locator.ResidualThreshold = 300 * time.Second
	}
	if cfg.Locator.BlockRangeCacheTTL == 0 {
		cfg.Locator.BlockRangeCacheTTL = durMsEnv("BLOCK_RANGE_CACHE_TTL_MS", 1_800_000)
	}
	if cfg.Locator.BlockTSCacheTTL == 0 {
		cfg.Locator.BlockTSCacheTTL = durMsEnv("BLOCK_TS_CACHE_TTL_MS", 3_600_000)
	}
	if cfg.Locator.BlocksPerSecond == 0 {
		cfg.Locator.BlocksPerSecond = 3.0
	}

	if cfg.Harvester.MaxBlocksPerWindow == 0 {
		cfg.Harvester.MaxBlocksPerWindow = uintEnv("MAX_BLOCKS_PER_WINDOW", 100_000)
	}
	if cfg.Harvester.SliceSize == 0 {
		cfg.Harvester.SliceSize = uintEnv("SLICE_SIZE", 20_000)
	}
	if cfg.Harvester.SliceSleep == 0 {
		cfg.Harvester.SliceSleep = durMsEnv("SLICE_SLEEP_MS", 180)
	}
	if cfg.Harvester.HeaderBatchSize == 0 {
		cfg.Harvester.HeaderBatchSize = intEnv("BLOCK_HEADER_BATCH", 200)
	}
	if cfg.Harvester.EpochDelta == 0 {
		cfg.Harvester.EpochDelta = 20
	}

	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = durSecEnv("LOCK_TTL_SEC", 120)
	}

	if cfg.Scheduler.SweeperBatchSize == 0 {
		cfg.Scheduler.SweeperBatchSize = 10
	}
	if cfg.Scheduler.SweeperCyclePause == 0 {
		cfg.Scheduler.SweeperCyclePause = 5 * time.Second
	}
	if cfg.Scheduler.SweeperRestart == 0 {
		cfg.Scheduler.SweeperRestart = durMsEnv("MAIN_RESTART_MS", 1_800_000)
	}
	if cfg.Scheduler.TipInterval == 0 {
		cfg.Scheduler.TipInterval = durMsEnv("TIP_INTERVAL_MS", 300_000)
	}
	if cfg.Scheduler.TipWarmup == 0 {
		cfg.Scheduler.TipWarmup = durMsEnv("TIP_WARMUP_MS", 300_000)
	}
	if cfg.Scheduler.TipLookback == 0 {
		cfg.Scheduler.TipLookback = 3
	}

	if cfg.Pipeline.MaxConsecutiveFailures == 0 {
		cfg.Pipeline.MaxConsecutiveFailures = intEnv("MAX_CONSECUTIVE_FAILURES", 3)
	}
	if cfg.Pipeline.FailureWindow == 0 {
		cfg.Pipeline.FailureWindow = durMsEnv("FAILURE_WINDOW_MS", 600_000)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func uintEnv(name string, fallback uint64) uint64 {
	if v := os.Getenv(name); v != "" {
		var n uint64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func durMsEnv(name string, fallbackMs int) time.Duration {
	ms := intEnv(name, fallbackMs)
	return time.Duration(ms) * time.Millisecond
}

func durSecEnv(name string, fallbackSec int) time.Duration {
	sec := intEnv(name, fallbackSec)
	return time.Duration(sec) * time.Second
}
