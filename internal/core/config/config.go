// Package config loads the process configuration for roundkeeper: a
// YAML file with environment-variable expansion, matching every name in
// spec §6's environment option table.
package config

import "time"

// AppConfig is the top-level configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Chain     ChainConfig     `yaml:"chain"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Locator   LocatorConfig   `yaml:"locator"`
	Harvester HarvesterConfig `yaml:"harvester"`
	Lock      LockConfig      `yaml:"lock"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig describes the single EVM contract this system reads.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	RPCWSURL      string `yaml:"rpc_ws_url"` // accepted, never dialed
	ContractAddr  string `yaml:"contract_addr"`
	Timezone      string `yaml:"timezone"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

// RedisConfig holds the lock-service / cache connection.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"` // lock key namespace
}

// DatabaseConfig holds the Postgres store connection.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// LocatorConfig holds Block Locator tuning (§4.2).
type LocatorConfig struct {
	StrideBlocks       uint64        `yaml:"stride_blocks"`         // K, default 100
	MaxStrideProbes     int          `yaml:"max_stride_probes"`     // default 3
	MaxBinaryIterations int          `yaml:"max_binary_iterations"` // default 2
	MaxLinearSteps      uint64       `yaml:"max_linear_steps"`      // bounded by K
	RegressionSamples   int          `yaml:"regression_samples"`    // default 5
	ResidualThreshold   time.Duration `yaml:"residual_threshold"`   // default 300s
	BlockRangeCacheTTL  time.Duration `yaml:"block_range_cache_ttl"`
	BlockTSCacheTTL     time.Duration `yaml:"block_ts_cache_ttl"`
	BlocksPerSecond     float64       `yaml:"blocks_per_second"`
}

// HarvesterConfig holds Event Harvester tuning (§4.3).
type HarvesterConfig struct {
	MaxBlocksPerWindow uint64        `yaml:"max_blocks_per_window"` // W, default 100_000
	SliceSize          uint64        `yaml:"slice_size"`            // S, default 20_000
	SliceSleep         time.Duration `yaml:"slice_sleep"`           // default 180ms
	HeaderBatchSize    int           `yaml:"header_batch_size"`     // B, default 200
	EpochDelta         int64         `yaml:"epoch_delta"`           // default 20
}

// LockConfig holds Lock Service tuning (§4.6).
type LockConfig struct {
	TTL time.Duration `yaml:"ttl"` // default 120s
}

// SchedulerConfig holds Scheduler tuning (§4.8).
type SchedulerConfig struct {
	SweeperBatchSize    int           `yaml:"sweeper_batch_size"`    // N, default 10
	SweeperCyclePause   time.Duration `yaml:"sweeper_cycle_pause"`   // default 5s
	SweeperRestart      time.Duration `yaml:"sweeper_restart"`       // MAIN_RESTART_MS, default 30m
	TipInterval         time.Duration `yaml:"tip_interval"`          // default 5m
	TipWarmup           time.Duration `yaml:"tip_warmup"`            // default 5m
	TipLookback         int           `yaml:"tip_lookback"`          // {e-2,e-3,e-4} -> 3
}

// PipelineConfig holds the failure circuit breaker (§4.7).
type PipelineConfig struct {
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"` // default 3
	FailureWindow          time.Duration `yaml:"failure_window"`           // default 10m
}
