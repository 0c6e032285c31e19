package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	HashEngine  HashEngineConfig  `mapstructure:"hash_engine"`
	Sieve       SieveConfig       `mapstructure:"sieve"`
	Stratum     StratumConfig     `mapstructure:"stratum"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// HashEngineConfig configures the R (memory-hard hash) core.
type HashEngineConfig struct {
	Threads        int    `mapstructure:"threads"`
	Mode           string `mapstructure:"mode"` // "light" or "full"
	SafeMode       bool   `mapstructure:"safe_mode"`
	InitialBits    uint32 `mapstructure:"initial_bits"`
}

// SieveConfig configures the G (prime-gap sieve) core.
type SieveConfig struct {
	Threads       int     `mapstructure:"threads"`
	SieveBytes    int     `mapstructure:"sieve_bytes"`
	SievePrimes   int     `mapstructure:"sieve_primes"`
	Shift         uint32  `mapstructure:"shift"`
	FermatRounds  int     `mapstructure:"fermat_rounds"`
	TargetMerit   float64 `mapstructure:"target_merit"`
	GPUWorkers    int     `mapstructure:"gpu_workers"`
	GPUBackend    string  `mapstructure:"gpu_backend"`
}

// StratumConfig configures the S (pool server) core.
type StratumConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	MaxClients    int           `mapstructure:"max_clients"`
	VarDiff       bool          `mapstructure:"var_diff"`
	MinDiff       float64       `mapstructure:"min_diff"`
	MaxDiff       float64       `mapstructure:"max_diff"`
	TargetTime    int           `mapstructure:"target_time"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	RecvBufferMax int           `mapstructure:"recv_buffer_max"`
}

// PerformanceConfig configures process-wide performance knobs.
type PerformanceConfig struct {
	EnableOptimization bool  `mapstructure:"enable_optimization"`
	CPUAffinity        []int `mapstructure:"cpu_affinity"`
	HugePagesEnabled   bool  `mapstructure:"huge_pages_enabled"`
	GCPercent          int   `mapstructure:"gc_percent"`
}

// MonitoringConfig configures the Prometheus/HTTP status surface.
type MonitoringConfig struct {
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	PrometheusAddr  string        `mapstructure:"prometheus_addr"`
}

// Load reads and validates configuration from configPath, falling back to
// defaults and WATTX_-prefixed environment variables for anything unset.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WATTX")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("mode", "auto")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("hash_engine.threads", 0) // 0 = auto (CPU count)
	viper.SetDefault("hash_engine.mode", "light")
	viper.SetDefault("hash_engine.safe_mode", false)
	viper.SetDefault("hash_engine.initial_bits", 0x1d00ffff)

	viper.SetDefault("sieve.threads", 0)
	viper.SetDefault("sieve.sieve_bytes", 32*1024*1024)
	viper.SetDefault("sieve.sieve_primes", 900000)
	viper.SetDefault("sieve.shift", 25)
	viper.SetDefault("sieve.fermat_rounds", 3)
	viper.SetDefault("sieve.target_merit", 10.0)
	viper.SetDefault("sieve.gpu_workers", 0)
	viper.SetDefault("sieve.gpu_backend", "none")

	viper.SetDefault("stratum.enabled", true)
	viper.SetDefault("stratum.listen_addr", ":3335")
	viper.SetDefault("stratum.max_clients", 10000)
	viper.SetDefault("stratum.var_diff", true)
	viper.SetDefault("stratum.min_diff", 100.0)
	viper.SetDefault("stratum.max_diff", 1000000.0)
	viper.SetDefault("stratum.target_time", 10)
	viper.SetDefault("stratum.idle_timeout", "600s")
	viper.SetDefault("stratum.job_timeout", "30s")
	viper.SetDefault("stratum.recv_buffer_max", 65536)

	viper.SetDefault("performance.enable_optimization", true)
	viper.SetDefault("performance.huge_pages_enabled", false)
	viper.SetDefault("performance.gc_percent", 100)

	viper.SetDefault("monitoring.metrics_interval", "10s")
	viper.SetDefault("monitoring.prometheus_addr", ":9090")
}

func validate(cfg *Config) error {
	validModes := map[string]bool{"auto": true, "solo": true, "pool": true, "miner": true}
	if !validModes[cfg.Mode] {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}

	if cfg.HashEngine.Threads < 0 {
		return fmt.Errorf("hash_engine.threads cannot be negative")
	}
	if cfg.HashEngine.Mode != "light" && cfg.HashEngine.Mode != "full" {
		return fmt.Errorf("hash_engine.mode must be light or full")
	}

	if cfg.Sieve.Threads < 0 {
		return fmt.Errorf("sieve.threads cannot be negative")
	}
	if cfg.Sieve.Shift < 14 || cfg.Sieve.Shift > 65536 {
		return fmt.Errorf("sieve.shift must be between 14 and 65536")
	}
	if cfg.Sieve.TargetMerit <= 0 {
		return fmt.Errorf("sieve.target_merit must be positive")
	}
	if cfg.Sieve.FermatRounds < 3 {
		return fmt.Errorf("sieve.fermat_rounds must be at least 3 to match the consensus endpoint check")
	}

	if cfg.Stratum.Enabled {
		if cfg.Stratum.MinDiff <= 0 {
			return fmt.Errorf("stratum.min_diff must be positive")
		}
		if cfg.Stratum.MaxDiff <= cfg.Stratum.MinDiff {
			return fmt.Errorf("stratum.max_diff must be greater than min_diff")
		}
		if cfg.Stratum.TargetTime <= 0 {
			return fmt.Errorf("stratum.target_time must be positive")
		}
		if cfg.Stratum.RecvBufferMax <= 0 {
			return fmt.Errorf("stratum.recv_buffer_max must be positive")
		}
	}

	return nil
}
