// Package kernelconfig loads kerneld configuration from config.yaml with
// environment overrides. Configuration is always optional: defaults work
// with no file and no environment.
package kernelconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RPCAddr        string
	AcquireTimeout time.Duration
	RequestQueue   int
	HubBacklog     int
	PollInterval   time.Duration
	RateLimit      RateLimit
}

type RateLimit struct {
	Enabled bool
	RPS     float64
	Burst   int
}

func Default() Config {
	return Config{
		RPCAddr:        "127.0.0.1:8899",
		AcquireTimeout: 5 * time.Second,
		RequestQueue:   16,
		HubBacklog:     256,
		PollInterval:   50 * time.Millisecond,
		RateLimit: RateLimit{
			Enabled: true,
			RPS:     30,
			Burst:   60,
		},
	}
}

type fileConfig struct {
	Kernel kernelSection `yaml:"kernel"`
}

type kernelSection struct {
	RPCAddr        string        `yaml:"rpcAddr"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	RequestQueue   int           `yaml:"requestQueue"`
	HubBacklog     int           `yaml:"hubBacklog"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	RateLimit      rateSection   `yaml:"rateLimit"`
}

type rateSection struct {
	Enabled *bool   `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// LoadFromPath reads the first readable candidate config file, merges it over
// the defaults, and applies environment overrides. A missing or malformed
// file falls back to defaults plus environment.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-kernel/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed.Kernel)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src kernelSection) {
	if src.RPCAddr != "" {
		dst.RPCAddr = src.RPCAddr
	}
	if src.AcquireTimeout != 0 {
		dst.AcquireTimeout = src.AcquireTimeout
	}
	if src.RequestQueue != 0 {
		dst.RequestQueue = src.RequestQueue
	}
	if src.HubBacklog != 0 {
		dst.HubBacklog = src.HubBacklog
	}
	if src.PollInterval != 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.RateLimit.Enabled != nil {
		dst.RateLimit.Enabled = *src.RateLimit.Enabled
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv("RK_RPC_ADDR")); addr != "" {
		cfg.RPCAddr = addr
	}
	if raw := strings.TrimSpace(os.Getenv("RK_ACQUIRE_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.AcquireTimeout = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("RK_RPC_RATE_LIMIT_ENABLED")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.RateLimit.Enabled = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("RK_RPC_RATE_LIMIT_RPS")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.RateLimit.RPS = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("RK_RPC_RATE_LIMIT_BURST")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.RateLimit.Burst = v
		}
	}
}
