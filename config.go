package hrvstr

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level arbiter configuration. Zero values fall back
// to the built-in tier and cost tables; config entries override them.
type Config struct {
	// WeightedAggregation switches the aggregator to
	// reliability-weighted means using per-source Reliability values.
	WeightedAggregation bool `yaml:"weighted_aggregation"`

	Sources []SourceConfig `yaml:"sources"`
	Tiers   []TierConfig   `yaml:"tiers"`
	Costs   []CostOverride `yaml:"costs"`
}

// SourceConfig configures one external source's fetch budget.
type SourceConfig struct {
	Name           string        `yaml:"name"`
	MaxRequests    int           `yaml:"max_requests"`
	WindowSeconds  int           `yaml:"window_seconds"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Reliability    float64       `yaml:"reliability"`
	Backoff        BackoffConfig `yaml:"backoff"`
}

// BackoffConfig overrides the retry policy for a source. Zero fields
// keep the DefaultBackoff values.
type BackoffConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMS int     `yaml:"base_delay_ms"`
	MaxDelayMS  int     `yaml:"max_delay_ms"`
	Jitter      float64 `yaml:"jitter"`
}

// Policy materializes the config into a Backoff, filling gaps from
// DefaultBackoff.
func (b BackoffConfig) Policy() Backoff {
	p := DefaultBackoff()
	if b.MaxAttempts > 0 {
		p.MaxAttempts = b.MaxAttempts
	}
	if b.BaseDelayMS > 0 {
		p.BaseDelay = time.Duration(b.BaseDelayMS) * time.Millisecond
	}
	if b.MaxDelayMS > 0 {
		p.MaxDelay = time.Duration(b.MaxDelayMS) * time.Millisecond
	}
	if b.Jitter > 0 {
		p.Jitter = b.Jitter
	}
	return p
}

// TierConfig overrides a tier's built-in limits.
type TierConfig struct {
	Name              Tier `yaml:"name"`
	CacheTTLMinutes   int  `yaml:"cache_ttl_minutes"`
	SessionTTLMinutes int  `yaml:"session_ttl_minutes"`
	MaxTickers        int  `yaml:"max_tickers"`
	MonthlyCredits    int  `yaml:"monthly_credits"`
}

// CostOverride replaces the built-in base cost of one data type.
type CostOverride struct {
	DataType DataType `yaml:"data_type"`
	Base     int      `yaml:"base"`
}

// DefaultConfig returns the stock source budgets.
func DefaultConfig() Config {
	return Config{
		Sources: []SourceConfig{
			{Name: "reddit", MaxRequests: 10, WindowSeconds: 60, TimeoutSeconds: 15, Reliability: 0.7},
			{Name: "finviz", MaxRequests: 5, WindowSeconds: 60, TimeoutSeconds: 15, Reliability: 0.9},
			{Name: "yahoo", MaxRequests: 20, WindowSeconds: 60, TimeoutSeconds: 15, Reliability: 0.8},
		},
	}
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("hrvstr: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("hrvstr: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	names := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("hrvstr: config: sources[%d]: name is required", i)
		}
		if names[src.Name] {
			return fmt.Errorf("hrvstr: config: duplicate source %q", src.Name)
		}
		names[src.Name] = true

		if src.MaxRequests < 0 || src.WindowSeconds < 0 {
			return fmt.Errorf("hrvstr: config: sources[%d] (%s): negative rate limit", i, src.Name)
		}
		if (src.MaxRequests > 0) != (src.WindowSeconds > 0) {
			return fmt.Errorf("hrvstr: config: sources[%d] (%s): max_requests and window_seconds must be set together", i, src.Name)
		}
		if src.Reliability < 0 || src.Reliability > 1 {
			return fmt.Errorf("hrvstr: config: sources[%d] (%s): reliability must be in [0,1]", i, src.Name)
		}
	}

	tiers := make(map[Tier]bool, len(c.Tiers))
	for i, tc := range c.Tiers {
		if !tc.Name.Valid() {
			return fmt.Errorf("hrvstr: config: tiers[%d]: invalid tier %q", i, tc.Name)
		}
		if tiers[tc.Name] {
			return fmt.Errorf("hrvstr: config: duplicate tier %q", tc.Name)
		}
		tiers[tc.Name] = true
	}

	for i, co := range c.Costs {
		if !co.DataType.Valid() {
			return fmt.Errorf("hrvstr: config: costs[%d]: invalid data_type %q", i, co.DataType)
		}
		if co.Base <= 0 {
			return fmt.Errorf("hrvstr: config: costs[%d] (%s): base must be positive", i, co.DataType)
		}
	}

	return nil
}

// Source returns the config block for a source name, or false.
func (c Config) Source(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// CacheTTL resolves a tier's cache TTL, honoring overrides.
func (c Config) CacheTTL(tier Tier) time.Duration {
	for _, tc := range c.Tiers {
		if tc.Name == tier && tc.CacheTTLMinutes > 0 {
			return time.Duration(tc.CacheTTLMinutes) * time.Minute
		}
	}
	return tier.CacheTTL()
}

// SessionTTL resolves a tier's unlock-session TTL, honoring overrides.
func (c Config) SessionTTL(tier Tier) time.Duration {
	for _, tc := range c.Tiers {
		if tc.Name == tier && tc.SessionTTLMinutes > 0 {
			return time.Duration(tc.SessionTTLMinutes) * time.Minute
		}
	}
	return tier.SessionTTL()
}

// MaxTickers resolves a tier's per-request ticker limit.
func (c Config) MaxTickers(tier Tier) int {
	for _, tc := range c.Tiers {
		if tc.Name == tier && tc.MaxTickers > 0 {
			return tc.MaxTickers
		}
	}
	return tier.MaxTickers()
}

// CostOf resolves the credit cost of a request, honoring base-cost
// overrides before the tier divisor is applied.
func (c Config) CostOf(tier Tier, dataType DataType, timeRange TimeRange) int {
	for _, co := range c.Costs {
		if co.DataType == dataType {
			return costFrom(co.Base, tier, timeRange)
		}
	}
	return CostOf(tier, dataType, timeRange)
}

// ReliabilityWeights collects per-source reliability factors, or nil
// when no source sets one.
func (c Config) ReliabilityWeights() map[string]float64 {
	var weights map[string]float64
	for _, src := range c.Sources {
		if src.Reliability > 0 {
			if weights == nil {
				weights = make(map[string]float64)
			}
			weights[src.Name] = src.Reliability
		}
	}
	return weights
}
