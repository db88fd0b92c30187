package intel

import (
	"time"

	"github.com/hazyhaar/radar/intel/coordinate"
	"github.com/hazyhaar/radar/intel/plan"
)

// Config configures the intel engine.
type Config struct {
	// Compliance gates provider registration and lookup. Process-wide, not
	// persisted: it must be supplied again on every start.
	Compliance ComplianceConfig `yaml:"compliance"`

	// DefaultLimits apply to providers absent from ProviderLimits.
	DefaultLimits coordinate.Limits `yaml:"default_limits"`
	// ProviderLimits override rate/budget admission per provider.
	ProviderLimits map[string]coordinate.Limits `yaml:"provider_limits"`

	// Tables override the planner's ranking and estimate data. Zero-valued
	// tables use the built-in defaults.
	Tables plan.Tables `yaml:"tables"`

	// ResultTTL is the cache lifetime of aggregated results. Default: 15m.
	ResultTTL time.Duration `yaml:"result_ttl"`
	// SweepInterval is the cache eviction cadence. Default: 5m.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// HealthInterval is the provider health probe cadence. Zero disables
	// the background probe.
	HealthInterval time.Duration `yaml:"health_interval"`

	// MaxResultsCeiling rejects absurd result counts. Default: 200.
	MaxResultsCeiling int `yaml:"max_results_ceiling"`
}

func defaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.ResultTTL <= 0 {
		c.ResultTTL = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.MaxResultsCeiling <= 0 {
		c.MaxResultsCeiling = 200
	}
}
