package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/radar/intel"
)

// loadConfig reads the engine configuration from a YAML file. An empty
// path means no file: the engine falls back to its built-in defaults.
//
// Example:
//
//	default_limits:
//	  tokens: 60
//	  refill_window: 1m
//	  budget_limit: 100
//	provider_limits:
//	  serpapi:
//	    tokens: 30
//	    budget_limit: 50
//	tables:
//	  rank:
//	    serp: [serpapi, dataforseo]
//	result_ttl: 15m
func loadConfig(path string) (*intel.Config, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg intel.Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
