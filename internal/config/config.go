// Package config loads the optional deployment-time overrides: listen
// address, cache shard count, prefetch worker count, and the metrics
// listener address. Protocol constants (timeouts, the recursion depth
// limit, the prefetch threshold) stay compile-time, per spec.md §4.6 —
// only deployment topology is configurable. Grounded on
// cmd/dnsscience-grpc/config.go's os.ReadFile + yaml.Unmarshal pattern.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the deployment-time overrides.
type Config struct {
	// ListenAddr is the UDP address clients query, e.g. ":5353".
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the address the Prometheus HTTP handler binds to.
	// Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// ShardCount is the cache's shard count, rounded up to a power of 2.
	ShardCount int `yaml:"shard_count"`

	// PrefetchWorkers bounds the Prefetcher's refresh worker pool.
	PrefetchWorkers int `yaml:"prefetch_workers"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddr:      ":5353",
		MetricsAddr:     ":9153",
		ShardCount:      256,
		PrefetchWorkers: 16,
	}
}

// Load reads and parses a YAML config file at path, applying it on top
// of Default(). An empty path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}
