package router

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keyroute/keyroute/internal/ringhash"
)

// BackendConfig defines one upstream backend in the YAML config.
type BackendConfig struct {
	Addr     string  `yaml:"addr"`
	Hostname string  `yaml:"hostname,omitempty"`
	Weight   float64 `yaml:"weight,omitempty"`
}

// RingConfig holds the per-route hash ring settings. Zero values fall back
// to the ring defaults (1024 / 8M entries, xx_hash).
type RingConfig struct {
	MinimumRingSize       uint64 `yaml:"minimum_ring_size,omitempty"`
	MaximumRingSize       uint64 `yaml:"maximum_ring_size,omitempty"`
	HashFunction          string `yaml:"hash_function,omitempty"`
	UseHostnameForHashing bool   `yaml:"use_hostname_for_hashing,omitempty"`
	ShardIndex            bool   `yaml:"shard_index,omitempty"`
}

// RingHashConfig converts the YAML form into the ring builder's config.
// Size-bound coherence is deliberately left to the builder, which owns that
// check.
func (rc RingConfig) RingHashConfig() (ringhash.Config, error) {
	hf, err := ringhash.ParseHashFunc(rc.HashFunction)
	if err != nil {
		return ringhash.Config{}, err
	}
	return ringhash.Config{
		MinRingSize:           rc.MinimumRingSize,
		MaxRingSize:           rc.MaximumRingSize,
		HashFunc:              hf,
		UseHostnameForHashing: rc.UseHostnameForHashing,
		ShardIndex:            rc.ShardIndex,
	}, nil
}

// HealthConfig holds active health checking settings shared by all routes.
type HealthConfig struct {
	Path               string        `yaml:"path,omitempty"`
	Interval           time.Duration `yaml:"interval,omitempty"`
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	HealthyThreshold   int           `yaml:"healthy_threshold,omitempty"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold,omitempty"`
}

// RouteConfig defines a single route in the YAML config.
type RouteConfig struct {
	Name     string            `yaml:"name"`
	Path     string            `yaml:"path"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Policy   string            `yaml:"policy,omitempty"`   // ring_hash (default), round_robin, weighted, least_conn
	HashKey  string            `yaml:"hash_key,omitempty"` // source_ip (default) or header:<Name>
	Retries  int               `yaml:"retries,omitempty"`
	Backends []BackendConfig   `yaml:"backends"`
	Ring     RingConfig        `yaml:"ring,omitempty"`
}

// GatewayConfig is the top-level YAML configuration.
type GatewayConfig struct {
	Listen   string        `yaml:"listen,omitempty"`
	LogLevel string        `yaml:"log_level,omitempty"`
	Health   HealthConfig  `yaml:"health,omitempty"`
	Routes   []RouteConfig `yaml:"routes"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes into a GatewayConfig.
func ParseConfig(data []byte) (*GatewayConfig, error) {
	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig checks that the config is structurally valid. Ring size
// bounds are validated later by the ring hash balancer itself.
func validateConfig(cfg *GatewayConfig) error {
	if len(cfg.Routes) == 0 {
		return fmt.Errorf("config must have at least one route")
	}

	names := map[string]bool{}
	for i, route := range cfg.Routes {
		if route.Name == "" {
			return fmt.Errorf("route %d: name cannot be empty", i)
		}
		if names[route.Name] {
			return fmt.Errorf("route %d (%s): duplicate route name", i, route.Name)
		}
		names[route.Name] = true

		if route.Path == "" {
			return fmt.Errorf("route %d (%s): path cannot be empty", i, route.Name)
		}
		if len(route.Backends) == 0 {
			return fmt.Errorf("route %d (%s): must have at least one backend", i, route.Name)
		}
		for j, b := range route.Backends {
			if b.Addr == "" {
				return fmt.Errorf("route %d (%s): backend %d: addr cannot be empty", i, route.Name, j)
			}
			if route.Ring.UseHostnameForHashing && b.Hostname == "" {
				return fmt.Errorf("route %d (%s): backend %d: hostname required when use_hostname_for_hashing is set",
					i, route.Name, j)
			}
		}

		switch route.Policy {
		case "", "ring_hash", "round_robin", "weighted", "least_conn":
		default:
			return fmt.Errorf("route %d (%s): unknown policy %q", i, route.Name, route.Policy)
		}

		if route.HashKey != "" && route.HashKey != "source_ip" &&
			!strings.HasPrefix(route.HashKey, "header:") {
			return fmt.Errorf("route %d (%s): hash_key must be source_ip or header:<name>", i, route.Name)
		}

		if route.Retries < 0 {
			return fmt.Errorf("route %d (%s): retries cannot be negative", i, route.Name)
		}

		if _, err := ringhash.ParseHashFunc(route.Ring.HashFunction); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, route.Name, err)
		}
	}

	return nil
}
