package network

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML document listing networks.
type Manifest struct {
	Networks []Network `yaml:"networks"`
}

// Config is the set of networks a deployment of the core talks to, one per chain id.
type Config struct {
	networks map[uint64]Network
}

// NewConfig indexes networks by chain id. A later network replaces an earlier one with the same id.
func NewConfig(networks []Network) *Config {
	c := &Config{networks: make(map[uint64]Network, len(networks))}
	c.add(networks)

	return c
}

func (c *Config) add(networks []Network) {
	for _, n := range networks {
		c.networks[n.ChainID] = n
	}
}

// Validate checks every network, in chain id order.
func (c *Config) Validate() error {
	for _, n := range c.Networks() {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("network %d: %w", n.ChainID, err)
		}
	}

	return nil
}

// ChainIDs returns the configured chain ids in ascending order.
func (c *Config) ChainIDs() []uint64 {
	return slices.Sorted(maps.Keys(c.networks))
}

// Networks returns the networks ordered by chain id.
func (c *Config) Networks() []Network {
	ids := c.ChainIDs()
	out := make([]Network, len(ids))
	for i, id := range ids {
		out[i] = c.networks[id]
	}

	return out
}

// Network returns the network of chainID.
func (c *Config) Network(chainID uint64) (Network, error) {
	n, ok := c.networks[chainID]
	if !ok {
		return Network{}, fmt.Errorf("network with chain id %d not found in configuration", chainID)
	}

	return n, nil
}

// URLTransformer rewrites an RPC URL.
type URLTransformer func(string) string

// ExpandEnv substitutes ${VAR} references so that RPC API keys stay out of the manifest.
func ExpandEnv(url string) string {
	return os.ExpandEnv(url)
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	transform URLTransformer
}

// WithURLTransformer rewrites both the HTTP and websocket URL of every RPC after loading.
func WithURLTransformer(t URLTransformer) LoadOption {
	return func(c *loadConfig) {
		c.transform = t
	}
}

// Load reads the manifests at paths in order, later manifests overriding networks of earlier ones,
// and validates the result.
func Load(paths []string, opts ...LoadOption) (*Config, error) {
	var lc loadConfig
	for _, opt := range opts {
		opt(&lc)
	}

	cfg := NewConfig(nil)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read networks file: %w", err)
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal networks YAML %s: %w", p, err)
		}
		cfg.add(m.Networks)
	}

	if lc.transform != nil {
		for id, n := range cfg.networks {
			rpcs := slices.Clone(n.RPCs)
			for i := range rpcs {
				rpcs[i].HTTPURL = lc.transform(rpcs[i].HTTPURL)
				rpcs[i].WSURL = lc.transform(rpcs[i].WSURL)
			}
			n.RPCs = rpcs
			cfg.networks[id] = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate networks configuration: %w", err)
	}

	return cfg, nil
}
