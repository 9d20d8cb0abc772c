package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TokenEntry is one token in the registry file. An entry whose mint matches
// a built-in token replaces it.
type TokenEntry struct {
	Mint     string `yaml:"mint"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
}

// LoadTokenOverrides reads a YAML file keyed by network:
//
//	devnet:
//	  - mint: 4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU
//	    symbol: USDC
//	    name: USD Coin
//	    decimals: 6
func LoadTokenOverrides(path string) (map[Network][]TokenEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token registry %s: %w", path, err)
	}

	var overrides map[Network][]TokenEntry
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse token registry %s: %w", path, err)
	}

	for network, entries := range overrides {
		if !network.Valid() {
			return nil, fmt.Errorf("token registry %s: unsupported network %q", path, network)
		}
		for i, e := range entries {
			if e.Mint == "" || e.Symbol == "" {
				return nil, fmt.Errorf("token registry %s: %s entry %d needs mint and symbol", path, network, i)
			}
		}
	}

	return overrides, nil
}
