package config

import (
	"fmt"
	"os"

	"github.com/chainwatch/netmon/internal/types"
	"gopkg.in/yaml.v3"
)

// manifestFile is the on-disk YAML shape of the chain/endpoint topology.
// spec.md's ChainDescriptor/RpcEndpoint list cannot be expressed as flat
// env-var scalars, so it is declared separately and loaded at startup,
// the way the reference RPC-monitor tooling declares its provider list.
type manifestFile struct {
	Chains []manifestChain `yaml:"chains"`
}

type manifestChain struct {
	ChainID         int64              `yaml:"chainId"`
	DisplayName     string             `yaml:"displayName"`
	TargetBlockTime int                `yaml:"targetBlockTimeSeconds"`
	Endpoints       []manifestEndpoint `yaml:"endpoints"`
	Masternodes     []string           `yaml:"masternodes,omitempty"`
}

type manifestEndpoint struct {
	URL         string `yaml:"url"`
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Conditional bool   `yaml:"conditional"`
}

// LoadChainManifest parses the chain/endpoint topology manifest at path into
// the core's ChainDescriptor data model.
func LoadChainManifest(path string) ([]types.ChainDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain manifest %s: %w", path, err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse chain manifest %s: %w", path, err)
	}

	descriptors := make([]types.ChainDescriptor, 0, len(mf.Chains))
	for _, c := range mf.Chains {
		if c.TargetBlockTime <= 0 {
			return nil, fmt.Errorf("chain %d: targetBlockTimeSeconds must be > 0", c.ChainID)
		}
		endpoints := make([]types.RpcEndpoint, 0, len(c.Endpoints))
		for _, e := range c.Endpoints {
			kind := types.EndpointKind(e.Kind)
			switch kind {
			case types.EndpointHTTPRPC, types.EndpointEnhancedRPC, types.EndpointWebSocket:
			default:
				return nil, fmt.Errorf("chain %d endpoint %s: unknown kind %q", c.ChainID, e.URL, e.Kind)
			}
			endpoints = append(endpoints, types.RpcEndpoint{
				URL:         e.URL,
				Name:        e.Name,
				Kind:        kind,
				ChainID:     c.ChainID,
				Conditional: e.Conditional,
			})
		}
		descriptors = append(descriptors, types.ChainDescriptor{
			ChainID:             c.ChainID,
			DisplayName:         c.DisplayName,
			TargetBlockTimeSecs: c.TargetBlockTime,
			Endpoints:           endpoints,
			Masternodes:         c.Masternodes,
		})
	}
	return descriptors, nil
}
