package config

import (
	"fmt"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/cascade"
)

// EndpointFileConfig is the YAML shape of one cascade.ModelEndpoint
// entry: a named endpoint carries its own base URL, API key
// (env-interpolated by loader.go's os.ExpandEnv pass), optional extra
// headers, and a wire format selecting which adapter speaks to it.
type EndpointFileConfig struct {
	URL          string            `yaml:"url" json:"url"`
	APIKey       string            `yaml:"api_key" json:"api_key"`
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty" json:"extra_headers,omitempty"`
	WireFormat   string            `yaml:"wire_format" json:"wire_format"`
}

// EntryFileConfig is the YAML shape of one cascade.Entry: an
// (endpoint, model, provider-hint) triple attempted in turn within a tier.
type EntryFileConfig struct {
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	Model        string `yaml:"model" json:"model"`
	ProviderHint string `yaml:"provider_hint,omitempty" json:"provider_hint,omitempty"`
	NoToolChoice bool   `yaml:"no_tool_choice,omitempty" json:"no_tool_choice,omitempty"`
}

// CascadeFileConfig is the top-level "cascade:" section: named endpoints
// plus the ordered entry list for each tier (high/medium/low).
// ToCascadeConfig is cheap to re-run on a config reload, which is how
// hot-swapping the cascade works.
type CascadeFileConfig struct {
	Endpoints map[string]EndpointFileConfig `yaml:"endpoints" json:"endpoints"`
	High      []EntryFileConfig             `yaml:"high,omitempty" json:"high,omitempty"`
	Medium    []EntryFileConfig             `yaml:"medium,omitempty" json:"medium,omitempty"`
	Low       []EntryFileConfig             `yaml:"low,omitempty" json:"low,omitempty"`
}

// ToCascadeConfig resolves the file-shaped config into the cascade
// package's runtime Config, validating that every entry references a
// declared endpoint and that every endpoint names a known wire format.
func (c CascadeFileConfig) ToCascadeConfig() (cascade.Config, error) {
	endpoints := make(map[string]cascade.ModelEndpoint, len(c.Endpoints))
	for id, ep := range c.Endpoints {
		wire := cascade.WireFormat(ep.WireFormat)
		switch wire {
		case cascade.WireOpenAI, cascade.WireAnthropic:
		default:
			return cascade.Config{}, fmt.Errorf("cascade endpoint %q: unsupported wire_format %q", id, ep.WireFormat)
		}
		endpoints[id] = cascade.ModelEndpoint{
			URL:          ep.URL,
			APIKey:       ep.APIKey,
			ExtraHeaders: ep.ExtraHeaders,
			WireFormat:   wire,
		}
	}

	tiers := map[cascade.Tier][]cascade.Entry{
		action.IntelligenceHigh:   make([]cascade.Entry, 0, len(c.High)),
		action.IntelligenceMedium: make([]cascade.Entry, 0, len(c.Medium)),
		action.IntelligenceLow:    make([]cascade.Entry, 0, len(c.Low)),
	}
	for tier, raw := range map[cascade.Tier][]EntryFileConfig{
		action.IntelligenceHigh:   c.High,
		action.IntelligenceMedium: c.Medium,
		action.IntelligenceLow:    c.Low,
	} {
		for _, e := range raw {
			if _, ok := endpoints[e.Endpoint]; !ok {
				return cascade.Config{}, fmt.Errorf("cascade tier %s: entry references undeclared endpoint %q", tier, e.Endpoint)
			}
			tiers[tier] = append(tiers[tier], cascade.Entry{
				EndpointID:   e.Endpoint,
				ModelID:      e.Model,
				ProviderHint: e.ProviderHint,
				NoToolChoice: e.NoToolChoice,
			})
		}
	}

	return cascade.Config{Tiers: tiers, Endpoints: endpoints}, nil
}
