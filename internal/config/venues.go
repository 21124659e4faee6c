package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VenueAllowlist optionally restricts, per provider, which symbols are
// subscribed to. When absent or empty for a given exchange, the provider
// subscribes to every symbol its catalog validation accepts.
type VenueAllowlist struct {
	Venues map[string]VenueEntry `yaml:"venues"`
}

// VenueEntry lists the symbols allowed for one exchange.
type VenueEntry struct {
	Symbols []string `yaml:"symbols"`
}

// LoadVenueAllowlist reads an optional static YAML file restricting venue
// symbol subscriptions, using struct-tag driven YAML config loading. A
// missing file is not an error: it means "no allowlist", so every
// provider subscribes unrestricted.
func LoadVenueAllowlist(path string) (*VenueAllowlist, error) {
	if path == "" {
		return &VenueAllowlist{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &VenueAllowlist{}, nil
		}
		return nil, fmt.Errorf("read venue allowlist: %w", err)
	}

	var allow VenueAllowlist
	if err := yaml.Unmarshal(data, &allow); err != nil {
		return nil, fmt.Errorf("parse venue allowlist: %w", err)
	}
	if allow.Venues == nil {
		allow.Venues = map[string]VenueEntry{}
	}
	return &allow, nil
}

// Allowed reports whether symbol is permitted for exchange. An exchange with
// no entry, or an entry with an empty symbol list, allows everything.
func (a *VenueAllowlist) Allowed(exchange, symbol string) bool {
	if a == nil || a.Venues == nil {
		return true
	}
	entry, ok := a.Venues[exchange]
	if !ok || len(entry.Symbols) == 0 {
		return true
	}
	for _, s := range entry.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
