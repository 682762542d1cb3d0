package config

import (
	"fmt"
	"os"
	"strings"

	"filingbot/types"

	"gopkg.in/yaml.v3"
)

type watchlistFile struct {
	Entities []types.WatchlistEntity `yaml:"entities"`
}

// LoadWatchlist reads the tracked entities from a YAML file and/or an inline
// comma-separated list of CIKs. Inline CIKs are tracked as companies.
func LoadWatchlist(path, inline string) ([]types.WatchlistEntity, error) {
	var entities []types.WatchlistEntity

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read watchlist %s: %w", path, err)
		}
		var f watchlistFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse watchlist %s: %w", path, err)
		}
		entities = append(entities, f.Entities...)
	}

	for _, cik := range strings.Split(inline, ",") {
		cik = strings.TrimSpace(cik)
		if cik == "" {
			continue
		}
		entities = append(entities, types.WatchlistEntity{Name: cik, Kind: types.KindCompany, CIK: cik})
	}

	for i, e := range entities {
		if len(e.Identifiers()) == 0 {
			return nil, fmt.Errorf("watchlist entry %d (%q) has no CIK", i, e.Name)
		}
		for _, id := range e.Identifiers() {
			if !isDigits(id) {
				return nil, fmt.Errorf("watchlist entry %q: CIK %q is not numeric", e.Name, id)
			}
		}
		switch e.Kind {
		case "":
			entities[i].Kind = types.KindCompany
		case types.KindCompany, types.KindFund, types.KindIndividual:
		default:
			return nil, fmt.Errorf("watchlist entry %q: unknown kind %q", e.Name, e.Kind)
		}
	}
	return entities, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
