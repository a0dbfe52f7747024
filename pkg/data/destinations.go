package data

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type destinationsFile struct {
	Version      int           `yaml:"version"`
	Destinations []Destination `yaml:"destinations"`
}

// LoadDestinationsFile reads a YAML list of tenant destinations:
//
//	version: 1
//	destinations:
//	  - tenant_id: "1234"
//	    channel_id: "5678"
//	    role_id: "9012"
func LoadDestinationsFile(path string) ([]Destination, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading destinations file: %w", err)
	}

	var df destinationsFile
	if err := yaml.Unmarshal(b, &df); err != nil {
		return nil, fmt.Errorf("parsing destinations file: %w", err)
	}
	if df.Version != 1 {
		return nil, errors.New("destinations: unsupported version")
	}

	seen := make(map[string]struct{}, len(df.Destinations))
	for i := range df.Destinations {
		d := &df.Destinations[i]
		d.TenantID = strings.TrimSpace(d.TenantID)
		if d.TenantID == "" {
			return nil, fmt.Errorf("destinations: entry %d has no tenant_id", i)
		}
		if _, dup := seen[d.TenantID]; dup {
			return nil, fmt.Errorf("destinations: tenant %s listed twice", d.TenantID)
		}
		seen[d.TenantID] = struct{}{}
	}
	return df.Destinations, nil
}

// SeedDestinations stores each destination whose tenant has none yet and
// returns how many were written. Existing rows win over the file.
func SeedDestinations(ctx context.Context, repo Repository, dests []Destination) (int, error) {
	written := 0
	for i := range dests {
		_, err := repo.GetDestination(ctx, dests[i].TenantID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return written, err
		}
		if err := repo.SaveDestination(ctx, &dests[i]); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
