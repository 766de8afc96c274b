package plans

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Source defines how the plan catalog is loaded into the lifecycle manager.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// StaticSource serves a fixed catalog, useful for tests and hard-coded
// deployments.
type StaticSource map[string]Plan

// Load returns the static catalog after validation.
func (s StaticSource) Load(ctx context.Context) (map[string]Plan, error) {
	if err := Validate(map[string]Plan(s)); err != nil {
		return nil, err
	}
	return s, nil
}

// YAMLSource loads the catalog from a YAML file of the form:
//
//	plans:
//	  - id: starter
//	    name: Starter
//	    per_seat_amount: 2000
//	    currency: USD
//	    interval: month
//	    max_seats: 10
//	    provider_price_ids:
//	      stripe: price_123
type YAMLSource struct {
	Path string
}

// Load reads and validates the catalog file.
func (s YAMLSource) Load(ctx context.Context) (map[string]Plan, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}

	catalog := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		catalog[p.ID] = p
	}

	if err := Validate(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}
