package ledger

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type inMemSource struct {
	plans []Plan
}

// NewInMemSource returns a PlanSource serving a copy of the given plans.
// Panics if no plans are provided so the catalog is never empty by accident.
func NewInMemSource(plans ...Plan) PlanSource {
	if len(plans) < 1 {
		panic("ledger: at least one plan is required")
	}
	return &inMemSource{plans: slices.Clone(plans)}
}

func (s *inMemSource) Load(context.Context) ([]Plan, error) {
	return slices.Clone(s.plans), nil
}

type yamlSource struct {
	path string
}

// NewYAMLSource reads plans from a YAML file with a top-level "plans" list:
//
//	plans:
//	  - id: monthly-4
//	    name: Four walks
//	    walk_credits: 4
//	    walk_duration: 60
//	    price: 2999
//	    validity_period: 30
//	    is_active: true
//
// The file is read on every Load, so Catalog.Reload picks up edits.
func NewYAMLSource(path string) PlanSource {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(context.Context) ([]Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return parseYAMLPlans(data)
}

func parseYAMLPlans(data []byte) ([]Plan, error) {
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	return doc.Plans, nil
}
