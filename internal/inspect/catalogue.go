package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veridocs/inspection-engine/internal/rulebook"
)

// FileCatalogueSource loads rule catalogues from per-schema JSON files
// (schema_<id>.json under Dir).
type FileCatalogueSource struct {
	Dir string
}

func (f *FileCatalogueSource) Catalogue(ctx context.Context, schemaID int64, filter rulebook.FilterSpec) (*rulebook.Catalogue, error) {
	path := filepath.Join(f.Dir, fmt.Sprintf("schema_%d.json", schemaID))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rulebook: %w", err)
	}
	var rules []*rulebook.Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decode rulebook %s: %w", path, err)
	}
	full, err := rulebook.New(rules)
	if err != nil {
		return nil, err
	}
	kept := full.Filter(filter)
	return rebuild(kept)
}

// rebuild re-orders a filtered rule list, dropping dependency edges to
// rules the filter removed.
func rebuild(rules []*rulebook.Rule) (*rulebook.Catalogue, error) {
	present := make(map[int64]bool, len(rules))
	for _, r := range rules {
		present[r.ID] = true
	}
	pruned := make([]*rulebook.Rule, 0, len(rules))
	for _, r := range rules {
		cp := *r
		var deps []int64
		for _, dep := range r.DependsOn {
			if present[dep] {
				deps = append(deps, dep)
			}
		}
		cp.DependsOn = deps
		pruned = append(pruned, &cp)
	}
	return rulebook.New(pruned)
}
