// Package rulebook holds the catalogue of compliance rules: declarative
// rule rows grouped by schema, ordered for dispatch, filtered by label and
// scenario.
package rulebook

import (
	"fmt"
	"sort"

	"github.com/veridocs/inspection-engine/internal/answer"
)

type Kind string

const (
	KindRegex      Kind = "regex"
	KindEmpty      Kind = "empty"
	KindExpr       Kind = "expr"
	KindCondition  Kind = "condition"
	KindTemplate   Kind = "template"
	KindSchema     Kind = "schema"
	KindCheckPoint Kind = "checkpoint"
	KindExternal   Kind = "external"
)

// TemplateContent is one reference text scoped to chapters. Chapter names
// joined by & must all resolve; alternatives are separate contents.
type TemplateContent struct {
	Chapters    []string `json:"chapters,omitempty"`
	DiffContext bool     `json:"diff_context"`
	Content     string   `json:"content"`
}

// TemplateGroup is a conjunctive content set labelled 范文 or 法规. Groups
// are alternatives of each other.
type TemplateGroup struct {
	Label    string            `json:"label"`
	Contents []TemplateContent `json:"contents"`
}

// Params carries the kind-specific payload of a rule.
type Params struct {
	Pattern      string             `json:"pattern,omitempty"`
	Expression   string             `json:"expression,omitempty"`
	Conditions   []answer.Condition `json:"conditions,omitempty"`
	Groups       []TemplateGroup    `json:"groups,omitempty"`
	Validator    string             `json:"validator,omitempty"`
	CheckPointID int64              `json:"check_point_id,omitempty"`
	ExternalID   string             `json:"external_id,omitempty"`
	Content      string             `json:"content,omitempty"`
	Suggestion   string             `json:"suggestion,omitempty"`
}

type Rule struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	RelatedName string   `json:"related_name,omitempty"`
	Kind        Kind     `json:"kind"`
	SchemaName  string   `json:"schema_name,omitempty"`
	Fields      []string `json:"fields,omitempty"`
	Params      Params   `json:"params"`
	Enabled     bool     `json:"enabled"`
	Label       string   `json:"label,omitempty"`
	LawRef      string   `json:"law_ref,omitempty"`
	Scenarios   []string `json:"scenarios,omitempty"`
	DependsOn   []int64  `json:"depends_on,omitempty"`
	Origin      []string `json:"origin,omitempty"`
}

// Catalogue is a dependency-ordered rule set. Construction rejects cycles
// and unknown dependencies.
type Catalogue struct {
	rules   []*Rule
	batches [][]*Rule
}

// New orders rules into topological batches over DependsOn, stable by rule
// ID within a batch.
func New(rules []*Rule) (*Catalogue, error) {
	byID := make(map[int64]*Rule, len(rules))
	for _, r := range rules {
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %d", r.ID)
		}
		byID[r.ID] = r
	}
	indegree := make(map[int64]int, len(rules))
	dependents := make(map[int64][]int64)
	for _, r := range rules {
		for _, dep := range r.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("rule %d depends on unknown rule %d", r.ID, dep)
			}
			indegree[r.ID]++
			dependents[dep] = append(dependents[dep], r.ID)
		}
	}

	var ordered []*Rule
	var batches [][]*Rule
	frontier := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if indegree[r.ID] == 0 {
			frontier = append(frontier, r)
		}
	}
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].ID < frontier[j].ID })
		batch := frontier
		frontier = nil
		batches = append(batches, batch)
		ordered = append(ordered, batch...)
		for _, r := range batch {
			for _, dep := range dependents[r.ID] {
				indegree[dep]--
				if indegree[dep] == 0 {
					frontier = append(frontier, byID[dep])
				}
			}
		}
	}
	if len(ordered) != len(rules) {
		return nil, fmt.Errorf("rule dependency cycle detected (%d of %d rules orderable)", len(ordered), len(rules))
	}
	return &Catalogue{rules: ordered, batches: batches}, nil
}

// Rules returns every rule in dispatch order.
func (c *Catalogue) Rules() []*Rule { return c.rules }

// Batches returns the topological levels; rules within one batch have no
// dependencies on each other and may run in parallel.
func (c *Catalogue) Batches() [][]*Rule { return c.batches }

// Filter selects the enabled rules applying to a document: schema attached,
// label in the requested set (empty set keeps all), scenario overlap
// (rules without scenarios always apply). Order is preserved.
type FilterSpec struct {
	Schemas   []string
	Labels    []string
	Scenarios []string
}

func (c *Catalogue) Filter(spec FilterSpec) []*Rule {
	schemaSet := toSet(spec.Schemas)
	labelSet := toSet(spec.Labels)
	scenarioSet := toSet(spec.Scenarios)
	var out []*Rule
	for _, r := range c.rules {
		if !r.Enabled {
			continue
		}
		if r.SchemaName != "" && len(schemaSet) > 0 {
			if _, ok := schemaSet[r.SchemaName]; !ok {
				continue
			}
		}
		if len(labelSet) > 0 && r.Label != "" {
			if _, ok := labelSet[r.Label]; !ok {
				continue
			}
		}
		if len(scenarioSet) > 0 && len(r.Scenarios) > 0 && !overlaps(scenarioSet, r.Scenarios) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ValidateScenarioSubset rejects a check-point scenario set that is not
// covered by its law order's scenario set.
func ValidateScenarioSubset(ruleScenarios, lawScenarios []string) error {
	lawSet := toSet(lawScenarios)
	for _, s := range ruleScenarios {
		if _, ok := lawSet[s]; !ok {
			return fmt.Errorf("scenario %q is not declared on the owning law order", s)
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func overlaps(set map[string]struct{}, values []string) bool {
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
