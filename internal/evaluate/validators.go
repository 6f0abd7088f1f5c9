package evaluate

import (
	"fmt"

	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

// Validator is one coded schema check, addressed by its stable label.
type Validator interface {
	Label() string
	Check(tree *answer.Tree) *Result
}

// Registry dispatches schema-kind rules to their coded validators.
type Registry struct {
	byLabel map[string]Validator
	ordered []Validator
}

func NewRegistry(validators ...Validator) (*Registry, error) {
	r := &Registry{byLabel: make(map[string]Validator, len(validators))}
	for _, v := range validators {
		if _, dup := r.byLabel[v.Label()]; dup {
			return nil, fmt.Errorf("duplicate validator label %q", v.Label())
		}
		r.byLabel[v.Label()] = v
		r.ordered = append(r.ordered, v)
	}
	return r, nil
}

// DefaultRegistry holds every built-in fund contract validator.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		&OpenDayValidator{},
		&OperationModeValidator{},
		&RiskLevelValidator{},
		&SingleManagerValidator{},
		&DurationValidator{},
		&ManagerNameValidator{},
		&FundNameValidator{},
	)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Validators() []Validator { return r.ordered }

func (r *Registry) Lookup(label string) (Validator, bool) {
	v, ok := r.byLabel[label]
	return v, ok
}

// Run executes the validator a schema rule names.
func (r *Registry) Run(rule *rulebook.Rule, tree *answer.Tree) (*Result, error) {
	v, ok := r.byLabel[rule.Params.Validator]
	if !ok {
		return nil, fmt.Errorf("rule %q names unknown validator %q", rule.Name, rule.Params.Validator)
	}
	res := v.Check(tree)
	res.RuleID = rule.ID
	return res, nil
}
