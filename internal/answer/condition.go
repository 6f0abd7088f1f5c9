package answer

// Relation is how a condition value is compared against the document's
// classification attributes.
type Relation string

const (
	RelationEqual   Relation = "equal"
	RelationUnequal Relation = "unequal"
)

// ValuePredicate is one alternative inside a condition. Name overrides the
// condition's attribute when set.
type ValuePredicate struct {
	Name     string   `json:"name,omitempty"`
	Relation Relation `json:"relation"`
	Value    string   `json:"value"`
}

// Condition gates rule applicability on one classification attribute.
type Condition struct {
	Name   string           `json:"name"`
	Values []ValuePredicate `json:"values"`
}

// VerifyConditions reports whether the document satisfies every condition.
// Conditions are conjunctive; the value predicates inside one condition are
// disjunctive. An empty condition list always holds.
func (t *Tree) VerifyConditions(conditions []Condition) bool {
	for _, cond := range conditions {
		defaults := t.classification[cond.Name]
		satisfied := false
		for _, vp := range cond.Values {
			values := defaults
			if vp.Name != "" {
				if override := t.classification[vp.Name]; len(override) > 0 {
					values = override
				}
			}
			switch vp.Relation {
			case RelationEqual:
				if contains(values, vp.Value) {
					satisfied = true
				}
			case RelationUnequal:
				if !contains(values, vp.Value) {
					satisfied = true
				}
			}
			if satisfied {
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
