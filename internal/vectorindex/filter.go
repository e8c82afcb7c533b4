package vectorindex

import (
	"github.com/qdrant/go-client/qdrant"
)

// Predicate is a small typed filter tree. It is converted to the engine's
// filter dialect only at the gateway boundary so callers never build engine
// structs directly.
type Predicate struct {
	All []Predicate // conjunction
	Any []Predicate // disjunction

	Field  string
	Equals string
	In     []string
}

// Eq matches a single keyword value.
func Eq(field, value string) Predicate {
	return Predicate{Field: field, Equals: value}
}

// In matches any of the given keyword values. For array payload fields this
// is an any-overlap match.
func In(field string, values []string) Predicate {
	return Predicate{Field: field, In: values}
}

// And groups predicates into a conjunction.
func And(preds ...Predicate) Predicate {
	return Predicate{All: preds}
}

// Or groups predicates into a disjunction.
func Or(preds ...Predicate) Predicate {
	return Predicate{Any: preds}
}

func (p Predicate) isZero() bool {
	return len(p.All) == 0 && len(p.Any) == 0 && p.Field == ""
}

// withTenant wraps pred with the mandatory tenant conjunct. Every query the
// gateway issues goes through here; there is no unscoped path.
func withTenant(pred Predicate, tenantID string) Predicate {
	tenant := Eq("tenant_id", tenantID)
	if pred.isZero() {
		return tenant
	}
	return And(tenant, pred)
}

// toFilter converts the predicate tree to a qdrant filter.
func toFilter(p Predicate) *qdrant.Filter {
	if p.isZero() {
		return nil
	}
	if len(p.All) > 0 {
		must := make([]*qdrant.Condition, 0, len(p.All))
		for _, child := range p.All {
			if c := toCondition(child); c != nil {
				must = append(must, c)
			}
		}
		return &qdrant.Filter{Must: must}
	}
	if len(p.Any) > 0 {
		should := make([]*qdrant.Condition, 0, len(p.Any))
		for _, child := range p.Any {
			if c := toCondition(child); c != nil {
				should = append(should, c)
			}
		}
		return &qdrant.Filter{Should: should}
	}
	if c := toCondition(p); c != nil {
		return &qdrant.Filter{Must: []*qdrant.Condition{c}}
	}
	return nil
}

func toCondition(p Predicate) *qdrant.Condition {
	switch {
	case len(p.All) > 0, len(p.Any) > 0:
		f := toFilter(p)
		if f == nil {
			return nil
		}
		return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{Filter: f}}
	case len(p.In) > 0:
		return qdrant.NewMatchKeywords(p.Field, p.In...)
	case p.Field != "":
		return qdrant.NewMatch(p.Field, p.Equals)
	}
	return nil
}
