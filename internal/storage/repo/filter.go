package repo

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Op is one of the thirteen comparison operators spec.md §4.4 requires a
// filter condition to support.
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNin        Op = "nin"
	OpContains   Op = "contains"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
	OpExists     Op = "exists"
	OpRegex      Op = "regex"
)

// Condition is one field/operator/value test.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Combinator joins a Filter's conditions and nested groups.
type Combinator string

const (
	And Combinator = "and"
	Or  Combinator = "or"
)

// Filter is a tree of conditions combined by and/or. Groups nest
// arbitrarily; a Filter with no conditions and no groups matches
// everything.
type Filter struct {
	Combinator Combinator
	Conditions []Condition
	Groups     []Filter
}

// Matches reports whether entity satisfies f. Entities are inspected via
// their JSON representation so the filter can reach both top-level and
// dotted nested fields (e.g. "source.type") without a field registry.
func (f Filter) Matches(entity any) bool {
	data, err := json.Marshal(entity)
	if err != nil {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	return f.matchesMap(m)
}

func (f Filter) matchesMap(m map[string]any) bool {
	combinator := f.Combinator
	if combinator == "" {
		combinator = And
	}

	results := make([]bool, 0, len(f.Conditions)+len(f.Groups))
	for _, c := range f.Conditions {
		results = append(results, c.matches(m))
	}
	for _, g := range f.Groups {
		results = append(results, g.matchesMap(m))
	}

	if len(results) == 0 {
		return true
	}

	if combinator == Or {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func fieldValue(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func (c Condition) matches(m map[string]any) bool {
	v, present := fieldValue(m, c.Field)

	switch c.Op {
	case OpExists:
		want, _ := c.Value.(bool)
		return present == want
	case OpEq:
		return present && looseEqual(v, c.Value)
	case OpNe:
		return !present || !looseEqual(v, c.Value)
	case OpIn:
		if !present {
			return false
		}
		items, _ := c.Value.([]any)
		for _, item := range items {
			if looseEqual(v, item) {
				return true
			}
		}
		return false
	case OpNin:
		if !present {
			return true
		}
		items, _ := c.Value.([]any)
		for _, item := range items {
			if looseEqual(v, item) {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		return compareOrdered(v, c.Value, c.Op)
	case OpContains:
		sv, ok := asString(v)
		want, _ := c.Value.(string)
		return ok && strings.Contains(sv, want)
	case OpStartsWith:
		sv, ok := asString(v)
		want, _ := c.Value.(string)
		return ok && strings.HasPrefix(sv, want)
	case OpEndsWith:
		sv, ok := asString(v)
		want, _ := c.Value.(string)
		return ok && strings.HasSuffix(sv, want)
	case OpRegex:
		sv, ok := asString(v)
		if !ok {
			return false
		}
		pattern, _ := c.Value.(string)
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			// Spec: invalid patterns are silently false for that row.
			return false
		}
		return re.MatchString(sv)
	default:
		return false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func looseEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareOrdered(a, b any, op Op) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch op {
		case OpGt:
			return af > bf
		case OpGte:
			return af >= bf
		case OpLt:
			return af < bf
		case OpLte:
			return af <= bf
		}
		return false
	}
	as, aok := asString(a)
	bs, bok := asString(b)
	if aok && bok {
		switch op {
		case OpGt:
			return as > bs
		case OpGte:
			return as >= bs
		case OpLt:
			return as < bs
		case OpLte:
			return as <= bs
		}
	}
	return false
}

// SortSpec orders query results by one field. The "priority" field is
// special-cased to the explicit semantic rank (critical=4 ... low=1);
// every other field sorts by natural string/number comparison.
type SortSpec struct {
	Field     string
	Ascending bool
}

// Pagination selects the [Offset, Offset+Limit) slice of a post-filter
// result set. Limit <= 0 means "no limit."
type Pagination struct {
	Offset int
	Limit  int
}

// priorityRank mirrors domain.PriorityRank's critical=4..low=1 scale.
// Duplicated rather than imported: this package sits below internal/domain
// in the dependency graph (domain re-exports Filter/SortSpec from here),
// so it cannot import domain back without a cycle.
func priorityRank(p string) int {
	switch p {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

func sortValue(m map[string]any, field string) (float64, string, bool) {
	if field == "priority" {
		if v, ok := fieldValue(m, field); ok {
			if s, ok := v.(string); ok {
				return float64(priorityRank(s)), "", true
			}
		}
		return 0, "", true
	}
	v, ok := fieldValue(m, field)
	if !ok {
		return 0, "", false
	}
	if f, ok := asFloat(v); ok {
		return f, "", true
	}
	if s, ok := asString(v); ok {
		return 0, s, true
	}
	return 0, "", false
}
