package docstore

import (
	"regexp"
	"strings"
	"time"
)

// Op identifies a comparison operator inside a filter condition.
type Op string

const (
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpGt        Op = "gt"
	OpGte       Op = "gte"
	OpLt        Op = "lt"
	OpLte       Op = "lte"
	OpIn        Op = "in"
	OpRegex     Op = "regex"
	OpExists    Op = "exists"
	OpNotExists Op = "nexists"
)

// Cond is one field comparison. Field may be a dotted path.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions with an optional disjunction of
// sub-filters: all Conds must hold, and when Or is non-empty at least one
// branch must hold too.
type Filter struct {
	Conds []Cond
	Or    []Filter
}

// Where appends an equality condition and returns the filter for chaining.
func (f Filter) Where(field string, value any) Filter {
	f.Conds = append(f.Conds, Cond{Field: field, Op: OpEq, Value: value})
	return f
}

// WhereOp appends a condition with an explicit operator.
func (f Filter) WhereOp(field string, op Op, value any) Filter {
	f.Conds = append(f.Conds, Cond{Field: field, Op: op, Value: value})
	return f
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return len(f.Conds) == 0 && len(f.Or) == 0
}

// Matches evaluates the filter against a document in memory.
func (f Filter) Matches(doc Document) bool {
	for _, cond := range f.Conds {
		if !cond.matches(doc) {
			return false
		}
	}
	if len(f.Or) > 0 {
		for _, branch := range f.Or {
			if branch.Matches(doc) {
				return true
			}
		}
		return false
	}
	return true
}

func (c Cond) matches(doc Document) bool {
	value, present := Lookup(doc, c.Field)
	switch c.Op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}
	if !present {
		return c.Op == OpNe
	}
	switch c.Op {
	case OpEq:
		return equalValues(value, c.Value)
	case OpNe:
		return !equalValues(value, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		ord, ok := compareValues(value, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return ord > 0
		case OpGte:
			return ord >= 0
		case OpLt:
			return ord < 0
		default:
			return ord <= 0
		}
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, candidate := range values {
			if equalValues(value, candidate) {
				return true
			}
		}
		return false
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false
		}
		str, ok := value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return false
		}
		return re.MatchString(str)
	}
	return false
}

// Lookup resolves a dotted field path inside a document.
func Lookup(doc Document, path string) (any, bool) {
	var current any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}

func equalValues(a, b any) bool {
	if ord, ok := compareValues(a, b); ok {
		return ord == 0
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return false
}

// compareValues orders two scalars of compatible type. Numbers compare
// numerically, strings lexically (which orders RFC 3339 timestamps
// chronologically), times chronologically.
func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
