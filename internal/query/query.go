// Package query compiles the request query-string mini-language into a
// structured Spec consumed by the resource controllers. Reserved keys
// control pagination, ordering, population, projection, and locale;
// every other key becomes a filter condition.
package query

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/atelierhq/atelier/internal/docstore"
)

// Reserved query-string keys. Anything else is a filter key.
const (
	KeySkip     = "_skip"
	KeyLimit    = "_limit"
	KeySort     = "_sort"
	KeyPopulate = "_populate"
	KeySelect   = "_select"
	KeyLocale   = "_locale"
	KeyClear    = "_clear"
	KeyOr       = "_or"
)

// Spec is the compiled request intent.
type Spec struct {
	Skip     int
	Limit    int
	Sort     []docstore.SortField
	Populate []string
	Select   []string
	Clear    bool
	Locale   string
	Filter   docstore.Filter
}

// Options pins find pagination and ordering for the persistence layer.
func (s Spec) Options() docstore.FindOptions {
	return docstore.FindOptions{Skip: s.Skip, Limit: s.Limit, Sort: s.Sort}
}

// Parse compiles raw query parameters. Malformed numeric values fall
// back to zero; the locale rule always contributes a filter condition
// so list operations never mix default records with locale variants.
func Parse(values url.Values) Spec {
	spec := Spec{
		Sort: []docstore.SortField{{Field: "createdAt", Desc: true}},
	}

	if raw := values.Get(KeySkip); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			spec.Skip = n
		}
	}
	if raw := values.Get(KeyLimit); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			spec.Limit = n
		}
	}
	if tokens, ok := values[KeySort]; ok && len(tokens) > 0 {
		spec.Sort = parseSort(tokens)
	}
	spec.Populate = parseParams(values[KeyPopulate])
	spec.Select = parseParams(values[KeySelect])
	_, spec.Clear = values[KeyClear]
	spec.Locale = values.Get(KeyLocale)

	spec.Filter = parseFilter(values)
	if spec.Locale == "" {
		spec.Filter = spec.Filter.WhereOp("i18n", docstore.OpNotExists, nil)
	} else {
		spec.Filter = spec.Filter.Where("i18n.locale", spec.Locale)
	}

	return spec
}

func parseSort(tokens []string) []docstore.SortField {
	fields := make([]docstore.SortField, 0, len(tokens))
	for _, token := range tokens {
		name, dir, _ := strings.Cut(token, ":")
		if name == "" {
			continue
		}
		fields = append(fields, docstore.SortField{Field: name, Desc: dir == "desc"})
	}
	return fields
}

// parseParams JSON-decodes each token when possible, so callers can pass
// structured population specs, and keeps plain field names as literals.
func parseParams(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	params := make([]string, 0, len(tokens))
	for _, token := range tokens {
		var decoded string
		if err := json.Unmarshal([]byte(token), &decoded); err == nil {
			params = append(params, decoded)
			continue
		}
		params = append(params, token)
	}
	return params
}

func parseFilter(values url.Values) docstore.Filter {
	var filter docstore.Filter
	for key, raw := range values {
		switch key {
		case KeySkip, KeyLimit, KeySort, KeyPopulate, KeySelect, KeyLocale, KeyClear:
			continue
		case KeyOr:
			filter.Or = append(filter.Or, parseOr(raw)...)
			continue
		}
		filter.Conds = append(filter.Conds, parseCond(key, raw))
	}
	return filter
}

// parseOr accepts repeated _or values, each a JSON object of fragments
// parsed with the same scalar rules as top-level filter keys.
func parseOr(raw []string) []docstore.Filter {
	var branches []docstore.Filter
	for _, token := range raw {
		var fragment map[string]string
		if err := json.Unmarshal([]byte(token), &fragment); err != nil {
			continue
		}
		var branch docstore.Filter
		for key, value := range fragment {
			branch.Conds = append(branch.Conds, parseCond(key, []string{value}))
		}
		if len(branch.Conds) > 0 {
			branches = append(branches, branch)
		}
	}
	return branches
}

// parseCond maps one filter key with its raw values to a condition.
// A repeated key becomes a set membership test.
func parseCond(key string, raw []string) docstore.Cond {
	if len(raw) > 1 {
		values := make([]any, 0, len(raw))
		for _, v := range raw {
			values = append(values, coerce(stripOperator(v)))
		}
		return docstore.Cond{Field: key, Op: docstore.OpIn, Value: values}
	}

	value := ""
	if len(raw) == 1 {
		value = raw[0]
	}
	switch {
	case value == "":
		return docstore.Cond{Field: key, Op: docstore.OpExists}
	case value == "!":
		return docstore.Cond{Field: key, Op: docstore.OpNotExists}
	case strings.HasPrefix(value, "!"):
		return docstore.Cond{Field: key, Op: docstore.OpNe, Value: coerce(value[1:])}
	case strings.HasPrefix(value, ">="):
		return docstore.Cond{Field: key, Op: docstore.OpGte, Value: coerce(value[2:])}
	case strings.HasPrefix(value, "<="):
		return docstore.Cond{Field: key, Op: docstore.OpLte, Value: coerce(value[2:])}
	case strings.HasPrefix(value, ">"):
		return docstore.Cond{Field: key, Op: docstore.OpGt, Value: coerce(value[1:])}
	case strings.HasPrefix(value, "<"):
		return docstore.Cond{Field: key, Op: docstore.OpLt, Value: coerce(value[1:])}
	case strings.HasPrefix(value, "~"):
		return docstore.Cond{Field: key, Op: docstore.OpRegex, Value: value[1:]}
	default:
		return docstore.Cond{Field: key, Op: docstore.OpEq, Value: coerce(value)}
	}
}

func stripOperator(value string) string {
	for _, prefix := range []string{">=", "<=", "!", ">", "<", "~"} {
		if strings.HasPrefix(value, prefix) {
			return value[len(prefix):]
		}
	}
	return value
}

// coerce turns query-string scalars into typed values: booleans and
// numbers are recognized, everything else stays a string.
func coerce(value string) any {
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	return value
}
