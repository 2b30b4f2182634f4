// Package flatten converts nested documents to and from dotted-key maps.
// The CSV exporter and the locale cascade rely on the round trip being
// lossless for scalar and nested-object fields.
package flatten

import (
	"sort"
	"strconv"
	"strings"
)

// Delimiter separates path segments in flattened keys.
const Delimiter = "."

// Flatten converts nested maps and slices into a single-level map with
// dotted keys. Slice elements are keyed by index.
func Flatten(value map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", value)
	return out
}

func flattenInto(out map[string]any, prefix string, value any) {
	switch t := value.(type) {
	case map[string]any:
		if len(t) == 0 && prefix != "" {
			out[prefix] = map[string]any{}
			return
		}
		for k, v := range t {
			key := k
			if prefix != "" {
				key = prefix + Delimiter + k
			}
			flattenInto(out, key, v)
		}
	case []any:
		if len(t) == 0 && prefix != "" {
			out[prefix] = []any{}
			return
		}
		for i, v := range t {
			key := strconv.Itoa(i)
			if prefix != "" {
				key = prefix + Delimiter + key
			}
			flattenInto(out, key, v)
		}
	default:
		out[prefix] = value
	}
}

// Unflatten reverses Flatten. Keys whose segments are consecutive integers
// starting at zero become slices.
func Unflatten(flat map[string]any) map[string]any {
	root := make(map[string]any)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts := strings.Split(key, Delimiter)
		node := root
		for i, part := range parts {
			if i == len(parts)-1 {
				node[part] = flat[key]
				continue
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
	}
	return liftSlices(root).(map[string]any)
}

// liftSlices rewrites maps keyed 0..n-1 as slices, depth first.
func liftSlices(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	for k, v := range m {
		m[k] = liftSlices(v)
	}
	if len(m) == 0 {
		return m
	}
	slice := make([]any, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= len(m) {
			return m
		}
		slice[idx] = v
	}
	return slice
}

// Merge deep-merges source into a copy of target: nested maps merge
// recursively, everything else is replaced by the source value.
func Merge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target))
	for k, v := range target {
		out[k] = v
	}
	for k, v := range source {
		sourceMap, sourceIsMap := v.(map[string]any)
		targetMap, targetIsMap := out[k].(map[string]any)
		if sourceIsMap && targetIsMap {
			out[k] = Merge(targetMap, sourceMap)
			continue
		}
		out[k] = v
	}
	return out
}

// FilterKeys keeps only the listed keys, which may be dotted paths into
// nested maps. Used to extract locale-governed fields for the cascade.
func FilterKeys(target map[string]any, keys []string) map[string]any {
	out := make(map[string]any)
	for _, key := range keys {
		head, rest, nested := strings.Cut(key, Delimiter)
		value, ok := target[head]
		if !ok {
			continue
		}
		if !nested {
			out[head] = value
			continue
		}
		child, ok := value.(map[string]any)
		if !ok {
			continue
		}
		filtered := FilterKeys(child, []string{rest})
		if len(filtered) == 0 {
			continue
		}
		if existing, ok := out[head].(map[string]any); ok {
			out[head] = Merge(existing, filtered)
		} else {
			out[head] = filtered
		}
	}
	return out
}

// WithoutKeys returns a copy of target without the listed top-level keys.
func WithoutKeys(target map[string]any, keys []string) map[string]any {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := make(map[string]any, len(target))
	for k, v := range target {
		if _, skip := drop[k]; skip {
			continue
		}
		out[k] = v
	}
	return out
}
