package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// setPath writes value at a dotted path inside doc, creating intermediate
// maps as needed.
func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// getPath reads the value at a dotted path, reporting whether it exists.
func getPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	v, ok := cur[parts[len(parts)-1]]
	return v, ok
}

// incrPath adds delta to the integer at a dotted path, treating a missing
// field as zero, and returns the new value. Fails on non-numeric fields.
func incrPath(doc map[string]any, path string, delta int64) (int64, error) {
	cur, ok := getPath(doc, path)
	var base int64
	if ok {
		n, err := toInt64(cur)
		if err != nil {
			return 0, fmt.Errorf("field %q is not a counter: %w", path, err)
		}
		base = n
	}
	next := base + delta
	setPath(doc, path, next)
	return next, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// Flatten converts a nested document into dotted field paths, the shape the
// redis backend stores as hash fields. Empty maps flatten to nothing.
func Flatten(doc map[string]any) map[string]any {
	out := map[string]any{}
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, v any) {
	if m, ok := v.(map[string]any); ok && len(m) > 0 {
		for k, child := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(out, key, child)
		}
		return
	}
	if prefix != "" {
		out[prefix] = v
	}
}

// Unflatten rebuilds a nested document from dotted field paths.
func Unflatten(fields map[string]any) map[string]any {
	doc := map[string]any{}
	for path, v := range fields {
		setPath(doc, path, v)
	}
	return doc
}
