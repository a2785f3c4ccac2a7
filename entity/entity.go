// Package entity defines the record model the resolution engine operates on.
//
// Entities arrive already normalized: a stable identifier plus a flat
// attribute bag. Attribute values are restricted to strings and float64
// numbers so that scoring and canonical encoding stay deterministic.
package entity

import (
	"fmt"
	"sort"
	"strings"
)

// ID identifies a single source record. IDs are assigned upstream and are
// opaque to the engine; they only need to be unique and stable.
type ID string

// Attributes is a flat key/value bag. Allowed value types are string and
// float64 (ints are normalized to float64 by Validate).
type Attributes map[string]any

// Entity is an immutable source record. Cluster membership is held by the
// cluster store, never on the entity itself.
type Entity struct {
	ID         ID
	Attributes Attributes
}

// String returns the string value of an attribute, with ok=false when the
// attribute is missing or not a string.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number returns the numeric value of an attribute, with ok=false when the
// attribute is missing or not numeric.
func (a Attributes) Number(key string) (float64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Keys returns the attribute keys in sorted order.
// Deterministic iteration matters anywhere attributes feed a hash or a score.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the entity for a non-empty ID and supported attribute
// value types. Integer values are rewritten to float64 in place so that all
// downstream consumers see a single numeric type.
func (e *Entity) Validate() error {
	if e == nil {
		return fmt.Errorf("entity is nil")
	}
	if strings.TrimSpace(string(e.ID)) == "" {
		return fmt.Errorf("entity id is empty")
	}
	for k, v := range e.Attributes {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("entity %s: empty attribute key", e.ID)
		}
		switch n := v.(type) {
		case string, float64:
			// supported as-is
		case float32:
			e.Attributes[k] = float64(n)
		case int:
			e.Attributes[k] = float64(n)
		case int64:
			e.Attributes[k] = float64(n)
		case uint64:
			e.Attributes[k] = float64(n)
		default:
			return fmt.Errorf("entity %s: attribute %q has unsupported type %T", e.ID, k, v)
		}
	}
	return nil
}

// Tokens returns the lowercased, whitespace-split token set of the given
// string attributes. When fields is empty, every string attribute
// contributes. The result is sorted and deduplicated.
func (e *Entity) Tokens(fields ...string) []string {
	seen := make(map[string]struct{})

	collect := func(v string) {
		for _, tok := range strings.Fields(strings.ToLower(v)) {
			seen[tok] = struct{}{}
		}
	}

	if len(fields) == 0 {
		for _, k := range e.Attributes.Keys() {
			if s, ok := e.Attributes.String(k); ok {
				collect(s)
			}
		}
	} else {
		for _, f := range fields {
			if s, ok := e.Attributes.String(f); ok {
				collect(s)
			}
		}
	}

	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}
