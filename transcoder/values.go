package transcoder

import (
	"fmt"
	"sort"
	"strings"
)

// Some marks a present optional value. Lowering accepts plain values too;
// lifting only produces Some when the optional's element is itself optional,
// where nil alone could not tell the two absent levels apart.
type Some struct {
	V any
}

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   any
	Value any
}

// Map is an insertion-ordered mapping. Keys need not be comparable.
type Map []MapEntry

// Get returns the value of the first entry whose key equals k.
func (m Map) Get(k any) (any, bool) {
	for _, e := range m {
		if keyEqual(e.Key, k) {
			return e.Value, true
		}
	}
	return nil, false
}

// Keys returns keys in insertion order.
func (m Map) Keys() []any {
	keys := make([]any, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

func keyEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && string(ab) == string(bb)
	}
	defer func() { _ = recover() }()
	return a == b
}

// Variant is a lifted enum value. Fields is nil for variants without fields.
type Variant struct {
	Fields map[string]any
	Name   string
}

func (v Variant) String() string {
	if len(v.Fields) == 0 {
		return v.Name
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, v.Fields[k])
	}
	return v.Name + "{" + strings.Join(parts, ", ") + "}"
}
