// Package coerce converts loosely typed Go numbers into the exact widths the
// wire format needs, rejecting anything that would lose information.
package coerce

import (
	"math"
	"reflect"
)

// Int64 handles every Go integer, JSON-decoded numbers (float64), and named
// integer types.
func Int64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return int64(v), true
		}
		return 0, false
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v), true
		}
		return 0, false
	case float64:
		if v >= math.MinInt64 && v < math.MaxInt64 && v == math.Trunc(v) {
			return int64(v), true
		}
		return 0, false
	case float32:
		f := float64(v)
		if f >= math.MinInt64 && f < math.MaxInt64 && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case nil:
		return 0, false
	}
	return reflectInt64(reflect.ValueOf(value))
}

// Uint64 is the unsigned counterpart of Int64.
func Uint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint64:
		return v, true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case int8, int16, int32, int, int64:
		i, _ := Int64(v)
		if i >= 0 {
			return uint64(i), true
		}
		return 0, false
	case float64:
		if v >= 0 && v < math.MaxUint64 && v == math.Trunc(v) {
			return uint64(v), true
		}
		return 0, false
	case float32:
		f := float64(v)
		if f >= 0 && f < math.MaxUint64 && f == math.Trunc(f) {
			return uint64(f), true
		}
		return 0, false
	case nil:
		return 0, false
	}
	return reflectUint64(reflect.ValueOf(value))
}

// Float64 accepts floats and integers that convert exactly.
func Float64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case nil:
		return 0, false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if i, ok := Int64(value); ok && i >= -(1<<53) && i <= 1<<53 {
		return float64(i), true
	}
	return 0, false
}

func reflectInt64(rv reflect.Value) (int64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u), true
		}
	}
	return 0, false
}

func reflectUint64(rv reflect.Value) (uint64, bool) {
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i := rv.Int(); i >= 0 {
			return uint64(i), true
		}
	}
	return 0, false
}

// FitsSigned reports whether v fits a signed integer of width bits.
func FitsSigned(v int64, width uint8) bool {
	if width >= 64 {
		return true
	}
	limit := int64(1) << (width - 1)
	return v >= -limit && v < limit
}

// FitsUnsigned reports whether v fits an unsigned integer of width bits.
func FitsUnsigned(v uint64, width uint8) bool {
	if width >= 64 {
		return true
	}
	return v < uint64(1)<<width
}

// TypeName returns "nil" for nil values, avoiding reflect.TypeOf(nil) panic.
func TypeName(value any) string {
	if value == nil {
		return "nil"
	}
	return reflect.TypeOf(value).String()
}
