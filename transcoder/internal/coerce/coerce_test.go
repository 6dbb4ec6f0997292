package coerce

import (
	"math"
	"testing"
)

type level int16

func TestInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int8(-5), -5, true},
		{uint32(7), 7, true},
		{uint64(math.MaxUint64), 0, false},
		{float64(42), 42, true},
		{float64(1.5), 0, false},
		{float32(-3), -3, true},
		{level(9), 9, true},
		{"9", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := Int64(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Int64(%v %T) = %d, %v; want %d, %v", tt.in, tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUint64(t *testing.T) {
	tests := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{uint64(math.MaxUint64), math.MaxUint64, true},
		{int(-1), 0, false},
		{int64(12), 12, true},
		{float64(-1), 0, false},
		{float64(3), 3, true},
		{level(2), 2, true},
		{level(-2), 0, false},
	}
	for _, tt := range tests {
		got, ok := Uint64(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Uint64(%v %T) = %d, %v; want %d, %v", tt.in, tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFloat64(t *testing.T) {
	if f, ok := Float64(float32(0.5)); !ok || f != 0.5 {
		t.Errorf("Float64(float32) = %v, %v", f, ok)
	}
	if f, ok := Float64(3); !ok || f != 3 {
		t.Errorf("Float64(int) = %v, %v", f, ok)
	}
	if _, ok := Float64(int64(1) << 60); ok {
		t.Error("Float64 should reject integers beyond 2^53")
	}
	if _, ok := Float64("x"); ok {
		t.Error("Float64 should reject strings")
	}
}

func TestFits(t *testing.T) {
	if !FitsSigned(-128, 8) || FitsSigned(128, 8) || FitsSigned(-129, 8) {
		t.Error("FitsSigned(8) bounds wrong")
	}
	if !FitsSigned(math.MinInt64, 64) {
		t.Error("FitsSigned(64) should accept everything")
	}
	if !FitsUnsigned(255, 8) || FitsUnsigned(256, 8) {
		t.Error("FitsUnsigned(8) bounds wrong")
	}
	if !FitsUnsigned(math.MaxUint32, 32) || FitsUnsigned(math.MaxUint32+1, 32) {
		t.Error("FitsUnsigned(32) bounds wrong")
	}
}

func TestTypeName(t *testing.T) {
	if TypeName(nil) != "nil" {
		t.Error("TypeName(nil)")
	}
	if TypeName(level(1)) != "coerce.level" {
		t.Errorf("TypeName(level) = %s", TypeName(level(1)))
	}
}
