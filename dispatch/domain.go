package dispatch

import (
	"fmt"

	"github.com/wippyai/ffi-bridge/transcoder"
)

// DomainError carries a value of a function's declared error type.
// Value is lowered with the function's Throws descriptor, so it takes any
// shape the codec accepts for an enum: a transcoder.Variant, a variant name,
// or a variant index.
type DomainError struct {
	Value any
}

// Throw builds a DomainError for the named variant.
func Throw(variant string, fields map[string]any) *DomainError {
	return &DomainError{Value: transcoder.Variant{Name: variant, Fields: fields}}
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("domain error: %v", e.Value)
}

// Variant returns the error value as a Variant when it is one.
func (e *DomainError) Variant() (transcoder.Variant, bool) {
	switch v := e.Value.(type) {
	case transcoder.Variant:
		return v, true
	case string:
		return transcoder.Variant{Name: v}, true
	}
	return transcoder.Variant{}, false
}
