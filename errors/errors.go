package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode   Phase = "encode"   // native value to wire (lowering)
	PhaseDecode   Phase = "decode"   // wire to native value (lifting)
	PhaseValidate Phase = "validate" // descriptor and value validation
	PhaseDispatch Phase = "dispatch" // call dispatch
	PhaseHandle   Phase = "handle"   // handle table operations
	PhaseAsync    Phase = "async"    // task bridge
	PhaseSchema   Phase = "schema"   // interface description
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseHost     Phase = "host"     // host binding and wasm host module
	PhaseParse    Phase = "parse"    // type expression parsing
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch    Kind = "type_mismatch"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindTruncated       Kind = "truncated"
	KindInvalidData     Kind = "invalid_data"
	KindUnsupported     Kind = "unsupported"
	KindFieldMissing    Kind = "field_missing"
	KindFieldUnknown    Kind = "field_unknown"
	KindInvalidUTF8     Kind = "invalid_utf8"
	KindOverflow        Kind = "overflow"
	KindNilPointer      Kind = "nil_pointer"
	KindInvalidVariant  Kind = "invalid_variant"
	KindLimitExceeded   Kind = "limit_exceeded"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindRegistration    Kind = "registration"
	KindMissingImpl     Kind = "missing_implementation"
	KindIncompatible    Kind = "incompatible"
	KindUnknownFunction Kind = "unknown_function"
	KindInvalidHandle   Kind = "invalid_handle"
	KindUseAfterFree    Kind = "use_after_free"
	KindDoubleFree      Kind = "double_free"
	KindWrongInterface  Kind = "wrong_interface"
	KindExhausted       Kind = "exhausted"
	KindDomain          Kind = "domain_error"
	KindPanic           Kind = "panic"
	KindCancelled       Kind = "cancelled"
	KindAlreadyConsumed Kind = "already_consumed"
)

// Class is the boundary-level classification of a failure.
// Foreign glue only ever needs the class to decide between
// returning an error value and aborting.
type Class int

const (
	ClassNone Class = iota
	ClassDecode
	ClassUnknownFunction
	ClassHandle
	ClassNativeOperation
	ClassPanic
)

var classNames = [...]string{
	ClassNone:            "none",
	ClassDecode:          "decode_error",
	ClassUnknownFunction: "unknown_function",
	ClassHandle:          "handle_error",
	ClassNativeOperation: "native_operation_error",
	ClassPanic:           "panic_across_boundary",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Fatal reports whether the class indicates a broken invariant.
func (c Class) Fatal() bool {
	return c == ClassUnknownFunction || c == ClassHandle || c == ClassPanic
}

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	WireType string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.WireType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.WireType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", wire type ")
			b.WriteString(e.WireType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("wire type ")
			b.WriteString(e.WireType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WireType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Class maps the error onto the boundary taxonomy.
func (e *Error) Class() Class {
	switch e.Kind {
	case KindUnknownFunction:
		return ClassUnknownFunction
	case KindInvalidHandle, KindUseAfterFree, KindDoubleFree, KindWrongInterface:
		return ClassHandle
	case KindPanic:
		return ClassPanic
	case KindDomain:
		return ClassNativeOperation
	}
	if e.Phase == PhaseDecode {
		return ClassDecode
	}
	return ClassNone
}

// ClassOf returns the class of the first *Error in err's chain.
func ClassOf(err error) Class {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Class()
	}
	return ClassNone
}

// IsFatal reports whether err must never be treated as retryable.
func IsFatal(err error) bool {
	return ClassOf(err).Fatal()
}

// IsDecode reports whether err is a malformed-buffer failure.
func IsDecode(err error) bool {
	return ClassOf(err) == ClassDecode
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WireType sets the descriptor rendering
func (b *Builder) WireType(t string) *Builder {
	b.err.WireType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, wireType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		GoType:   goType,
		WireType: wireType,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// Truncated creates an error for a read past the end of a buffer
func Truncated(path []string, need, have int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindTruncated,
		Path:   path,
		Detail: fmt.Sprintf("need %d bytes, %d remaining", need, have),
		Value:  need,
	}
}

// FieldMissing creates a missing field error
func FieldMissing(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldMissing,
		Path:   path,
		Detail: fmt.Sprintf("required field %q not found", fieldName),
	}
}

// InvalidDiscriminant creates an invalid discriminant error for enums and presence bytes
func InvalidDiscriminant(phase Phase, path []string, disc uint32, maxValid uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidVariant,
		Path:   path,
		Detail: fmt.Sprintf("discriminant %d out of range (max %d)", disc, maxValid),
		Value:  disc,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// LimitExceeded creates an error for a length above a configured limit
func LimitExceeded(phase Phase, path []string, what string, n, limit uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimitExceeded,
		Path:   path,
		Detail: fmt.Sprintf("%s %d exceeds limit %d", what, n, limit),
		Value:  n,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		GoType: goType,
		Detail: "nil pointer",
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		Path:     path,
		WireType: targetType,
		Detail:   fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:    value,
	}
}

// FieldUnknown creates an unknown field error
func FieldUnknown(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldUnknown,
		Path:   path,
		Detail: fmt.Sprintf("unknown field %q", fieldName),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// Incompatible creates a schema skew error
func Incompatible(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseSchema,
		Kind:   KindIncompatible,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Bridge taxonomy constructors

// UnknownFunction creates the fatal error for an id with no registration
func UnknownFunction(id uint32, hint string) *Error {
	detail := fmt.Sprintf("no function registered with id %d", id)
	if hint != "" {
		detail += "; " + hint
	}
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnknownFunction,
		Detail: detail,
		Value:  id,
	}
}

// InvalidHandle creates the fatal error for a handle the table never issued
func InvalidHandle(h uint64) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("handle %#x is not known to this table", h),
		Value:  h,
	}
}

// UseAfterFree creates the fatal error for access to a released handle
func UseAfterFree(h uint64, op string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindUseAfterFree,
		Detail: fmt.Sprintf("%s on released handle %#x", op, h),
		Value:  h,
	}
}

// DoubleFree creates the fatal error for a release past zero
func DoubleFree(h uint64) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindDoubleFree,
		Detail: fmt.Sprintf("release of already released handle %#x", h),
		Value:  h,
	}
}

// WrongInterface creates the fatal error for a handle of another interface
func WrongInterface(h uint64, want, got string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindWrongInterface,
		Detail: fmt.Sprintf("handle %#x refers to %s, expected %s", h, got, want),
		Value:  h,
	}
}

// Panic creates the error for a recovered native fault
func Panic(value any) *Error {
	var cause error
	if err, ok := value.(error); ok {
		cause = err
	}
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindPanic,
		Detail: fmt.Sprintf("native panic: %v", value),
		Value:  value,
		Cause:  cause,
	}
}

// Cancelled creates the error returned for work abandoned by request
func Cancelled(what string) *Error {
	return &Error{
		Phase:  PhaseAsync,
		Kind:   KindCancelled,
		Detail: what + " cancelled",
	}
}

// MissingImpl represents a declared function without a native implementation
type MissingImpl struct {
	Owner    string // object name, empty for free functions
	Function string
}

// MissingImplsError is returned when binding leaves declared functions unimplemented
type MissingImplsError struct {
	Namespace string
	Missing   []MissingImpl
}

// NewMissingImplsError creates an error from a list of "owner#function" keys
func NewMissingImplsError(namespace string, keys []string) *MissingImplsError {
	result := &MissingImplsError{
		Namespace: namespace,
		Missing:   make([]MissingImpl, 0, len(keys)),
	}
	for _, k := range keys {
		owner, fn, found := strings.Cut(k, "#")
		if !found {
			owner, fn = "", k
		}
		result.Missing = append(result.Missing, MissingImpl{Owner: owner, Function: fn})
	}
	return result
}

func (e *MissingImplsError) Error() string {
	if len(e.Missing) == 0 {
		return "[host] missing_implementation: no functions specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: missing %d native implementation(s):\n", e.Namespace, len(e.Missing))

	byOwner := make(map[string][]string)
	var owners []string
	for _, m := range e.Missing {
		if _, exists := byOwner[m.Owner]; !exists {
			owners = append(owners, m.Owner)
		}
		byOwner[m.Owner] = append(byOwner[m.Owner], m.Function)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		label := owner
		if label == "" {
			label = "functions"
		}
		b.WriteString("\n  ")
		b.WriteString(label)
		b.WriteString(":\n")
		for _, fn := range byOwner[owner] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImplsError) Is(target error) bool {
	_, ok := target.(*MissingImplsError)
	return ok
}
