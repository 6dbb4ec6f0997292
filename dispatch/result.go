package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

// Status is the outcome code of a call. Codes are part of the wire contract.
type Status uint8

const (
	StatusOk              Status = 0
	StatusErr             Status = 1 // declared domain error
	StatusDecodeError     Status = 2
	StatusPanic           Status = 3
	StatusUnknownFunction Status = 4
	StatusHandleError     Status = 5
	StatusCancelled       Status = 6
)

var statusNames = [...]string{
	StatusOk:              "ok",
	StatusErr:             "err",
	StatusDecodeError:     "decode_error",
	StatusPanic:           "panic",
	StatusUnknownFunction: "unknown_function",
	StatusHandleError:     "handle_error",
	StatusCancelled:       "cancelled",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Fatal reports whether the status signals a broken invariant that foreign
// glue must not treat as a recoverable error.
func (s Status) Fatal() bool {
	return s == StatusPanic || s == StatusUnknownFunction || s == StatusHandleError
}

// StatusOf classifies err.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOk
	}
	var de *DomainError
	if stderrors.As(err, &de) {
		return StatusErr
	}
	if stderrors.Is(err, context.Canceled) {
		return StatusCancelled
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == errors.KindCancelled {
		return StatusCancelled
	}
	switch errors.ClassOf(err) {
	case errors.ClassDecode:
		return StatusDecodeError
	case errors.ClassUnknownFunction:
		return StatusUnknownFunction
	case errors.ClassHandle:
		return StatusHandleError
	}
	return StatusPanic
}

// Result is the outcome of one dispatched call. Exactly one payload is set:
//   - Ok: Buffer with the lowered return value, Handle for object returns,
//     neither for unit functions.
//   - Err: Buffer with the lowered error value, ErrorType naming its type.
//   - any other status: Buffer with the message as a lowered string.
type Result struct {
	Buffer    *buffer.Buffer
	Minted    []handle.Handle // references created while lowering the payload
	Handle    handle.Handle
	ErrorType uint32
	Status    Status
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusOk }

// Release returns the payload buffer to the pool.
func (r *Result) Release() {
	if r.Buffer != nil {
		r.Buffer.Release()
		r.Buffer = nil
	}
}

// Discard releases the payload buffer and every reference lowering minted.
// Used when a result will never reach its receiver.
func (r *Result) Discard(table *handle.Table) {
	r.Release()
	if table == nil {
		return
	}
	for i := len(r.Minted) - 1; i >= 0; i-- {
		if err := table.Release(r.Minted[i]); err != nil {
			Logger().Warn("discard release failed",
				zap.Stringer("handle", r.Minted[i]), zap.Error(err))
		}
	}
	r.Minted = nil
	r.Handle = 0
}

// Message lifts the failure message carried by non-Ok, non-Err results.
func (r Result) Message() string {
	if r.Buffer == nil || r.Status == StatusOk || r.Status == StatusErr {
		return ""
	}
	b := buffer.FromBytes(r.Buffer.Bytes())
	n, err := b.ReadU32()
	if err != nil {
		return ""
	}
	p, err := b.ReadN(int(n))
	if err != nil {
		return ""
	}
	return string(p)
}

// Err rebuilds a Go error for failure statuses other than Err.
func (r Result) Err() error {
	msg := r.Message()
	switch r.Status {
	case StatusOk, StatusErr:
		return nil
	case StatusDecodeError:
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).Detail("%s", msg).Build()
	case StatusUnknownFunction:
		return errors.New(errors.PhaseDispatch, errors.KindUnknownFunction).Detail("%s", msg).Build()
	case StatusHandleError:
		return errors.New(errors.PhaseHandle, errors.KindInvalidHandle).Detail("%s", msg).Build()
	case StatusCancelled:
		return errors.New(errors.PhaseAsync, errors.KindCancelled).Detail("%s", msg).Build()
	}
	return errors.New(errors.PhaseDispatch, errors.KindPanic).Detail("%s", msg).Build()
}

func okUnit() Result {
	return Result{Status: StatusOk}
}

// failure builds a non-Ok result carrying err's message.
func failure(status Status, err error) Result {
	buf := buffer.Get()
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	buf.WriteU32(uint32(len(msg)))
	buf.WriteRaw([]byte(msg))
	return Result{Status: status, Buffer: buf}
}

// Failure builds a result for err, classified by StatusOf. A domain error
// without a descriptor to lower it with is reported as a panic.
func Failure(err error) Result {
	status := StatusOf(err)
	if status == StatusErr {
		status = StatusPanic
	}
	return failure(status, err)
}
