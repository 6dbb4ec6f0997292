package runtime

import (
	"sync/atomic"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

const bufferInterface = "buffer"

type parked struct {
	buf atomic.Pointer[buffer.Buffer]
}

func (p *parked) Destroy() {
	if b := p.buf.Swap(nil); b != nil {
		b.Release()
	}
}

// Buffers holds byte buffers lent to foreign code. Each buffer is addressed
// by a token, a handle in the store's own table, and is released on Free.
type Buffers struct {
	table *handle.Table
}

func newBuffers() *Buffers {
	return &Buffers{table: handle.NewTable()}
}

// Park stores buf and returns its token. The store owns buf afterwards.
func (s *Buffers) Park(buf *buffer.Buffer) (handle.Handle, error) {
	p := &parked{}
	p.buf.Store(buf)
	return s.table.InsertTyped(p, bufferInterface)
}

// Alloc parks an empty buffer with at least size bytes of capacity.
func (s *Buffers) Alloc(size int) (handle.Handle, error) {
	if size < 0 {
		return 0, errors.InvalidInput(errors.PhaseHost, "negative buffer size")
	}
	return s.Park(buffer.New(size))
}

// FromBytes parks a copy of p.
func (s *Buffers) FromBytes(p []byte) (handle.Handle, error) {
	return s.Park(buffer.FromBytes(p))
}

func (s *Buffers) get(token handle.Handle) (*buffer.Buffer, error) {
	v, err := s.table.BorrowTyped(token, bufferInterface)
	if err != nil {
		return nil, err
	}
	b := v.(*parked).buf.Load()
	if b == nil {
		return nil, errors.UseAfterFree(uint64(token), "buffer")
	}
	return b, nil
}

// Reserve grows the buffer so n more bytes fit without reallocating.
func (s *Buffers) Reserve(token handle.Handle, n int) error {
	if n < 0 {
		return errors.InvalidInput(errors.PhaseHost, "negative reserve")
	}
	b, err := s.get(token)
	if err != nil {
		return err
	}
	b.Reserve(n)
	return nil
}

// Bytes returns the unread content. The slice is valid until the buffer is
// freed or written to.
func (s *Buffers) Bytes(token handle.Handle) ([]byte, error) {
	b, err := s.get(token)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Len returns the unread length.
func (s *Buffers) Len(token handle.Handle) (int, error) {
	b, err := s.get(token)
	if err != nil {
		return 0, err
	}
	return b.Len(), nil
}

// Take removes the buffer from the store and hands it to the caller, who
// must Release it.
func (s *Buffers) Take(token handle.Handle) (*buffer.Buffer, error) {
	v, err := s.table.BorrowTyped(token, bufferInterface)
	if err != nil {
		return nil, err
	}
	b := v.(*parked).buf.Swap(nil)
	if b == nil {
		return nil, errors.UseAfterFree(uint64(token), "take")
	}
	if err := s.table.Release(token); err != nil {
		return nil, err
	}
	return b, nil
}

// Free releases the buffer. Freeing a token twice is a handle error.
func (s *Buffers) Free(token handle.Handle) error {
	return s.table.Release(token)
}

// Outstanding returns the number of parked buffers.
func (s *Buffers) Outstanding() int { return s.table.Len() }

func (s *Buffers) close() error { return s.table.Close() }
