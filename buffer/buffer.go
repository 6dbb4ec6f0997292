package buffer

import (
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/wippyai/ffi-bridge/errors"
)

const (
	// Pool limits to prevent memory bloat
	poolInitCap = 256
	poolMaxCap  = 64 << 10
)

// Buffer is a growable byte container with independent read and write cursors.
// Invariant: 0 <= r <= w <= cap(data). A Buffer is owned by a single call and
// is not safe for concurrent use.
type Buffer struct {
	data []byte
	r, w int
}

var bufferPool = sync.Pool{
	New: func() any {
		return &Buffer{data: make([]byte, poolInitCap)}
	},
}

// New returns an empty buffer with at least the given capacity.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Get returns an empty pooled buffer. Call Release when done.
func Get() *Buffer {
	return bufferPool.Get().(*Buffer)
}

// FromBytes returns a buffer holding a copy of p, ready to read.
func FromBytes(p []byte) *Buffer {
	data := make([]byte, len(p))
	copy(data, p)
	return &Buffer{data: data, w: len(p)}
}

// Wrap takes ownership of p without copying.
func Wrap(p []byte) *Buffer {
	return &Buffer{data: p[:cap(p)], w: len(p)}
}

// Release resets the buffer and returns it to the pool.
// The buffer must not be used afterwards.
func (b *Buffer) Release() {
	if b == nil || cap(b.data) > poolMaxCap {
		return
	}
	b.Reset()
	bufferPool.Put(b)
}

// Reset discards all content, keeping capacity.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Cap returns the capacity of the underlying storage.
func (b *Buffer) Cap() int { return len(b.data) }

// ReadOffset returns the read cursor.
func (b *Buffer) ReadOffset() int { return b.r }

// WriteOffset returns the write cursor, which is also the encoded length.
func (b *Buffer) WriteOffset() int { return b.w }

// Bytes returns the unread portion. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.r:b.w] }

// Written returns everything written so far, including already read bytes.
func (b *Buffer) Written() []byte { return b.data[:b.w] }

// Reserve ensures room for n more bytes without further growth.
func (b *Buffer) Reserve(n int) {
	if n <= len(b.data)-b.w {
		return
	}
	need := b.w + n
	newCap := 2 * len(b.data)
	if newCap < need {
		newCap = need
	}
	if newCap < 64 {
		newCap = 64
	}
	data := make([]byte, newCap)
	copy(data, b.data[:b.w])
	b.data = data
}

// Truncate discards written bytes past offset w. Offsets outside
// [ReadOffset, WriteOffset] are ignored.
func (b *Buffer) Truncate(w int) {
	if w >= b.r && w <= b.w {
		b.w = w
	}
}

func (b *Buffer) claim(n int) []byte {
	b.Reserve(n)
	p := b.data[b.w : b.w+n]
	b.w += n
	return p
}

func (b *Buffer) WriteU8(v uint8) {
	b.claim(1)[0] = v
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteU8(1)
	} else {
		b.WriteU8(0)
	}
}

func (b *Buffer) WriteU16(v uint16) {
	binary.BigEndian.PutUint16(b.claim(2), v)
}

func (b *Buffer) WriteU32(v uint32) {
	binary.BigEndian.PutUint32(b.claim(4), v)
}

func (b *Buffer) WriteU64(v uint64) {
	binary.BigEndian.PutUint64(b.claim(8), v)
}

func (b *Buffer) WriteF32(v float32) {
	b.WriteU32(math.Float32bits(v))
}

func (b *Buffer) WriteF64(v float64) {
	b.WriteU64(math.Float64bits(v))
}

// WriteRaw appends p without a length prefix.
func (b *Buffer) WriteRaw(p []byte) {
	copy(b.claim(len(p)), p)
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.WriteRaw(p)
	return len(p), nil
}

func (b *Buffer) need(n int) error {
	if n < 0 || b.w-b.r < n {
		return errors.Truncated(nil, n, b.w-b.r)
	}
	return nil
}

func (b *Buffer) ReadU8() (uint8, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.data[b.r]
	b.r++
	return v, nil
}

func (b *Buffer) ReadU16() (uint16, error) {
	if err := b.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.data[b.r:])
	b.r += 2
	return v, nil
}

func (b *Buffer) ReadU32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.r:])
	b.r += 4
	return v, nil
}

func (b *Buffer) ReadU64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.data[b.r:])
	b.r += 8
	return v, nil
}

func (b *Buffer) ReadF32() (float32, error) {
	v, err := b.ReadU32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadF64() (float64, error) {
	v, err := b.ReadU64()
	return math.Float64frombits(v), err
}

// ReadN returns the next n bytes. The slice aliases the buffer.
func (b *Buffer) ReadN(n int) ([]byte, error) {
	if err := b.need(n); err != nil {
		return nil, err
	}
	p := b.data[b.r : b.r+n]
	b.r += n
	return p, nil
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.r == b.w && len(p) > 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.r:b.w])
	b.r += n
	return n, nil
}
