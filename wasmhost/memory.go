package wasmhost

import (
	"github.com/tetratelabs/wazero/api"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
)

// guestMemory adapts a guest's linear memory. Multi-byte values use the
// little-endian order of wasm itself; only buffer payloads are big-endian.
type guestMemory struct {
	mem api.Memory
}

var (
	_ ffibridge.Memory      = guestMemory{}
	_ ffibridge.MemorySizer = guestMemory{}
)

func outOfBounds(op string, offset, length uint32) error {
	return errors.New(errors.PhaseHost, errors.KindOutOfBounds).
		Detail("%s out of bounds: offset=%d, length=%d", op, offset, length).
		Build()
}

func (m guestMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Read copies length bytes out of guest memory.
func (m guestMemory) Read(offset, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, outOfBounds("read", offset, length)
	}
	view, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds("read", offset, length)
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

func (m guestMemory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return outOfBounds("write", offset, uint32(len(data)))
	}
	return nil
}

func (m guestMemory) ReadU32(offset uint32) (uint32, error) {
	if m.mem == nil {
		return 0, outOfBounds("read", offset, 4)
	}
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds("read", offset, 4)
	}
	return v, nil
}

func (m guestMemory) WriteU32(offset uint32, value uint32) error {
	if m.mem == nil || !m.mem.WriteUint32Le(offset, value) {
		return outOfBounds("write", offset, 4)
	}
	return nil
}

func (m guestMemory) WriteU64(offset uint32, value uint64) error {
	if m.mem == nil || !m.mem.WriteUint64Le(offset, value) {
		return outOfBounds("write", offset, 8)
	}
	return nil
}

// fits reports whether [offset, offset+n) lies inside memory.
func fits(m ffibridge.Memory, offset, n uint32) bool {
	s, ok := m.(ffibridge.MemorySizer)
	if !ok {
		return true
	}
	return uint64(offset)+uint64(n) <= uint64(s.Size())
}
