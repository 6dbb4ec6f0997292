package ffibridge

// ContractVersion is the version of the calling convention. Foreign glue
// compares it with the value it was generated for and refuses to run on a
// mismatch.
const ContractVersion uint32 = 1

// Memory is a foreign linear memory the bridge copies buffers in and out of.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of a linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}
