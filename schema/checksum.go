package schema

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/types"
)

// Checksum returns the interface checksum. Both sides of a binding compute
// it from their own copy of the interface; any change to a function's id,
// name or signature changes it. The version string is not part of it.
func (i *Interface) Checksum() uint64 { return i.checksum }

// FFINamespace returns the symbol namespace derived from the checksum, so
// that glue generated for a different interface fails to link.
func (i *Interface) FFINamespace() string {
	return fmt.Sprintf("%s_%d", i.Doc.Namespace, i.checksum&0xFFFF)
}

// FunctionChecksum hashes one function's canonical signature to 16 bits.
func FunctionChecksum(def *dispatch.FuncDef) uint16 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(functionSignature(def)))
	return uint16(h.Sum64() & 0xFFFF)
}

// ErrorTypeID identifies a declared error enum on the wire.
func ErrorTypeID(d *types.Descriptor) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(d.Signature()))
	return h.Sum32()
}

func checksumOf(namespace string, defs []dispatch.FuncDef, callbacks []dispatch.CallbackInterface) uint64 {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{'\n'})
	}
	write("namespace " + namespace)
	for i := range defs {
		write(fmt.Sprintf("%d %s", defs[i].ID, functionSignature(&defs[i])))
	}
	for _, ci := range callbacks {
		write("callback " + ci.Name)
		for idx, m := range ci.Methods {
			write(fmt.Sprintf("  %d %s", idx, signature(m.Name, m.Params, m.Returns, m.Throws, false)))
		}
	}
	return h.Sum64()
}

func functionSignature(def *dispatch.FuncDef) string {
	return signature(def.Name, def.Params, def.Returns, def.Throws, def.Async)
}

func signature(name string, params []types.Field, returns, throws *types.Descriptor, async bool) string {
	var b strings.Builder
	if async {
		b.WriteString("async ")
	}
	b.WriteString(name)
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(p.Type.Signature())
	}
	b.WriteByte(')')
	if returns != nil {
		b.WriteString(" -> ")
		b.WriteString(returns.Signature())
	}
	if throws != nil {
		b.WriteString(" throws ")
		b.WriteString(throws.Signature())
	}
	return b.String()
}
