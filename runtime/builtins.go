package runtime

import (
	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

// Entry points every binding carries besides the interface's own
// functions. Foreign glue calls them through wasmhost or its equivalent.

// ContractVersion returns the calling convention version.
func (r *Runtime) ContractVersion() uint32 { return ffibridge.ContractVersion }

// Checksum returns the interface checksum.
func (r *Runtime) Checksum() uint64 { return r.iface.Checksum() }

// FunctionChecksum returns the checksum glue compares before calling id.
func (r *Runtime) FunctionChecksum(id uint32) (uint16, error) {
	if def, ok := r.disp.Lookup(id); ok {
		return def.Checksum, nil
	}
	for _, def := range r.iface.Functions() {
		if def.ID == id {
			return def.Checksum, nil
		}
	}
	return 0, errors.UnknownFunction(id, "")
}

// CloneHandle adds a reference to an object.
func (r *Runtime) CloneHandle(h handle.Handle) (handle.Handle, error) {
	return r.objects.Clone(h)
}

// ReleaseHandle drops a reference; it is every object's free function.
func (r *Runtime) ReleaseHandle(h handle.Handle) error {
	return r.objects.Release(h)
}
