// Package buffer provides the byte container every call lowers into and lifts from.
//
// A Buffer owns its storage and tracks a read cursor and a write cursor.
// Writes grow the storage geometrically and never shrink it; reads past the
// write cursor fail with a decode error rather than returning short data.
// All multi-byte values are big-endian.
//
// Buffers are never shared between calls. Pooled buffers come from Get and go
// back with Release.
package buffer
