// Package transcoder lowers Go values to the bridge wire format and lifts
// them back.
//
// The wire format is self-delimiting only through the descriptor: nothing in
// the bytes names a type, so both sides must agree on the descriptor.
//
// # Encoding
//
//	Kind        Wire form
//	─────────────────────────────────────────────────
//	bool        u8 0/1
//	int         fixed width, big-endian
//	float       IEEE754, big-endian
//	string      u32 length + UTF-8 bytes
//	bytes       u32 length + raw bytes
//	option<T>   u8 presence (0/1) + T
//	list<T>     u32 count + elements
//	map<K, V>   u32 count + key/value pairs in order
//	record      fields in declaration order, no tags
//	enum        u32 discriminant + variant fields
//	object      u64 handle
//	duration    u64 seconds + u32 nanoseconds
//	timestamp   i64 seconds since epoch + u32 nanoseconds
//
// # Value Model
//
// Lift produces a dynamic representation: []any for sequences, Map for
// mappings, map[string]any for records, Variant for enums and handle.Handle
// for objects. Lower accepts the same shapes plus typed Go values: structs
// (matched through a cached Plan), typed slices and maps, pointers for
// optionals. Decoder.Assign converts a lifted value into a typed Go value.
//
// # Object References
//
// Lowering an object always hands the receiver a new reference: a
// handle.Handle is cloned, any other value is inserted into the table. A
// failed encode releases every reference it minted. Lifting only checks that
// the handle is live and of the declared interface.
package transcoder
