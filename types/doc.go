// Package types defines the Type Descriptor model shared by the codec,
// the dispatcher and the interface description.
//
// A Descriptor is a tagged variant:
//
//	Bool, Int(width, signed), Float(width), String, Bytes,
//	Optional(T), Sequence(T), Mapping(K, V),
//	Record(name, fields), Enum(name, variants), Object(interface-id),
//	Duration, Timestamp
//
// Descriptors come from the interface description and never change after
// construction. Type expressions such as "map<string, list<u32>>" are parsed
// with Parse; primitive names go through the WIT parser, and FromWIT converts
// whole WIT types.
package types
