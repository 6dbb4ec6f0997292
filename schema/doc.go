// Package schema loads component interface descriptions.
//
// A description is a JSON document naming the records, enums, declared
// errors, objects, functions and callback interfaces of one interface.
// Types are written as expressions:
//
//	u32  string  bytes  duration  timestamp
//	option<T>  list<T>  map<K, V>  <record, enum, error or object name>
//
// Resolve checks the document and turns it into descriptors and
// dispatch.FuncDef values ready for dispatch.BindHost.
//
// Both sides of a binding compute Checksum from their copy of the interface.
// CheckCompatible refuses to pair native code and foreign glue whose
// interfaces differ, and FFINamespace embeds the checksum in symbol names so
// mismatched glue fails to link at all.
package schema
