package types

type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	KindOptional
	KindSequence
	KindMapping
	KindRecord
	KindEnum
	KindObject
	KindDuration
	KindTimestamp
)

var kindNames = [...]string{
	KindBool:      "bool",
	KindInt:       "int",
	KindFloat:     "float",
	KindString:    "string",
	KindBytes:     "bytes",
	KindOptional:  "option",
	KindSequence:  "list",
	KindMapping:   "map",
	KindRecord:    "record",
	KindEnum:      "enum",
	KindObject:    "object",
	KindDuration:  "duration",
	KindTimestamp: "timestamp",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsPrimitive reports whether values of the kind have a fixed wire width.
func (k Kind) IsPrimitive() bool {
	switch k {
	case KindBool, KindInt, KindFloat, KindDuration, KindTimestamp:
		return true
	}
	return false
}

// IsNamed reports whether descriptors of the kind carry a declared name.
func (k Kind) IsNamed() bool {
	return k == KindRecord || k == KindEnum || k == KindObject
}
