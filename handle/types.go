package handle

import "fmt"

// Handle is an opaque reference to a native object in a table.
// Handle 0 is reserved and always invalid.
//
// The top 16 bits carry the issuing table's tag, the low 48 bits a sequence
// number that only ever increases, so an id is never handed out twice.
type Handle uint64

const (
	seqBits = 48
	seqMask = 1<<seqBits - 1
)

// Tag returns the issuing table's tag.
func (h Handle) Tag() uint16 { return uint16(h >> seqBits) }

// Seq returns the per-table sequence number.
func (h Handle) Seq() uint64 { return uint64(h) & seqMask }

func (h Handle) String() string {
	return fmt.Sprintf("%04x:%d", h.Tag(), h.Seq())
}

func makeHandle(tag uint16, seq uint64) Handle {
	return Handle(uint64(tag)<<seqBits | seq&seqMask)
}

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventCloned
	EventReleased
	EventDestroyed
)

var eventNames = [...]string{
	EventCreated:   "created",
	EventCloned:    "cloned",
	EventReleased:  "released",
	EventDestroyed: "destroyed",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event represents a handle lifecycle event. Count is the reference
// count right after the operation.
type Event struct {
	Value     any
	Interface string
	Handle    Handle
	Count     int64
	Type      EventType
}

// Observer receives notifications about handle lifecycle events.
// Observers run synchronously on the goroutine performing the operation.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Destroyer is optionally implemented by objects that need cleanup when
// their last reference is released.
type Destroyer interface {
	Destroy()
}
