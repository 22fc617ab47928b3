// Package jupiter implements the Jupiter client/server protocol: per-document
// engines that stamp operations with vector times, the host-side document
// servers that order and transform concurrent edits, and the registries that
// map paths to them.
//
// Every channel is a pair (participant, document server). Each side of the pair
// runs a Jupiter engine; the host holds one engine per participant (a proxy
// client) inside the document server for the path.
package jupiter

import "fmt"

// VectorTime counts, for one side of a channel, the operations it has generated
// (Local) and the operations it has received from the other side (Remote).
// A VectorTime is a value; owners only ever replace it with an incremented copy.
type VectorTime struct {
	Local  uint64 `json:"local"`
	Remote uint64 `json:"remote"`
}

// IncrementLocal returns the time after generating one more operation.
func (v VectorTime) IncrementLocal() VectorTime {
	return VectorTime{Local: v.Local + 1, Remote: v.Remote}
}

// IncrementRemote returns the time after receiving one more operation.
func (v VectorTime) IncrementRemote() VectorTime {
	return VectorTime{Local: v.Local, Remote: v.Remote + 1}
}

// Mirror returns the time as seen from the other side of the channel.
func (v VectorTime) Mirror() VectorTime {
	return VectorTime{Local: v.Remote, Remote: v.Local}
}

// Concurrent reports whether neither time has acknowledged the other's operations,
// i.e. each side generated something the other had not received when it stamped.
// Concurrent operations have to be transformed; the others apply directly.
func (v VectorTime) Concurrent(other VectorTime) bool {
	return v.Local > other.Remote && other.Local > v.Remote
}

// IsZero reports whether no operation was generated or received yet.
func (v VectorTime) IsZero() bool {
	return v.Local == 0 && v.Remote == 0
}

func (v VectorTime) String() string {
	return fmt.Sprintf("[%d,%d]", v.Local, v.Remote)
}
