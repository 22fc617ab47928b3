package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/burntcarrot/pairpad/jupiter"
)

// OutcomeKind tags the result of handing an activity to the session.
type OutcomeKind int

const (
	// OK means the activity was integrated; Items holds what to deliver.
	OK OutcomeKind = iota

	// Rejected means a checksum was taken at a time the host is no longer at
	// for its source. Nothing is delivered and no state changed; the source
	// simply sends a fresh checksum later.
	Rejected

	// NeedsReset means the channel between the host and Participant for Path
	// is desynchronized. Both sides have to reset the document.
	NeedsReset

	// Fatal means the caller broke the protocol (an unknown participant, a
	// path mismatch or an unsupported activity). Err says which.
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OK:
		return "ok"
	case Rejected:
		return "rejected"
	case NeedsReset:
		return "needs-reset"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// QueueItem is one activity addressed to one recipient.
type QueueItem struct {
	Recipient uuid.UUID
	Activity  jupiter.Activity
}

// Outcome is the result of TransformIncoming.
type Outcome struct {
	Kind  OutcomeKind
	Items []QueueItem

	// Participant and Path identify the activity the outcome is about.
	Participant uuid.UUID
	Path        jupiter.Path

	Err error
}

// Ok reports whether the activity was integrated.
func (o Outcome) Ok() bool {
	return o.Kind == OK
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s from %s: %v", o.Kind, o.Path, o.Participant, o.Err)
	}
	return fmt.Sprintf("%s %s from %s (%d items)", o.Kind, o.Path, o.Participant, len(o.Items))
}
