package jupiter

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/burntcarrot/pairpad/ot"
)

// pendingOp is an operation generated locally and not yet acknowledged by the
// other side, together with the local count it was generated at.
type pendingOp struct {
	op    ot.Operation
	local uint64
}

// Jupiter is one side of a Jupiter channel for a single document.
//
// On a participant it turns local edits into stamped activities and rewrites
// activities from the host before they reach the buffer. On the host the
// document server keeps one Jupiter per participant, the proxy client, which
// does the same from the host's point of view.
//
// All methods are serialized per engine; engines for different documents never
// block each other.
type Jupiter struct {
	path Path

	// clientSide engines let incoming operations win insert ties, because
	// incoming operations on a participant have already been ordered by the
	// host. Proxy clients let their own (host-ordered) history win.
	clientSide bool

	mu      sync.Mutex
	time    VectorTime
	acked   uint64
	pending []pendingOp
}

// NewJupiter returns an engine at time [0,0] with no pending operations.
func NewJupiter(path Path, clientSide bool) *Jupiter {
	return &Jupiter{path: path, clientSide: clientSide}
}

// Path returns the document this engine belongs to.
func (j *Jupiter) Path() Path {
	return j.path
}

// Generate stamps op with the current vector time, records it as pending and
// returns the activity to send to the other side.
func (j *Jupiter) Generate(op ot.Operation, source uuid.UUID) JupiterActivity {
	j.mu.Lock()
	defer j.mu.Unlock()

	activity := JupiterActivity{
		Path:      j.path,
		Timestamp: j.time,
		Operation: op,
		Source:    source,
	}
	j.pending = append(j.pending, pendingOp{op: op, local: j.time.Local})
	j.time = j.time.IncrementLocal()
	return activity
}

// Receive transforms the operation of an incoming activity against every local
// operation the sender had not seen yet and returns the operation to apply
// locally. Acknowledged operations are dropped from the pending log.
//
// A timestamp that does not fit the channel history yields a
// *TransformationError; the engine state is left untouched in that case.
func (j *Jupiter) Receive(activity JupiterActivity) (ot.Operation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if activity.Path != j.path {
		return nil, fmt.Errorf("receive %s on %s: %w", activity.Path, j.path, ErrPathMismatch)
	}
	if err := j.checkPreconditions(activity.Timestamp); err != nil {
		return nil, err
	}
	j.discardAcknowledged(activity.Timestamp.Remote)

	op := activity.Operation
	for i := range j.pending {
		existing := j.pending[i].op
		var transformed ot.Operation
		if j.clientSide {
			existing, transformed = ot.Transform(existing, op)
		} else {
			transformed, existing = ot.Transform(op, existing)
		}
		j.pending[i].op = existing
		op = transformed
	}

	j.time = j.time.IncrementRemote()
	return op, nil
}

// checkPreconditions verifies that t continues the channel history:
// it acknowledges no fewer operations than before, none that were never
// generated, and it was generated right after the last one received.
func (j *Jupiter) checkPreconditions(t VectorTime) error {
	switch {
	case t.Remote < j.acked:
		return newTransformationError(ErrCodeForgottenTimestamp,
			fmt.Sprintf("acknowledges %d operations, %d were acknowledged before", t.Remote, j.acked),
			j.path, t, j.time)
	case t.Remote > j.time.Local:
		return newTransformationError(ErrCodeFutureTimestamp,
			fmt.Sprintf("acknowledges %d operations, only %d were generated", t.Remote, j.time.Local),
			j.path, t, j.time)
	case t.Local != j.time.Remote:
		return newTransformationError(ErrCodeCountMismatch,
			fmt.Sprintf("operation %d arrived, expected %d", t.Local, j.time.Remote),
			j.path, t, j.time)
	}
	return nil
}

func (j *Jupiter) discardAcknowledged(remote uint64) {
	n := 0
	for n < len(j.pending) && j.pending[n].local < remote {
		n++
	}
	j.pending = append(j.pending[:0:0], j.pending[n:]...)
	j.acked = remote
}

// WithTimestamp stamps a checksum with the current vector time.
// It does not count as an operation.
func (j *Jupiter) WithTimestamp(checksum ChecksumActivity) ChecksumActivity {
	j.mu.Lock()
	defer j.mu.Unlock()
	return checksum.WithTimestamp(j.time)
}

// IsCurrent reports whether a timestamp stamped by the other side describes
// exactly the history this side is at: everything it generated was received
// here and everything generated here was received there.
func (j *Jupiter) IsCurrent(t VectorTime) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return t.Mirror() == j.time
}

// Time returns the current vector time.
func (j *Jupiter) Time() VectorTime {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.time
}

// Pending returns the number of operations not yet acknowledged by the other side.
func (j *Jupiter) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}
