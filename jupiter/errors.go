package jupiter

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnknownParticipant is returned when a document server is asked to act
	// for a participant it has no proxy client for. It means a membership
	// event was missed by the caller.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrPathMismatch is returned when an activity is handed to an engine or
	// document server responsible for a different path.
	ErrPathMismatch = errors.New("activity path does not match document")
)

// TransformationError reports that an incoming timestamp cannot be reconciled
// with the stored history of a channel. The channel is desynchronized and has
// to be reset on both sides; retrying never helps.
type TransformationError struct {
	// Code identifies the error category.
	Code TransformationErrorCode

	// Message is a human-readable description.
	Message string

	// Participant is the other end of the broken channel, if known.
	Participant uuid.UUID

	// Path identifies the document.
	Path Path

	// Timestamp is the offending incoming timestamp.
	Timestamp VectorTime

	// Expected is the local vector time at the moment of the failure.
	Expected VectorTime
}

// TransformationErrorCode categorizes transformation errors.
type TransformationErrorCode string

const (
	// ErrCodeFutureTimestamp indicates the sender acknowledges operations that were never generated.
	ErrCodeFutureTimestamp TransformationErrorCode = "FUTURE_TIMESTAMP"

	// ErrCodeForgottenTimestamp indicates the sender acknowledges less than it already did.
	ErrCodeForgottenTimestamp TransformationErrorCode = "FORGOTTEN_TIMESTAMP"

	// ErrCodeCountMismatch indicates an operation was lost, duplicated or reordered.
	ErrCodeCountMismatch TransformationErrorCode = "COUNT_MISMATCH"

	// ErrCodeStaleChecksum indicates a checksum was taken at a time the receiver is no longer at.
	ErrCodeStaleChecksum TransformationErrorCode = "STALE_CHECKSUM"
)

// Error implements the error interface.
func (e *TransformationError) Error() string {
	if e.Participant != uuid.Nil {
		return fmt.Sprintf("%s: %s (path=%s, participant=%s, got=%s, local=%s)",
			e.Code, e.Message, e.Path, e.Participant, e.Timestamp, e.Expected)
	}
	return fmt.Sprintf("%s: %s (path=%s, got=%s, local=%s)", e.Code, e.Message, e.Path, e.Timestamp, e.Expected)
}

// IsTransformationError returns true if err is, or wraps, a TransformationError.
func IsTransformationError(err error) bool {
	var te *TransformationError
	return errors.As(err, &te)
}

// IsStaleChecksum returns true if err reports a checksum taken at an outdated time.
func IsStaleChecksum(err error) bool {
	var te *TransformationError
	if errors.As(err, &te) {
		return te.Code == ErrCodeStaleChecksum
	}
	return false
}

func newTransformationError(code TransformationErrorCode, msg string, path Path, got, local VectorTime) *TransformationError {
	return &TransformationError{
		Code:      code,
		Message:   msg,
		Path:      path,
		Timestamp: got,
		Expected:  local,
	}
}
