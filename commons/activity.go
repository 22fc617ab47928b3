package commons

import (
	"errors"
	"fmt"

	"github.com/burntcarrot/pairpad/jupiter"
)

// ErrNotAnActivity is returned when a message does not carry an activity.
var ErrNotAnActivity = errors.New("message does not carry an activity")

// ActivityMessage wraps an activity for the wire.
func ActivityMessage(activity jupiter.Activity) (Message, error) {
	switch a := activity.(type) {
	case jupiter.JupiterActivity:
		op := EncodeOperation(a.Operation)
		t := a.Timestamp
		return Message{Type: OperationMessage, ID: a.Source, Path: string(a.Path), Timestamp: &t, Operation: &op}, nil
	case jupiter.ChecksumActivity:
		t, c := a.Timestamp, a.Checksum
		return Message{Type: ChecksumMessage, ID: a.Source, Path: string(a.Path), Timestamp: &t, Checksum: &c}, nil
	case jupiter.FileActivity:
		return Message{Type: FileMessage, ID: a.Source, Path: string(a.Path), NewPath: string(a.NewPath), Text: string(a.Type)}, nil
	}
	return Message{}, fmt.Errorf("%T: %w", activity, ErrNotAnActivity)
}

// Activity unwraps the activity carried by an operation, checksum or file
// message. The source of the activity is the message ID.
func (m Message) Activity() (jupiter.Activity, error) {
	path := jupiter.Path(m.Path)

	switch m.Type {
	case OperationMessage, ChecksumMessage, FileMessage:
		if path == "" {
			return nil, fmt.Errorf("%s message without path: %w", m.Type, ErrInvalidOperation)
		}
	default:
		return nil, fmt.Errorf("%s: %w", m.Type, ErrNotAnActivity)
	}

	switch m.Type {
	case OperationMessage:
		if m.Operation == nil || m.Timestamp == nil {
			return nil, fmt.Errorf("operation message for %s is incomplete: %w", path, ErrInvalidOperation)
		}
		op, err := m.Operation.Decode()
		if err != nil {
			return nil, fmt.Errorf("decode operation for %s: %w", path, err)
		}
		return jupiter.JupiterActivity{Path: path, Timestamp: *m.Timestamp, Operation: op, Source: m.ID}, nil

	case ChecksumMessage:
		if m.Checksum == nil || m.Timestamp == nil {
			return nil, fmt.Errorf("checksum message for %s is incomplete: %w", path, ErrInvalidOperation)
		}
		return jupiter.ChecksumActivity{Path: path, Timestamp: *m.Timestamp, Checksum: *m.Checksum, Source: m.ID}, nil

	default:
		t := jupiter.FileActivityType(m.Text)
		switch t {
		case jupiter.FileCreated, jupiter.FileRemoved, jupiter.FileMoved:
		default:
			return nil, fmt.Errorf("file event %q for %s: %w", m.Text, path, ErrInvalidOperation)
		}
		if t == jupiter.FileMoved && (m.NewPath == "" || m.NewPath == m.Path) {
			return nil, fmt.Errorf("move of %s without a new path: %w", path, ErrInvalidOperation)
		}
		return jupiter.FileActivity{Type: t, Path: path, NewPath: jupiter.Path(m.NewPath), Source: m.ID}, nil
	}
}
