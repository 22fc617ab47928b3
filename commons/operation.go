package commons

import (
	"errors"
	"fmt"

	"github.com/burntcarrot/pairpad/ot"
)

// ErrInvalidOperation is returned for wire operations that do not describe a valid edit.
var ErrInvalidOperation = errors.New("invalid operation")

// Operation represents an edit on the wire.
type Operation struct {
	// Type represents the operation type: insert, delete, noop or composite.
	Type string `json:"type"`

	// Position represents the position at which the operation has been made, in runes.
	Position int `json:"position,omitempty"`

	// Value represents the inserted text.
	Value string `json:"value,omitempty"`

	// Length represents the number of deleted runes.
	Length int `json:"length,omitempty"`

	// Ops represents the parts of a composite operation, in order.
	Ops []Operation `json:"ops,omitempty"`
}

const (
	OperationInsert    = "insert"
	OperationDelete    = "delete"
	OperationNoOp      = "noop"
	OperationComposite = "composite"
)

// EncodeOperation converts an operation to its wire form.
func EncodeOperation(op ot.Operation) Operation {
	switch o := op.(type) {
	case ot.Insert:
		return Operation{Type: OperationInsert, Position: o.Position, Value: o.Text}
	case ot.Delete:
		return Operation{Type: OperationDelete, Position: o.Position, Length: o.Length}
	case ot.Composite:
		ops := make([]Operation, len(o.Ops))
		for i, part := range o.Ops {
			ops[i] = EncodeOperation(part)
		}
		return Operation{Type: OperationComposite, Ops: ops}
	}
	return Operation{Type: OperationNoOp}
}

// Decode converts a wire operation back into an operation.
func (o Operation) Decode() (ot.Operation, error) {
	switch o.Type {
	case OperationInsert:
		if o.Position < 0 || o.Value == "" {
			return nil, fmt.Errorf("insert %q at %d: %w", o.Value, o.Position, ErrInvalidOperation)
		}
		return ot.Insert{Position: o.Position, Text: o.Value}, nil
	case OperationDelete:
		if o.Position < 0 || o.Length <= 0 {
			return nil, fmt.Errorf("delete %d at %d: %w", o.Length, o.Position, ErrInvalidOperation)
		}
		return ot.Delete{Position: o.Position, Length: o.Length}, nil
	case OperationNoOp:
		return ot.NoOp{}, nil
	case OperationComposite:
		ops := make([]ot.Operation, len(o.Ops))
		for i, part := range o.Ops {
			op, err := part.Decode()
			if err != nil {
				return nil, err
			}
			ops[i] = op
		}
		return ot.Composite{Ops: ops}, nil
	}
	return nil, fmt.Errorf("type %q: %w", o.Type, ErrInvalidOperation)
}
