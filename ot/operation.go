// Package ot implements the operation model of the synchronization core:
// insert, delete, no-op and composite edits over a rune sequence, and the
// transform function the Jupiter engines use to merge concurrent edits.
package ot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrPositionOutOfBounds is returned when an operation addresses a position outside the text.
	ErrPositionOutOfBounds = errors.New("position out of bounds")

	// ErrUnknownOperation is returned for operation types this package does not know how to handle.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Operation is an edit over a linear sequence of runes.
type Operation interface {
	// Apply returns the result of applying the operation to text.
	// The input slice is never modified.
	Apply(text []rune) ([]rune, error)

	// Invert returns the operation undoing this one, given the text it applies to.
	Invert(before []rune) Operation

	// TextLength returns the change in length caused by applying the operation.
	TextLength() int

	String() string
}

// Insert represents a text insertion.
type Insert struct {
	Position int
	Text     string
}

// Delete represents the deletion of Length runes starting at Position.
type Delete struct {
	Position int
	Length   int
}

// NoOp does nothing. It is what a delete becomes once a concurrent delete removed the same range.
type NoOp struct{}

// Composite applies its operations in order, each one against the result of the previous.
type Composite struct {
	Ops []Operation
}

func (op Insert) Apply(text []rune) ([]rune, error) {
	if op.Position < 0 || op.Position > len(text) {
		return nil, fmt.Errorf("insert at %d (len %d): %w", op.Position, len(text), ErrPositionOutOfBounds)
	}
	ins := []rune(op.Text)
	out := make([]rune, 0, len(text)+len(ins))
	out = append(out, text[:op.Position]...)
	out = append(out, ins...)
	return append(out, text[op.Position:]...), nil
}

func (op Insert) Invert([]rune) Operation {
	return Delete{Position: op.Position, Length: op.runeLen()}
}

func (op Insert) TextLength() int {
	return op.runeLen()
}

func (op Insert) String() string {
	return fmt.Sprintf("Insert(%d,%q)", op.Position, op.Text)
}

func (op Insert) runeLen() int {
	return utf8.RuneCountInString(op.Text)
}

func (op Delete) Apply(text []rune) ([]rune, error) {
	if op.Position < 0 || op.Length < 0 || op.Position+op.Length > len(text) {
		return nil, fmt.Errorf("delete [%d,%d) (len %d): %w", op.Position, op.Position+op.Length, len(text), ErrPositionOutOfBounds)
	}
	out := make([]rune, 0, len(text)-op.Length)
	out = append(out, text[:op.Position]...)
	return append(out, text[op.Position+op.Length:]...), nil
}

// Invert panics if the delete does not fit in before.
func (op Delete) Invert(before []rune) Operation {
	if op.Position < 0 || op.Position+op.Length > len(before) {
		panic(fmt.Sprintf("invert %v against text of length %d: %v", op, len(before), ErrPositionOutOfBounds))
	}
	return Insert{Position: op.Position, Text: string(before[op.Position : op.Position+op.Length])}
}

func (op Delete) TextLength() int {
	return -op.Length
}

func (op Delete) String() string {
	return fmt.Sprintf("Delete(%d,%d)", op.Position, op.Length)
}

func (NoOp) Apply(text []rune) ([]rune, error) {
	return text, nil
}

func (NoOp) Invert([]rune) Operation {
	return NoOp{}
}

func (NoOp) TextLength() int {
	return 0
}

func (NoOp) String() string {
	return "NoOp"
}

func (op Composite) Apply(text []rune) ([]rune, error) {
	var err error
	for i, o := range op.Ops {
		if text, err = o.Apply(text); err != nil {
			return nil, fmt.Errorf("composite op %d: %w", i, err)
		}
	}
	return text, nil
}

// Invert reverses the order of the inverted parts, each inverted against the text it saw.
func (op Composite) Invert(before []rune) Operation {
	inv := make([]Operation, len(op.Ops))
	text := before
	for i, o := range op.Ops {
		inv[len(op.Ops)-1-i] = o.Invert(text)
		text = MustApply(o, text)
	}
	return Composite{Ops: inv}
}

func (op Composite) TextLength() int {
	n := 0
	for _, o := range op.Ops {
		n += o.TextLength()
	}
	return n
}

func (op Composite) String() string {
	parts := make([]string, len(op.Ops))
	for i, o := range op.Ops {
		parts[i] = o.String()
	}
	return "Composite[" + strings.Join(parts, ", ") + "]"
}

// MustApply applies op and panics on failure. An out-of-range operation means
// the replicas already disagree, and clipping it would hide that.
func MustApply(op Operation, text []rune) []rune {
	out, err := op.Apply(text)
	if err != nil {
		panic(err)
	}
	return out
}

// ApplyString is Apply for string content.
func ApplyString(op Operation, s string) (string, error) {
	out, err := op.Apply([]rune(s))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compose returns an operation equivalent to applying a and then b.
// Nested composites are flattened so composition stays associative.
func Compose(a, b Operation) Operation {
	var ops []Operation
	ops = appendFlat(ops, a)
	ops = appendFlat(ops, b)
	return Composite{Ops: ops}
}

func appendFlat(ops []Operation, op Operation) []Operation {
	if c, ok := op.(Composite); ok {
		for _, o := range c.Ops {
			ops = appendFlat(ops, o)
		}
		return ops
	}
	return append(ops, op)
}

// Normalize flattens composites, drops no-ops and empty edits, and unwraps
// single-element composites. The result applies identically to op.
func Normalize(op Operation) Operation {
	var kept []Operation
	for _, o := range appendFlat(nil, op) {
		switch o := o.(type) {
		case NoOp:
			continue
		case Insert:
			if o.Text == "" {
				continue
			}
		case Delete:
			if o.Length == 0 {
				continue
			}
		}
		kept = append(kept, o)
	}
	switch len(kept) {
	case 0:
		return NoOp{}
	case 1:
		return kept[0]
	default:
		return Composite{Ops: kept}
	}
}

// Equal reports whether a and b are structurally identical.
func Equal(a, b Operation) bool {
	switch a := a.(type) {
	case Insert:
		b, ok := b.(Insert)
		return ok && a == b
	case Delete:
		b, ok := b.(Delete)
		return ok && a == b
	case NoOp:
		_, ok := b.(NoOp)
		return ok
	case Composite:
		b, ok := b.(Composite)
		if !ok || len(a.Ops) != len(b.Ops) {
			return false
		}
		for i := range a.Ops {
			if !Equal(a.Ops[i], b.Ops[i]) {
				return false
			}
		}
		return true
	}
	return false
}
