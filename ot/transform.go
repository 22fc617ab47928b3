package ot

import (
	"fmt"
	"unicode/utf8"
)

// Transform derives the bottom two sides of the OT diamond: given a and b
// generated against the same text, it returns ap (a rewritten to apply after b)
// and bp (b rewritten to apply after a), so that
//
//	apply(apply(text, a), bp) == apply(apply(text, b), ap)
//
// b takes priority over a. Priority only matters when two inserts land on the
// same position: the priority insert ends up on the left.
func Transform(a, b Operation) (ap, bp Operation) {
	switch av := a.(type) {
	case NoOp:
		return a, b
	case Composite:
		ops := make([]Operation, len(av.Ops))
		for i, o := range av.Ops {
			ops[i], b = Transform(o, b)
		}
		return Composite{Ops: ops}, b
	}

	switch bv := b.(type) {
	case NoOp:
		return a, b
	case Composite:
		ops := make([]Operation, len(bv.Ops))
		for i, o := range bv.Ops {
			a, ops[i] = Transform(a, o)
		}
		return a, Composite{Ops: ops}
	}

	switch av := a.(type) {
	case Insert:
		switch bv := b.(type) {
		case Insert:
			return transformInsertInsert(av, bv)
		case Delete:
			return transformInsertDelete(av, bv)
		}
	case Delete:
		switch bv := b.(type) {
		case Insert:
			ins, del := transformInsertDelete(bv, av)
			return del, ins
		case Delete:
			return transformDeleteDelete(av, bv)
		}
	}
	panic(fmt.Sprintf("transform %T against %T: %v", a, b, ErrUnknownOperation))
}

// When positions are equal, a' shifts forward.
func transformInsertInsert(a, b Insert) (ap, bp Operation) {
	if b.Position <= a.Position {
		return Insert{a.Position + runeLen(b.Text), a.Text}, b
	}
	return a, Insert{b.Position + runeLen(a.Text), b.Text}
}

// If the insert starts at or before the delete, the delete shifts forward.
// If it starts at or after the delete's end, the insert shifts backward.
// Otherwise the insert falls inside the deleted range: the insert collapses to
// the delete position and the delete is split around the inserted text, which
// the deleting side never saw and therefore must not remove.
func transformInsertDelete(a Insert, b Delete) (ap, bp Operation) {
	n := runeLen(a.Text)
	switch {
	case a.Position <= b.Position:
		return a, Delete{b.Position + n, b.Length}
	case a.Position >= b.Position+b.Length:
		return Insert{a.Position - b.Length, a.Text}, b
	default:
		before := a.Position - b.Position
		return Insert{b.Position, a.Text}, Composite{Ops: []Operation{
			Delete{b.Position, before},
			Delete{b.Position + n, b.Length - before},
		}}
	}
}

// Overlapping deletes only remove what the other side has not removed already.
// A delete entirely covered by the other becomes a NoOp.
func transformDeleteDelete(a, b Delete) (ap, bp Operation) {
	aEnd, bEnd := a.Position+a.Length, b.Position+b.Length
	if aEnd <= b.Position {
		return a, shrink(Delete{b.Position - a.Length, b.Length})
	}
	if bEnd <= a.Position {
		return shrink(Delete{a.Position - b.Length, a.Length}), b
	}
	pos := min(a.Position, b.Position)
	overlap := min(aEnd, bEnd) - max(a.Position, b.Position)
	return shrink(Delete{pos, a.Length - overlap}), shrink(Delete{pos, b.Length - overlap})
}

func shrink(d Delete) Operation {
	if d.Length == 0 {
		return NoOp{}
	}
	return d
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
