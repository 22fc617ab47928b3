package ot

// Text is a document buffer that operations are applied to.
// It is not safe for concurrent use; callers own their buffers.
type Text struct {
	runes []rune
}

// NewText returns a buffer holding s.
func NewText(s string) *Text {
	return &Text{runes: []rune(s)}
}

// Apply applies op to the buffer. On error the buffer is left unchanged.
func (t *Text) Apply(op Operation) error {
	out, err := op.Apply(t.runes)
	if err != nil {
		return err
	}
	t.runes = out
	return nil
}

// Set replaces the whole content, e.g. after a resynchronization.
func (t *Text) Set(s string) {
	t.runes = []rune(s)
}

// Len returns the length of the buffer in runes.
func (t *Text) Len() int {
	return len(t.runes)
}

func (t *Text) String() string {
	return string(t.runes)
}

// Diff returns an operation turning old into new. It strips the common prefix
// and suffix and describes the rest as a delete followed by an insert, which is
// exactly what a single edit in a text widget produces.
func Diff(old, new string) Operation {
	o, n := []rune(old), []rune(new)

	prefix := 0
	for prefix < len(o) && prefix < len(n) && o[prefix] == n[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(o)-prefix && suffix < len(n)-prefix && o[len(o)-1-suffix] == n[len(n)-1-suffix] {
		suffix++
	}

	var ops []Operation
	if removed := len(o) - prefix - suffix; removed > 0 {
		ops = append(ops, Delete{Position: prefix, Length: removed})
	}
	if added := n[prefix : len(n)-suffix]; len(added) > 0 {
		ops = append(ops, Insert{Position: prefix, Text: string(added)})
	}
	return Normalize(Composite{Ops: ops})
}
