// Package editor holds the client's view of the document being edited: the
// text, the cursor and the scroll offsets, and how they render in a terminal.
package editor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/burntcarrot/pairpad/ot"
)

var (
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	usersStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
)

// EditorConfig configures an Editor.
type EditorConfig struct {
	ScrollEnabled bool
}

type Editor struct {
	// Text is the content of the document.
	Text []rune

	// Cursor is the position in Text the next insertion happens at.
	Cursor int

	Width  int
	Height int

	// ColOff and RowOff are the first visible column and row.
	ColOff int
	RowOff int

	ShowMsg   bool
	StatusMsg string

	// Title names the document shown in the status bar.
	Title string

	// Users are the participants of the session.
	Users []string

	ScrollEnabled bool
}

func NewEditor(conf EditorConfig) *Editor {
	return &Editor{ScrollEnabled: conf.ScrollEnabled}
}

func (e *Editor) GetText() []rune {
	return e.Text
}

// SetText replaces the content, keeping the cursor inside it.
func (e *Editor) SetText(text string) {
	e.Text = []rune(text)
	if e.Cursor > len(e.Text) {
		e.Cursor = len(e.Text)
	}
	e.scroll()
}

func (e *Editor) GetX() int {
	x, _ := e.calcXY(e.Cursor)
	return x
}

func (e *Editor) SetX(x int) {
	e.Cursor = x
	e.scroll()
}

func (e *Editor) GetY() int {
	_, y := e.calcXY(e.Cursor)
	return y
}

func (e *Editor) GetWidth() int {
	return e.Width
}

func (e *Editor) GetHeight() int {
	return e.Height
}

func (e *Editor) SetSize(w, h int) {
	e.Width = w
	e.Height = h
	e.scroll()
}

// SetStatusBar shows msg in the status bar until ClearStatusBar is called.
func (e *Editor) SetStatusBar(msg string) {
	e.StatusMsg = msg
	e.ShowMsg = true
}

func (e *Editor) ClearStatusBar() {
	e.ShowMsg = false
}

// Insert inserts s at the cursor, moves the cursor past it and returns the
// operation describing the change.
func (e *Editor) Insert(s string) ot.Operation {
	if s == "" {
		return ot.NoOp{}
	}
	op := ot.Insert{Position: e.Cursor, Text: s}
	e.Text = ot.MustApply(op, e.Text)
	e.Cursor += len([]rune(s))
	e.scroll()
	return op
}

// Backspace deletes the rune before the cursor.
func (e *Editor) Backspace() ot.Operation {
	if e.Cursor == 0 {
		return ot.NoOp{}
	}
	op := ot.Delete{Position: e.Cursor - 1, Length: 1}
	e.Text = ot.MustApply(op, e.Text)
	e.Cursor--
	e.scroll()
	return op
}

// DeleteForward deletes the rune under the cursor.
func (e *Editor) DeleteForward() ot.Operation {
	if e.Cursor >= len(e.Text) {
		return ot.NoOp{}
	}
	op := ot.Delete{Position: e.Cursor, Length: 1}
	e.Text = ot.MustApply(op, e.Text)
	e.scroll()
	return op
}

// Apply applies an operation made by somebody else. The cursor stays on the
// rune it was on; a remote insertion at the cursor goes before it.
func (e *Editor) Apply(op ot.Operation) error {
	text, err := op.Apply(e.Text)
	if err != nil {
		return err
	}
	e.Cursor = transformCursor(op, e.Cursor)
	e.Text = text
	if e.Cursor > len(e.Text) {
		e.Cursor = len(e.Text)
	}
	e.scroll()
	return nil
}

func transformCursor(op ot.Operation, cursor int) int {
	switch op := op.(type) {
	case ot.Insert:
		if op.Position < cursor {
			cursor += len([]rune(op.Text))
		}
	case ot.Delete:
		switch {
		case op.Position+op.Length <= cursor:
			cursor -= op.Length
		case op.Position < cursor:
			cursor = op.Position
		}
	case ot.Composite:
		for _, o := range op.Ops {
			cursor = transformCursor(o, cursor)
		}
	}
	return cursor
}

// View renders the visible part of the text followed by the status bar.
func (e *Editor) View() string {
	var b strings.Builder

	lines := strings.Split(string(e.Text), "\n")
	cx, cy := e.calcXY(e.Cursor)
	rows := e.textHeight()

	for row := e.RowOff; row < e.RowOff+rows; row++ {
		if row < len(lines) {
			cursorCol := -1
			if row == cy-1 {
				cursorCol = cx - 1
			}
			b.WriteString(e.renderLine([]rune(lines[row]), cursorCol))
		}
		b.WriteString("\n")
	}

	if e.ShowMsg {
		b.WriteString(statusStyle.Render(e.StatusMsg))
	} else {
		b.WriteString(e.statusLine(cx, cy))
	}
	return b.String()
}

// renderLine renders the columns [ColOff, ColOff+Width) of line, with the
// cursor at column cursorCol or nowhere if cursorCol is negative.
func (e *Editor) renderLine(line []rune, cursorCol int) string {
	var b strings.Builder
	col := 0
	cursorDrawn := cursorCol < 0

	for _, r := range line {
		w := runewidth.RuneWidth(r)
		if col >= e.ColOff && (e.Width <= 0 || col+w <= e.ColOff+e.Width) {
			if col == cursorCol {
				b.WriteString(cursorStyle.Render(string(r)))
				cursorDrawn = true
			} else {
				b.WriteRune(r)
			}
		}
		col += w
	}
	if !cursorDrawn && cursorCol >= e.ColOff {
		b.WriteString(cursorStyle.Render(" "))
	}
	return b.String()
}

func (e *Editor) statusLine(x, y int) string {
	status := fmt.Sprintf("%s  %d:%d", e.Title, y, x)
	if len(e.Users) > 0 {
		status += "  " + usersStyle.Render(strings.Join(e.Users, ", "))
	}
	return statusStyle.Render(status)
}

// textHeight is the number of rows available for text; the last row is the
// status bar.
func (e *Editor) textHeight() int {
	if e.Height <= 1 {
		return len(strings.Split(string(e.Text), "\n"))
	}
	return e.Height - 1
}

// MoveCursor updates the Cursor position.
func (e *Editor) MoveCursor(x, y int) {
	if len(e.Text) == 0 {
		return
	}
	newCursor := e.Cursor + x

	if y > 0 {
		newCursor = e.calcCursorDown()
	}
	if y < 0 {
		newCursor = e.calcCursorUp()
	}

	if newCursor > len(e.Text) {
		newCursor = len(e.Text)
	}
	if newCursor < 0 {
		newCursor = 0
	}

	e.Cursor = newCursor
	e.scroll()
}

// scroll moves the offsets so that the cursor stays visible.
func (e *Editor) scroll() {
	if !e.ScrollEnabled {
		return
	}
	x, y := e.calcXY(e.Cursor)
	col, row := x-1, y-1

	if rows := e.textHeight(); rows > 0 {
		if row < e.RowOff {
			e.RowOff = row
		}
		if row >= e.RowOff+rows {
			e.RowOff = row - rows + 1
		}
	}
	if e.Width > 0 {
		if col < e.ColOff {
			e.ColOff = col
		}
		if col >= e.ColOff+e.Width {
			e.ColOff = col - e.Width + 1
		}
	}
}

// calcCursorUp and calcCursorDown find the newlines around the cursor, which
// delimit the current line, and keep the offset from the start of the line on
// the target line when it is long enough. Otherwise the cursor goes to the end
// of the target line.

// calcCursorUp calculates the intended Cursor position after moving the Cursor up one line.
func (e *Editor) calcCursorUp() int {
	pos := e.Cursor
	offset := 0

	if pos == len(e.Text) || e.Text[pos] == '\n' {
		offset++
		pos--
	}
	if pos < 0 {
		pos = 0
	}

	start, end := pos, pos

	for start > 0 && e.Text[start] != '\n' {
		start--
	}

	// Already on the first line.
	if start == 0 {
		return 0
	}

	for end < len(e.Text) && e.Text[end] != '\n' {
		end++
	}

	prevStart := start - 1
	for prevStart >= 0 && e.Text[prevStart] != '\n' {
		prevStart--
	}

	offset += pos - start
	if offset <= start-prevStart {
		return prevStart + offset
	}
	return start
}

// calcCursorDown calculates the intended Cursor position after moving the Cursor down one line.
func (e *Editor) calcCursorDown() int {
	pos := e.Cursor
	offset := 0

	if pos == len(e.Text) || e.Text[pos] == '\n' {
		offset++
		pos--
	}
	if pos < 0 {
		pos = 0
	}

	start, end := pos, pos

	for start > 0 && e.Text[start] != '\n' {
		start--
	}

	// The first line does not start with a newline, unlike the others.
	if start == 0 && e.Text[start] != '\n' {
		offset++
	}

	for end < len(e.Text) && e.Text[end] != '\n' {
		end++
	}

	// On a newline, start == end unless end moves past it.
	if e.Text[pos] == '\n' && e.Cursor != 0 {
		end++
	}

	// Already on the last line.
	if end == len(e.Text) {
		return len(e.Text)
	}

	nextEnd := end + 1
	for nextEnd < len(e.Text) && e.Text[nextEnd] != '\n' {
		nextEnd++
	}

	offset += pos - start
	if offset < nextEnd-end {
		return end + offset
	}
	return nextEnd
}

// calcXY returns the 1-based column and row of a position in the text.
// Columns are counted in terminal cells.
func (e *Editor) calcXY(index int) (int, int) {
	x := 1
	y := 1

	if index < 0 {
		return x, y
	}
	if index > len(e.Text) {
		index = len(e.Text)
	}

	for i := 0; i < index; i++ {
		if e.Text[i] == '\n' {
			x = 1
			y++
		} else {
			x += runewidth.RuneWidth(e.Text[i])
		}
	}
	return x, y
}
