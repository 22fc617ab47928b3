package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/pairpad/client/editor"
	"github.com/burntcarrot/pairpad/commons"
	"github.com/burntcarrot/pairpad/ot"
)

// statusTimeout is how long a status message stays in the status bar.
const statusTimeout = 5 * time.Second

type (
	// hostMsg carries a message read from the host.
	hostMsg commons.Message

	// disconnectedMsg is sent once the connection to the host is gone.
	disconnectedMsg struct{ err error }

	clearStatusMsg struct{ id int }

	// checksumMsg asks the model to send a checksum of the document.
	checksumMsg struct{}
)

// ConnWriter sends messages to the host.
type ConnWriter interface {
	WriteJSON(v interface{}) error
}

type keyMap struct {
	Quit      key.Binding
	Save      key.Binding
	Load      key.Binding
	Left      key.Binding
	Right     key.Binding
	Up        key.Binding
	Down      key.Binding
	Home      key.Binding
	End       key.Binding
	Backspace key.Binding
	Delete    key.Binding
	Tab       key.Binding
	Enter     key.Binding
}

var keys = keyMap{
	Quit:      key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
	Save:      key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
	Load:      key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "load")),
	Left:      key.NewBinding(key.WithKeys("left", "ctrl+b")),
	Right:     key.NewBinding(key.WithKeys("right", "ctrl+f")),
	Up:        key.NewBinding(key.WithKeys("up", "ctrl+p")),
	Down:      key.NewBinding(key.WithKeys("down", "ctrl+n")),
	Home:      key.NewBinding(key.WithKeys("home")),
	End:       key.NewBinding(key.WithKeys("end")),
	Backspace: key.NewBinding(key.WithKeys("backspace")),
	Delete:    key.NewBinding(key.WithKeys("delete")),
	Tab:       key.NewBinding(key.WithKeys("tab")),
	Enter:     key.NewBinding(key.WithKeys("enter")),
}

type model struct {
	log    logrus.FieldLogger
	conn   ConnWriter
	engine *engine
	editor *editor.Editor

	// login asks for the participant's name when it was not given as a flag.
	login    textinput.Model
	loggedIn bool

	file     string
	interval time.Duration
	statusID int
	quitting bool
	err      error
}

func newModel(conn ConnWriter, eng *engine, file string, interval time.Duration, log logrus.FieldLogger) model {
	ti := textinput.New()
	ti.Placeholder = "Username"
	ti.Focus()
	ti.CharLimit = 64
	ti.Width = 20

	return model{
		log:      log,
		conn:     conn,
		engine:   eng,
		editor:   editor.NewEditor(editor.EditorConfig{ScrollEnabled: true}),
		login:    ti,
		loggedIn: eng.name != "",
		file:     file,
		interval: interval,
	}
}

func (m model) Init() tea.Cmd {
	if m.loggedIn {
		return m.tickChecksum()
	}
	return tea.Batch(textinput.Blink, m.tickChecksum())
}

// tickChecksum schedules the next checksum. A zero interval disables them.
func (m model) tickChecksum() tea.Cmd {
	if m.interval <= 0 {
		return nil
	}
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return checksumMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.editor.SetSize(msg.Width, msg.Height)
		return m, nil

	case hostMsg:
		return m.apply(m.engine.handle(commons.Message(msg)))

	case disconnectedMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit

	case checksumMsg:
		if msg, ok := m.engine.checksum(); ok {
			if err := m.conn.WriteJSON(msg); err != nil {
				m.log.WithError(err).Error("failed to send checksum")
			}
		}
		return m, m.tickChecksum()

	case clearStatusMsg:
		if msg.id == m.statusID {
			m.editor.ClearStatusBar()
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		if !m.loggedIn {
			return m.updateLogin(msg)
		}
		return m.updateEditor(msg)
	}

	if !m.loggedIn {
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Enter) && m.login.Value() != "" {
		m.loggedIn = true
		return m.apply(m.engine.setName(m.login.Value()))
	}
	var cmd tea.Cmd
	m.login, cmd = m.login.Update(msg)
	return m, cmd
}

func (m model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	e := m.editor

	switch {
	case key.Matches(msg, keys.Left):
		e.MoveCursor(-1, 0)
	case key.Matches(msg, keys.Right):
		e.MoveCursor(1, 0)
	case key.Matches(msg, keys.Up):
		e.MoveCursor(0, -1)
	case key.Matches(msg, keys.Down):
		e.MoveCursor(0, 1)
	case key.Matches(msg, keys.Home):
		e.SetX(0)
	case key.Matches(msg, keys.End):
		e.SetX(len(e.Text))

	case key.Matches(msg, keys.Save):
		if err := saveDocument(m.file, m.engine.content()); err != nil {
			m.log.WithError(err).Errorf("failed to save to %s", m.file)
			return m.status("Failed to save to " + m.file)
		}
		return m.status("Saved document to " + m.file)

	case key.Matches(msg, keys.Load):
		content, err := loadDocument(m.file)
		if err != nil {
			m.log.WithError(err).Errorf("failed to load %s", m.file)
			return m.status("Failed to load " + m.file)
		}
		if !m.engine.ready() {
			return m.status("Document is not ready yet")
		}
		op := ot.Diff(m.engine.content(), content)
		e.SetText(content)
		return m.send(op)

	default:
		if !m.engine.ready() {
			return m, nil
		}
		switch {
		case key.Matches(msg, keys.Backspace):
			return m.send(e.Backspace())
		case key.Matches(msg, keys.Delete):
			return m.send(e.DeleteForward())
		case key.Matches(msg, keys.Tab):
			return m.send(e.Insert("    "))
		case key.Matches(msg, keys.Enter):
			return m.send(e.Insert("\n"))
		case msg.Type == tea.KeySpace:
			return m.send(e.Insert(" "))
		case msg.Type == tea.KeyRunes:
			return m.send(e.Insert(string(msg.Runes)))
		}
	}
	return m, nil
}

// send announces a local edit to the host.
func (m model) send(op ot.Operation) (tea.Model, tea.Cmd) {
	if _, ok := op.(ot.NoOp); ok {
		return m, nil
	}
	msg, err := m.engine.localEdit(op)
	if err != nil {
		m.log.WithError(err).Error("local edit failed")
		m.editor.SetText(m.engine.content())
		return m, nil
	}
	if err := m.conn.WriteJSON(msg); err != nil {
		m.log.WithError(err).Error("failed to send operation")
		return m.status("lost connection!")
	}
	return m, nil
}

// apply shows the effect of a message from the host and sends the replies.
func (m model) apply(eff effect) (tea.Model, tea.Cmd) {
	for _, out := range eff.Send {
		if err := m.conn.WriteJSON(out); err != nil {
			m.log.WithError(err).Error("failed to send message")
		}
	}

	e := m.editor
	e.Title = string(m.engine.path)
	e.Users = m.engine.users
	if eff.Reloaded {
		e.SetText(m.engine.content())
	}
	if eff.Applied != nil {
		if err := e.Apply(eff.Applied); err != nil {
			e.SetText(m.engine.content())
		}
	}
	if eff.Status != "" {
		return m.status(eff.Status)
	}
	return m, nil
}

func (m model) status(msg string) (tea.Model, tea.Cmd) {
	m.statusID++
	m.editor.SetStatusBar(msg)
	id := m.statusID
	return m, tea.Tick(statusTimeout, func(time.Time) tea.Msg { return clearStatusMsg{id: id} })
}

func (m model) View() string {
	if m.quitting {
		if m.err != nil {
			return fmt.Sprintf("\n  Disconnected: %v\n\n", m.err)
		}
		return "\n  See you later!\n\n"
	}
	if !m.loggedIn {
		return fmt.Sprintf("Enter your name:\n\n%s\n\n%s\n", m.login.View(), "(esc to quit)")
	}
	if !m.engine.ready() && m.engine.doc == nil {
		return "Waiting for the document...\n"
	}
	return m.editor.View()
}
