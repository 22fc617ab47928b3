package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/pairpad/commons"
	"github.com/burntcarrot/pairpad/jupiter"
	"github.com/burntcarrot/pairpad/ot"
)

// ErrNotReady is returned for local edits while the document is being
// (re)loaded from the host.
var ErrNotReady = errors.New("document is not ready")

// effect is what handling a message means for the user interface.
type effect struct {
	// Send holds the messages to write to the host.
	Send []commons.Message

	// Applied is a remote operation that was applied to the document.
	Applied ot.Operation

	// Reloaded is set when the document was replaced as a whole.
	Reloaded bool

	// Status is a message for the status bar.
	Status string
}

// engine keeps the local replica of the document being edited in sync with
// the host. It does no I/O: messages go in, messages to send come out.
type engine struct {
	log  logrus.FieldLogger
	name string

	id     uuid.UUID
	client *jupiter.Client

	// path is the document being edited; empty until the host picked one.
	path jupiter.Path
	doc  *ot.Text

	// waiting is set while a document request is outstanding. Remote
	// operations for the document are dropped and local edits refused until
	// the docSync arrives.
	waiting bool
	joined  bool

	users []string
}

func newEngine(name string, path jupiter.Path, log logrus.FieldLogger) *engine {
	return &engine{log: log, name: name, path: path, waiting: true}
}

// setName sets the participant's name once it is known and joins the session
// if the host already greeted us.
func (e *engine) setName(name string) effect {
	e.name = name
	return e.join()
}

func (e *engine) join() effect {
	if e.joined || e.name == "" || e.client == nil {
		return effect{}
	}
	e.joined = true
	return effect{Send: []commons.Message{
		{Type: commons.JoinMessage, Username: e.name, ID: e.id},
		e.request(),
	}}
}

// request asks the host for a fresh copy of the document.
func (e *engine) request() commons.Message {
	e.waiting = true
	return commons.Message{Type: commons.DocReqMessage, Path: string(e.path), ID: e.id}
}

func (e *engine) resync(reason string) effect {
	e.log.WithField("path", e.path).Warn(reason + ", requesting document")
	return effect{Send: []commons.Message{e.request()}, Status: "resynchronizing " + string(e.path)}
}

// ready reports whether local edits are accepted.
func (e *engine) ready() bool {
	return !e.waiting && e.doc != nil
}

func (e *engine) content() string {
	if e.doc == nil {
		return ""
	}
	return e.doc.String()
}

// localEdit applies an edit made by the user and returns the message
// announcing it.
func (e *engine) localEdit(op ot.Operation) (commons.Message, error) {
	if !e.ready() {
		return commons.Message{}, ErrNotReady
	}
	if err := e.doc.Apply(op); err != nil {
		return commons.Message{}, err
	}
	activity := e.client.Generate(e.path, op)
	e.log.WithFields(logrus.Fields{"operation": op, "timestamp": activity.Timestamp}).Debug("local edit")
	return commons.ActivityMessage(activity)
}

// checksum returns a checksum of the local replica for the host to compare
// with its own. There is nothing to compare while the document is loading.
func (e *engine) checksum() (commons.Message, bool) {
	if !e.ready() {
		return commons.Message{}, false
	}
	c := e.client.WithTimestamp(jupiter.ChecksumActivity{
		Path:     e.path,
		Checksum: jupiter.ComputeChecksum(e.doc.String()),
	})
	msg, err := commons.ActivityMessage(c)
	if err != nil {
		e.log.WithError(err).Error("failed to wrap checksum")
		return commons.Message{}, false
	}
	return msg, true
}

// handle processes a message from the host.
func (e *engine) handle(msg commons.Message) effect {
	switch msg.Type {
	case commons.SiteIDMessage:
		e.id = msg.ID
		e.client = jupiter.NewClient(e.id)
		e.log.WithField("id", e.id).Info("connected")
		return e.join()

	case commons.JoinMessage:
		if msg.Username == "" {
			e.joined = false
			return effect{Status: "join refused: " + msg.Text}
		}
		return effect{Status: fmt.Sprintf("%s has joined the session!", msg.Username)}

	case commons.UsersMessage:
		e.users = strings.Split(msg.Text, ",")
		return effect{}

	case commons.DocSyncMessage:
		path := jupiter.Path(msg.Path)
		if e.path == "" {
			e.path = path
		}
		if path != e.path || e.client == nil {
			return effect{}
		}
		e.client.Reset(path)
		e.doc = ot.NewText(msg.Document)
		e.waiting = false
		e.log.WithFields(logrus.Fields{"path": path, "length": e.doc.Len()}).Info("document loaded")
		return effect{Reloaded: true}

	case commons.OperationMessage, commons.ChecksumMessage, commons.FileMessage:
		activity, err := msg.Activity()
		if err != nil {
			e.log.WithError(err).Warn("invalid activity from host")
			return effect{}
		}
		return e.handleActivity(activity)
	}

	e.log.WithField("type", msg.Type).Debug("ignoring message")
	return effect{}
}

func (e *engine) handleActivity(activity jupiter.Activity) effect {
	if f, ok := activity.(jupiter.FileActivity); ok {
		return e.handleFile(f)
	}
	if activity.Resource() != e.path || !e.ready() {
		e.log.WithField("activity", activity).Debug("dropping activity")
		return effect{}
	}

	switch a := activity.(type) {
	case jupiter.JupiterActivity:
		op, err := e.client.Receive(a)
		if err != nil {
			return e.resync(err.Error())
		}
		if err := e.doc.Apply(op); err != nil {
			return e.resync(err.Error())
		}
		e.log.WithFields(logrus.Fields{"operation": op, "timestamp": a.Timestamp}).Debug("remote edit")
		return effect{Applied: op}

	case jupiter.ChecksumActivity:
		// A checksum taken before our latest edits reached the host says
		// nothing about our replica.
		if !e.client.IsCurrent(a) {
			return effect{}
		}
		if jupiter.ComputeChecksum(e.doc.String()) != a.Checksum {
			return e.resync("checksum mismatch")
		}
	}
	return effect{}
}

func (e *engine) handleFile(f jupiter.FileActivity) effect {
	switch f.Type {
	case jupiter.FileCreated:
		return effect{Status: fmt.Sprintf("%s was created", f.Path)}

	case jupiter.FileRemoved:
		if f.Path != e.path {
			return effect{}
		}
		e.client.Remove(f.Path)
		e.doc = nil
		e.waiting = true
		return effect{Reloaded: true, Status: fmt.Sprintf("%s was removed", f.Path)}

	case jupiter.FileMoved:
		if f.Path != e.path {
			return effect{}
		}
		e.client.Remove(f.Path)
		e.path = f.NewPath
		return effect{Send: []commons.Message{e.request()}, Status: fmt.Sprintf("%s was moved to %s", f.Path, f.NewPath)}
	}
	return effect{}
}
