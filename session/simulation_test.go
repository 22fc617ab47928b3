package session

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/burntcarrot/pairpad/jupiter"
	"github.com/burntcarrot/pairpad/ot"
)

var hostID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

const docPath = jupiter.Path("project/notes.txt")

func memberID(name string) uuid.UUID {
	if name == "host" {
		return hostID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// member is a participant of a simulated session: its engines, its buffer and
// the two FIFO channels between it and the host.
type member struct {
	name   string
	id     uuid.UUID
	client *jupiter.Client
	doc    *ot.Text
	outbox []jupiter.Activity
	inbox  []jupiter.Activity
	left   bool
}

// simulation runs a session in memory and records a transcript of every
// generated, received and applied operation.
type simulation struct {
	t       *testing.T
	session *ConcurrentDocumentServer
	hook    *test.Hook
	host    *member
	members []*member
	byID    map[uuid.UUID]*member
	trace   bytes.Buffer
}

func newSimulation(t *testing.T, initial string, names ...string) *simulation {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	s := &simulation{
		t:       t,
		session: New(jupiter.NewServer(hostID, jupiter.WithServerLogger(log)), WithLogger(log)),
		hook:    hook,
		byID:    make(map[uuid.UUID]*member),
	}
	s.host = s.newMember("host", initial)
	for _, name := range names {
		m := s.newMember(name, initial)
		s.members = append(s.members, m)
		s.session.OnUserJoined(m.id)
	}
	return s
}

func (s *simulation) newMember(name, initial string) *member {
	id := memberID(name)
	m := &member{name: name, id: id, client: jupiter.NewClient(id), doc: ot.NewText(initial)}
	s.byID[id] = m
	return m
}

func (s *simulation) member(name string) *member {
	if name == "host" {
		return s.host
	}
	for _, m := range s.members {
		if m.name == name {
			return m
		}
	}
	s.t.Fatalf("unknown member %q", name)
	return nil
}

func (s *simulation) logf(format string, args ...interface{}) {
	fmt.Fprintf(&s.trace, format+"\n", args...)
}

func (s *simulation) edit(name string, op ot.Operation) {
	m := s.member(name)
	require.NoError(s.t, m.doc.Apply(op))
	a := m.client.Generate(docPath, op)
	s.logf("%s generates %s at %s", m.name, op, a.Timestamp)
	s.submit(m, a)
}

func (s *simulation) checksum(name string) {
	m := s.member(name)
	c := m.client.WithTimestamp(jupiter.ChecksumActivity{
		Path:     docPath,
		Checksum: jupiter.ComputeChecksum(m.doc.String()),
	})
	s.logf("%s checksums %q at %s", m.name, m.doc.String(), c.Timestamp)
	s.submit(m, c)
}

func (s *simulation) submit(m *member, a jupiter.Activity) {
	if m == s.host {
		s.process(a)
		return
	}
	m.outbox = append(m.outbox, a)
}

// process hands an activity to the session and delivers the result: local
// items right away, remote items into the inboxes of their recipients.
func (s *simulation) process(a jupiter.Activity) {
	out := s.session.TransformIncoming(a)
	require.Equal(s.t, OK, out.Kind, "%v", out)

	r := s.session.ToResult(out.Items)
	for _, local := range r.ExecuteLocally {
		s.receive(s.host, local)
	}
	for _, send := range r.SendToPeers {
		for _, id := range send.Recipients {
			m := s.byID[id]
			m.inbox = append(m.inbox, send.Activity)
		}
	}
}

func (s *simulation) receive(m *member, a jupiter.Activity) {
	switch a := a.(type) {
	case jupiter.JupiterActivity:
		s.logf("%s receives %s at %s from %s", m.name, a.Operation, a.Timestamp, s.byID[a.Source].name)
		op, err := m.client.Receive(a)
		require.NoError(s.t, err)
		require.NoError(s.t, m.doc.Apply(op))
		s.logf("%s applies %s", m.name, op)
	case jupiter.ChecksumActivity:
		if !m.client.IsCurrent(a) {
			s.logf("%s checks checksum at %s: stale", m.name, a.Timestamp)
			return
		}
		result := "match"
		if jupiter.ComputeChecksum(m.doc.String()) != a.Checksum {
			result = "mismatch"
		}
		s.logf("%s checks checksum at %s: current, %s", m.name, a.Timestamp, result)
	case jupiter.FileActivity:
		m.client.Remove(a.Path)
		s.logf("%s drops %s", m.name, a.Path)
	}
}

func (s *simulation) flushOne(m *member) bool {
	if m.left || len(m.outbox) == 0 {
		return false
	}
	a := m.outbox[0]
	m.outbox = m.outbox[1:]
	s.process(a)
	return true
}

func (s *simulation) drainOne(m *member) bool {
	if m.left || len(m.inbox) == 0 {
		return false
	}
	a := m.inbox[0]
	m.inbox = m.inbox[1:]
	s.receive(m, a)
	return true
}

// sync delivers everything in flight until the session is quiet.
func (s *simulation) sync() {
	for {
		progress := false
		for _, m := range s.members {
			for s.flushOne(m) {
				progress = true
			}
		}
		for _, m := range s.members {
			for s.drainOne(m) {
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// leave disconnects a member. Whatever it had in flight is lost.
func (s *simulation) leave(name string) {
	m := s.member(name)
	m.left = true
	m.outbox, m.inbox = nil, nil
	s.session.OnUserLeft(m.id)
	s.logf("%s leaves", m.name)
}

func (s *simulation) present() []*member {
	all := []*member{s.host}
	for _, m := range s.members {
		if !m.left {
			all = append(all, m)
		}
	}
	return all
}

func (s *simulation) finish() {
	for _, m := range s.present() {
		s.logf("%s: %q", m.name, m.doc.String())
	}
}

func (s *simulation) requireConverged(expected string) {
	s.t.Helper()
	for _, m := range s.present() {
		require.Equal(s.t, expected, m.doc.String(), "document of %s", m.name)
	}
}
