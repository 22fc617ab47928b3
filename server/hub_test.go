package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burntcarrot/pairpad/commons"
	"github.com/burntcarrot/pairpad/config"
	"github.com/burntcarrot/pairpad/jupiter"
	"github.com/burntcarrot/pairpad/ot"
)

const todo = jupiter.Path("notes/todo.txt")

func newTestHub(t *testing.T, cfg config.Config) *hub {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg.ChecksumInterval = 0
	return newHub(cfg, logger)
}

func notesConfig() config.Config {
	cfg := config.Default()
	cfg.Documents = map[string]string{string(todo): "hello"}
	return cfg
}

// participant drives the hub the way a connection would, with its own replicas.
type participant struct {
	t      *testing.T
	h      *hub
	peer   *peer
	client *jupiter.Client
	docs   map[jupiter.Path]*ot.Text
	inbox  []commons.Message
}

func join(t *testing.T, h *hub, name string) *participant {
	t.Helper()
	p := newPeer()
	h.handleRegister(p)
	h.handleMessage(p, commons.Message{Type: commons.JoinMessage, Username: name})
	return &participant{t: t, h: h, peer: p, client: jupiter.NewClient(p.id), docs: make(map[jupiter.Path]*ot.Text)}
}

func (p *participant) open(path jupiter.Path) {
	p.h.handleMessage(p.peer, commons.Message{Type: commons.DocReqMessage, Path: string(path)})
	p.sync()
}

func (p *participant) edit(path jupiter.Path, op ot.Operation) {
	p.t.Helper()
	require.NoError(p.t, p.docs[path].Apply(op))
	msg, err := commons.ActivityMessage(p.client.Generate(path, op))
	require.NoError(p.t, err)
	p.h.handleMessage(p.peer, msg)
}

func (p *participant) checksum(path jupiter.Path) {
	p.t.Helper()
	c := p.client.WithTimestamp(jupiter.ChecksumActivity{Path: path, Checksum: jupiter.ComputeChecksum(p.docs[path].String())})
	msg, err := commons.ActivityMessage(c)
	require.NoError(p.t, err)
	p.h.handleMessage(p.peer, msg)
}

// sync applies everything the hub queued for the participant.
func (p *participant) sync() {
	p.t.Helper()
	for _, msg := range drain(p.peer) {
		p.inbox = append(p.inbox, msg)
		switch msg.Type {
		case commons.DocSyncMessage:
			path := jupiter.Path(msg.Path)
			p.client.Reset(path)
			p.docs[path] = ot.NewText(msg.Document)
		case commons.OperationMessage:
			activity, err := msg.Activity()
			require.NoError(p.t, err)
			op, err := p.client.Receive(activity.(jupiter.JupiterActivity))
			require.NoError(p.t, err)
			require.NoError(p.t, p.docs[activity.Resource()].Apply(op))
		}
	}
}

func (p *participant) received(typ commons.MessageType) []commons.Message {
	var msgs []commons.Message
	for _, msg := range p.inbox {
		if msg.Type == typ {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func drain(p *peer) []commons.Message {
	var msgs []commons.Message
	for {
		select {
		case msg, ok := <-p.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestHub_JoinAndOpen(t *testing.T) {
	h := newTestHub(t, notesConfig())
	alice := join(t, h, "alice")
	alice.open("")

	require.Len(t, alice.received(commons.SiteIDMessage), 1)
	assert.Equal(t, alice.peer.id.String(), alice.received(commons.SiteIDMessage)[0].Text)

	users := alice.received(commons.UsersMessage)
	require.NotEmpty(t, users)
	assert.Equal(t, "host,alice", users[len(users)-1].Text)

	syncs := alice.received(commons.DocSyncMessage)
	require.Len(t, syncs, 1)
	assert.Equal(t, string(todo), syncs[0].Path)
	assert.Equal(t, "hello", syncs[0].Document)
	assert.True(t, alice.peer.open[todo])

	alice.edit(todo, ot.Insert{Position: 5, Text: " world"})
	assert.Equal(t, "hello world", h.docs[todo].String())
}

func TestHub_ConcurrentEdits(t *testing.T) {
	h := newTestHub(t, notesConfig())
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	alice.open(todo)
	bob.open(todo)

	alice.edit(todo, ot.Insert{Position: 0, Text: "A"})
	bob.edit(todo, ot.Insert{Position: 5, Text: "B"})
	alice.sync()
	bob.sync()

	assert.Equal(t, "AhelloB", h.docs[todo].String())
	assert.Equal(t, "AhelloB", alice.docs[todo].String())
	assert.Equal(t, "AhelloB", bob.docs[todo].String())

	// Both replicas still agree with the host's checksums.
	h.sendChecksums()
	alice.sync()
	bob.sync()
	assert.Len(t, alice.received(commons.ChecksumMessage), 1)
	assert.Len(t, alice.received(commons.DocSyncMessage), 1)
}

func TestHub_ChecksumMismatchResyncs(t *testing.T) {
	h := newTestHub(t, notesConfig())
	alice := join(t, h, "alice")
	alice.open(todo)

	alice.checksum(todo)
	alice.sync()
	assert.Len(t, alice.received(commons.DocSyncMessage), 1, "a matching checksum changes nothing")

	alice.docs[todo].Set("garbage")
	alice.checksum(todo)
	alice.sync()

	syncs := alice.received(commons.DocSyncMessage)
	require.Len(t, syncs, 2)
	assert.Equal(t, "hello", syncs[1].Document)
	assert.Equal(t, "hello", alice.docs[todo].String())
}

func TestHub_StaleChannelResyncs(t *testing.T) {
	h := newTestHub(t, notesConfig())
	alice := join(t, h, "alice")
	alice.open(todo)

	// An operation acknowledging a host operation that never existed.
	msg, err := commons.ActivityMessage(jupiter.JupiterActivity{
		Path:      todo,
		Timestamp: jupiter.VectorTime{Local: 0, Remote: 3},
		Operation: ot.Insert{Position: 0, Text: "x"},
		Source:    alice.peer.id,
	})
	require.NoError(t, err)
	h.handleMessage(alice.peer, msg)
	alice.sync()

	assert.Equal(t, "hello", h.docs[todo].String())
	assert.Len(t, alice.received(commons.DocSyncMessage), 2)
}

func TestHub_Visibility(t *testing.T) {
	cfg := config.Default()
	cfg.Projects = map[string]config.Project{
		"website": {},
		"secret":  {Members: []string{"alice"}},
	}
	cfg.Documents = map[string]string{"website/index.html": "<h1>", "secret/plan.txt": "plan"}
	h := newTestHub(t, cfg)

	bob := join(t, h, "bob")
	bob.open("secret/plan.txt")
	assert.Empty(t, bob.received(commons.DocSyncMessage))

	bob.open("")
	syncs := bob.received(commons.DocSyncMessage)
	require.Len(t, syncs, 1)
	assert.Equal(t, "website/index.html", syncs[0].Path)

	alice := join(t, h, "alice")
	alice.open("secret/plan.txt")
	alice.edit("secret/plan.txt", ot.Delete{Position: 0, Length: 4})
	bob.sync()
	assert.Empty(t, bob.received(commons.OperationMessage))
	assert.Equal(t, "", h.docs["secret/plan.txt"].String())

	cfg.Projects = map[string]config.Project{"secret": {Members: []string{"alice"}}}
	h = newTestHub(t, cfg)
	mallory := join(t, h, "mallory")
	mallory.sync()
	assert.False(t, mallory.peer.joined)
	refusals := mallory.received(commons.JoinMessage)
	require.Len(t, refusals, 1)
	assert.Contains(t, refusals[0].Text, config.ErrNotShared.Error())
}

func TestHub_ParticipantLeaves(t *testing.T) {
	h := newTestHub(t, notesConfig())
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	alice.open(todo)
	bob.open(todo)

	bob.edit(todo, ot.Insert{Position: 0, Text: ">"})
	h.handleUnregister(bob.peer)
	assert.False(t, h.session.Server().IsMember(bob.peer.id))

	alice.edit(todo, ot.Insert{Position: 5, Text: "!"})
	alice.sync()
	assert.Equal(t, ">hello!", h.docs[todo].String())
	assert.Equal(t, ">hello!", alice.docs[todo].String())

	users := alice.received(commons.UsersMessage)
	assert.Equal(t, "host,alice", users[len(users)-1].Text)

	// The hub closed bob's queue.
	_, ok := <-bob.peer.send
	for ok {
		_, ok = <-bob.peer.send
	}
}

func TestHub_FileEvents(t *testing.T) {
	h := newTestHub(t, notesConfig())
	alice := join(t, h, "alice")
	alice.open(todo)

	msg, err := commons.ActivityMessage(jupiter.FileActivity{Type: jupiter.FileMoved, Path: todo, NewPath: "notes/done.txt", Source: alice.peer.id})
	require.NoError(t, err)
	h.handleMessage(alice.peer, msg)

	_, ok := h.session.Server().Get(todo)
	assert.False(t, ok)
	assert.Equal(t, []jupiter.Path{"notes/done.txt"}, h.paths())
	assert.Equal(t, "hello", h.docs["notes/done.txt"].String())
	assert.False(t, alice.peer.open[todo])

	assert.True(t, h.removeDocument("notes/done.txt"))
	assert.False(t, h.removeDocument("notes/done.txt"))
	alice.sync()
	files := alice.received(commons.FileMessage)
	require.Len(t, files, 1)
	assert.Equal(t, string(jupiter.FileRemoved), files[0].Text)
}

func TestHub_MoveNeedsVisibleDestination(t *testing.T) {
	cfg := notesConfig()
	cfg.Projects = map[string]config.Project{
		"notes":  {Members: []string{"alice"}},
		"secret": {Members: []string{"bob"}},
	}
	h := newTestHub(t, cfg)
	alice := join(t, h, "alice")
	alice.open(todo)

	tests := []struct {
		description string
		msg         commons.Message
	}{
		{
			description: "move without a new path",
			msg:         commons.Message{Type: commons.FileMessage, Path: string(todo), Text: string(jupiter.FileMoved)},
		},
		{
			description: "move into a project that is not shared",
			msg:         commons.Message{Type: commons.FileMessage, Path: string(todo), NewPath: "secret/x.txt", Text: string(jupiter.FileMoved)},
		},
		{
			description: "move into an unknown project",
			msg:         commons.Message{Type: commons.FileMessage, Path: string(todo), NewPath: "other/x.txt", Text: string(jupiter.FileMoved)},
		},
		{
			description: "move out of every project",
			msg:         commons.Message{Type: commons.FileMessage, Path: string(todo), NewPath: "x.txt", Text: string(jupiter.FileMoved)},
		},
	}

	for _, tc := range tests {
		h.handleMessage(alice.peer, tc.msg)
		assert.Equal(t, []jupiter.Path{todo}, h.paths(), tc.description)
		assert.True(t, alice.peer.open[todo], tc.description)
	}
	alice.sync()
	assert.Empty(t, alice.received(commons.FileMessage))
}

func TestAdminAPI(t *testing.T) {
	h := newTestHub(t, notesConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.run(ctx) }()

	srv := httptest.NewServer(newRouter(h))
	defer srv.Close()

	do := func(method, path, body string) (int, string) {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(data)
	}

	status, body := do(http.MethodGet, "/documents/notes/todo.txt", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", body)

	status, _ = do(http.MethodPut, "/documents/notes/todo.txt", "hi there")
	assert.Equal(t, http.StatusNoContent, status)

	status, body = do(http.MethodGet, "/documents", "")
	require.Equal(t, http.StatusOK, status)
	var docs []documentInfo
	require.NoError(t, json.Unmarshal([]byte(body), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, string(todo), docs[0].Path)
	assert.Equal(t, 8, docs[0].Length)
	assert.Equal(t, jupiter.ComputeChecksum("hi there").String(), docs[0].Checksum)

	status, _ = do(http.MethodPut, "/documents/README", "x")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(http.MethodDelete, "/documents/notes/todo.txt", "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(http.MethodGet, "/documents/notes/todo.txt", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = do(http.MethodDelete, "/documents/notes/todo.txt", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWebsocketSession(t *testing.T) {
	h := newTestHub(t, notesConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.run(ctx) }()

	srv := httptest.NewServer(newRouter(h))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func(typ commons.MessageType) commons.Message {
		t.Helper()
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			var msg commons.Message
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Type == typ {
				return msg
			}
		}
	}

	siteID := read(commons.SiteIDMessage)
	client := jupiter.NewClient(siteID.ID)

	require.NoError(t, conn.WriteJSON(commons.Message{Type: commons.JoinMessage, Username: "alice"}))
	assert.Equal(t, "host,alice", read(commons.UsersMessage).Text)

	require.NoError(t, conn.WriteJSON(commons.Message{Type: commons.DocReqMessage, Path: string(todo)}))
	doc := ot.NewText(read(commons.DocSyncMessage).Document)
	assert.Equal(t, "hello", doc.String())

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/documents/notes/todo.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	activity, err := read(commons.OperationMessage).Activity()
	require.NoError(t, err)
	op, err := client.Receive(activity.(jupiter.JupiterActivity))
	require.NoError(t, err)
	require.NoError(t, doc.Apply(op))
	assert.Equal(t, "hello world", doc.String())

	edit := ot.Insert{Position: 0, Text: "> "}
	require.NoError(t, doc.Apply(edit))
	msg, err := commons.ActivityMessage(client.Generate(todo, edit))
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/documents/notes/todo.txt")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return string(data) == "> hello world"
	}, 5*time.Second, 10*time.Millisecond)
}
