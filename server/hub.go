package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/pairpad/commons"
	"github.com/burntcarrot/pairpad/config"
	"github.com/burntcarrot/pairpad/jupiter"
	"github.com/burntcarrot/pairpad/ot"
	"github.com/burntcarrot/pairpad/session"
)

// peer is a connected participant.
type peer struct {
	id       uuid.UUID
	username string

	// projects the participant may see; nil means all of them.
	projects []string
	joined   bool

	// open documents; edits and checksums for other documents are not sent.
	open map[jupiter.Path]bool

	send chan commons.Message
}

func newPeer() *peer {
	return &peer{id: uuid.New(), open: make(map[jupiter.Path]bool), send: make(chan commons.Message, 256)}
}

func (p *peer) sees(path jupiter.Path) bool {
	if p.projects == nil {
		return true
	}
	for _, project := range p.projects {
		if project == path.Project() {
			return true
		}
	}
	return false
}

type inbound struct {
	from *peer
	msg  commons.Message
}

// hub owns the session. Everything that touches documents or membership runs
// on the hub goroutine, so a participant opening a document gets a snapshot
// and a fresh channel that agree with each other.
type hub struct {
	cfg     config.Config
	log     logrus.FieldLogger
	session *session.ConcurrentDocumentServer

	// self holds the host's own engines; the host is a participant of every
	// document, and docs holds its replicas.
	self  *jupiter.Client
	docs  map[jupiter.Path]*ot.Text
	peers map[uuid.UUID]*peer

	register   chan *peer
	unregister chan *peer
	inbound    chan inbound
	requests   chan func()
	done       chan struct{}
}

func newHub(cfg config.Config, log logrus.FieldLogger) *hub {
	host := uuid.New()
	server := jupiter.NewServer(host, jupiter.WithServerLogger(log))

	h := &hub{
		cfg:        cfg,
		log:        log,
		session:    session.New(server, session.WithLogger(log)),
		self:       jupiter.NewClient(host),
		docs:       make(map[jupiter.Path]*ot.Text),
		peers:      make(map[uuid.UUID]*peer),
		register:   make(chan *peer),
		unregister: make(chan *peer),
		inbound:    make(chan inbound),
		requests:   make(chan func()),
		done:       make(chan struct{}),
	}
	for path, content := range cfg.Documents {
		h.docs[jupiter.Path(path)] = ot.NewText(content)
	}
	return h
}

func (h *hub) host() uuid.UUID {
	return h.self.Self()
}

// run processes events until ctx is cancelled.
func (h *hub) run(ctx context.Context) error {
	defer close(h.done)

	var tick <-chan time.Time
	if h.cfg.ChecksumInterval > 0 {
		ticker := time.NewTicker(h.cfg.ChecksumInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case p := <-h.register:
			h.handleRegister(p)
		case p := <-h.unregister:
			h.handleUnregister(p)
		case in := <-h.inbound:
			h.handleMessage(in.from, in.msg)
		case fn := <-h.requests:
			fn()
		case <-tick:
			h.sendChecksums()
		case <-ctx.Done():
			for _, p := range h.peers {
				close(p.send)
			}
			h.peers = map[uuid.UUID]*peer{}
			return nil
		}
	}
}

// do runs fn on the hub goroutine and waits for it.
func (h *hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.requests <- func() { fn(); close(finished) }:
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (h *hub) handleRegister(p *peer) {
	h.peers[p.id] = p
	h.deliver(p, commons.Message{Type: commons.SiteIDMessage, Text: p.id.String(), ID: p.id})
	h.log.WithField("participant", p.id).Debug("connection registered")
}

func (h *hub) handleUnregister(p *peer) {
	if _, ok := h.peers[p.id]; !ok {
		return
	}
	delete(h.peers, p.id)
	close(p.send)

	if p.joined {
		h.session.OnUserLeft(p.id)
		color.Yellow("%s >> %s left the session\n", time.Now().Format(time.ANSIC), p.username)
		h.broadcastUsers()
	}
}

func (h *hub) handleMessage(from *peer, msg commons.Message) {
	// Never trust the sender with its identity.
	msg.ID = from.id

	if msg.Type == commons.JoinMessage {
		h.handleJoin(from, msg)
		return
	}
	if !from.joined {
		h.log.WithFields(logrus.Fields{"participant": from.id, "type": msg.Type}).Warn("message before join")
		return
	}

	switch msg.Type {
	case commons.DocReqMessage:
		h.handleDocReq(from, jupiter.Path(msg.Path))

	case commons.OperationMessage, commons.ChecksumMessage, commons.FileMessage:
		activity, err := msg.Activity()
		if err != nil {
			h.log.WithField("participant", from.id).WithError(err).Warn("invalid activity")
			return
		}
		if !from.sees(activity.Resource()) {
			h.log.WithFields(logrus.Fields{"participant": from.id, "path": activity.Resource()}).Warn("activity for an invisible document")
			return
		}
		if f, ok := activity.(jupiter.FileActivity); ok && f.Type == jupiter.FileMoved {
			if !from.sees(f.NewPath) || !h.known(f.NewPath) {
				h.log.WithFields(logrus.Fields{"participant": from.id, "path": f.Path, "new_path": f.NewPath}).Warn("move to an invisible document")
				return
			}
		}
		h.dispatch(h.session.TransformIncoming(activity))

	default:
		h.log.WithFields(logrus.Fields{"participant": from.id, "type": msg.Type}).Warn("unknown message type")
	}
}

func (h *hub) handleJoin(from *peer, msg commons.Message) {
	if from.joined {
		return
	}
	projects, err := h.cfg.Visible(msg.Username)
	if err != nil {
		h.log.WithField("username", msg.Username).WithError(err).Warn("join refused")
		h.deliver(from, commons.Message{Type: commons.JoinMessage, Text: err.Error()})
		return
	}

	from.username = msg.Username
	from.projects = projects
	from.joined = true
	h.session.OnUserJoined(from.id, projects...)

	color.Green("%s >> %s joined the session\n", time.Now().Format(time.ANSIC), from.username)
	for id, p := range h.peers {
		if id != from.id && p.joined {
			h.deliver(p, commons.Message{Type: commons.JoinMessage, Username: from.username, ID: from.id})
		}
	}
	h.broadcastUsers()
}

// handleDocReq sends a participant the host's copy of a document and restarts
// their channel from [0,0]. It is how a participant opens a document and how
// it recovers from a divergence. An empty path opens the first visible document.
func (h *hub) handleDocReq(from *peer, path jupiter.Path) {
	if path == "" {
		for _, p := range h.paths() {
			if from.sees(p) {
				path = p
				break
			}
		}
	}
	if path == "" || !from.sees(path) {
		h.log.WithFields(logrus.Fields{"participant": from.id, "path": path}).Warn("document request refused")
		return
	}

	doc, ok := h.docs[path]
	if !ok {
		doc = h.createDocument(path, "")
	}
	h.session.Server().GetOrCreate(path)
	if err := h.session.Reset(from.id, path); err != nil {
		h.log.WithFields(logrus.Fields{"participant": from.id, "path": path}).WithError(err).Error("reset failed")
		return
	}
	from.open[path] = true
	h.deliver(from, commons.Message{Type: commons.DocSyncMessage, Path: string(path), Document: doc.String(), ID: h.host()})
}

// dispatch delivers the outcome of a transformation.
func (h *hub) dispatch(out session.Outcome) {
	switch out.Kind {
	case session.OK:
	case session.Rejected:
		return
	case session.NeedsReset:
		if p, ok := h.peers[out.Participant]; ok {
			h.handleDocReq(p, out.Path)
		}
		return
	default:
		color.Red("%s >> dropped activity for %s: %v\n", time.Now().Format(time.ANSIC), out.Path, out.Err)
		return
	}

	result := h.session.ToResult(out.Items)
	for _, a := range result.ExecuteLocally {
		h.applyLocal(a)
	}
	for _, send := range result.SendToPeers {
		msg, err := commons.ActivityMessage(send.Activity)
		if err != nil {
			h.log.WithError(err).Error("failed to encode activity")
			continue
		}
		path := send.Activity.Resource()
		_, isFile := send.Activity.(jupiter.FileActivity)
		for _, id := range send.Recipients {
			if p, ok := h.peers[id]; ok && p.sees(path) && (isFile || p.open[path]) {
				h.deliver(p, msg)
			}
		}
	}
}

// applyLocal brings the host's own replica up to date.
func (h *hub) applyLocal(a jupiter.Activity) {
	switch a := a.(type) {
	case jupiter.JupiterActivity:
		doc, ok := h.docs[a.Path]
		if !ok {
			doc = h.createDocument(a.Path, "")
		}
		op, err := h.self.Receive(a)
		if err == nil {
			err = doc.Apply(op)
		}
		if err != nil {
			// The host's channel runs in process; this is a bug, not a network problem.
			h.log.WithField("path", a.Path).WithError(err).Error("host replica diverged")
		}

	case jupiter.ChecksumActivity:
		doc, ok := h.docs[a.Path]
		if !ok || !h.self.IsCurrent(a) {
			return
		}
		if jupiter.ComputeChecksum(doc.String()) != a.Checksum {
			h.log.WithFields(logrus.Fields{"participant": a.Source, "path": a.Path}).Warn("checksum mismatch")
			if p, ok := h.peers[a.Source]; ok {
				h.handleDocReq(p, a.Path)
			}
		}

	case jupiter.FileActivity:
		h.applyFile(a)
	}
}

func (h *hub) applyFile(a jupiter.FileActivity) {
	switch a.Type {
	case jupiter.FileCreated:
		if _, ok := h.docs[a.Path]; !ok {
			h.docs[a.Path] = ot.NewText("")
		}
	case jupiter.FileRemoved:
		delete(h.docs, a.Path)
		h.self.Remove(a.Path)
	case jupiter.FileMoved:
		if doc, ok := h.docs[a.Path]; ok {
			delete(h.docs, a.Path)
			h.docs[a.NewPath] = doc
		}
		h.self.Remove(a.Path)
	}
	if a.Type != jupiter.FileCreated {
		for _, p := range h.peers {
			delete(p.open, a.Path)
		}
	}
}

// edit applies a change made by the host itself and sends it to everybody.
func (h *hub) edit(path jupiter.Path, content string) {
	doc, ok := h.docs[path]
	if !ok {
		doc = h.createDocument(path, "")
	}
	op := ot.Diff(doc.String(), content)
	if _, noop := op.(ot.NoOp); noop {
		return
	}
	if err := doc.Apply(op); err != nil {
		h.log.WithField("path", path).WithError(err).Error("host edit failed")
		return
	}
	h.dispatch(h.session.TransformIncoming(h.self.Generate(path, op)))
}

// createDocument adds a document and tells everybody about it.
func (h *hub) createDocument(path jupiter.Path, content string) *ot.Text {
	doc := ot.NewText(content)
	h.docs[path] = doc
	h.dispatch(h.session.TransformIncoming(jupiter.FileActivity{Type: jupiter.FileCreated, Path: path, Source: h.host()}))
	return doc
}

// removeDocument drops a document and tells everybody about it.
func (h *hub) removeDocument(path jupiter.Path) bool {
	if _, ok := h.docs[path]; !ok {
		return false
	}
	a := jupiter.FileActivity{Type: jupiter.FileRemoved, Path: path, Source: h.host()}
	h.applyFile(a)
	h.dispatch(h.session.TransformIncoming(a))
	return true
}

// sendChecksums sends a checksum of every document to its participants.
func (h *hub) sendChecksums() {
	for _, path := range h.paths() {
		if _, ok := h.session.Server().Get(path); !ok {
			continue
		}
		c := h.self.WithTimestamp(jupiter.ChecksumActivity{
			Path:     path,
			Checksum: jupiter.ComputeChecksum(h.docs[path].String()),
		})
		h.dispatch(h.session.TransformIncoming(c))
	}
}

func (h *hub) broadcastUsers() {
	names := []string{h.cfg.Name}
	for _, p := range h.peers {
		if p.joined {
			names = append(names, p.username)
		}
	}
	sort.Strings(names[1:])
	msg := commons.Message{Type: commons.UsersMessage, Text: strings.Join(names, ","), ID: h.host()}
	for _, p := range h.peers {
		if p.joined {
			h.deliver(p, msg)
		}
	}
}

// deliver queues a message for a peer. A peer that cannot keep up is dropped;
// it reconnects and starts over from a docSync.
func (h *hub) deliver(p *peer, msg commons.Message) {
	if _, ok := h.peers[p.id]; !ok {
		return
	}
	select {
	case p.send <- msg:
	default:
		h.log.WithField("participant", p.id).Warn("send buffer full, dropping connection")
		h.handleUnregister(p)
	}
}

func (h *hub) paths() []jupiter.Path {
	paths := make([]jupiter.Path, 0, len(h.docs))
	for p := range h.docs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}
