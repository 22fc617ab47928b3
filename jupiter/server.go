package jupiter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// membership records which projects a participant can see. A nil set means all
// projects.
type membership map[string]struct{}

func (m membership) sees(p Path) bool {
	if m == nil {
		return true
	}
	_, ok := m[p.Project()]
	return ok
}

// Server is the host's registry of document servers, keyed by path.
//
// The registry lock guards the map, the member list and enrolment; it is
// always taken before a document server's lock. Transformations run under the
// lock of the document server they concern only, so activities for different
// documents proceed independently.
type Server struct {
	host uuid.UUID
	log  logrus.FieldLogger

	mu      sync.RWMutex
	docs    map[Path]*DocumentServer
	members map[uuid.UUID]membership
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used for lifecycle events.
func WithServerLogger(log logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer returns an empty registry. The host takes part in every document.
func NewServer(host uuid.UUID, opts ...ServerOption) *Server {
	s := &Server{
		host:    host,
		log:     logrus.StandardLogger(),
		docs:    make(map[Path]*DocumentServer),
		members: map[uuid.UUID]membership{host: nil},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Host returns the participant hosting the session.
func (s *Server) Host() uuid.UUID {
	return s.host
}

// OnUserJoined registers a participant and enrols it in every tracked document
// it can see. Without projects the participant sees every project.
func (s *Server) OnUserJoined(user uuid.UUID, projects ...string) {
	var m membership
	if len(projects) > 0 {
		m = make(membership, len(projects))
		for _, p := range projects {
			m[p] = struct{}{}
		}
	}

	s.mu.Lock()
	s.members[user] = m
	for _, doc := range s.docs {
		if m.sees(doc.Path()) {
			doc.AddProxyClient(user)
		}
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"user": user, "projects": projects}).Debug("user joined")
}

// OnProjectShared makes a project visible to a participant that already joined
// and enrols it in the project's tracked documents.
func (s *Server) OnProjectShared(user uuid.UUID, project string) error {
	s.mu.Lock()
	m, ok := s.members[user]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("share %s with %s: %w", project, user, ErrUnknownParticipant)
	}
	if m != nil {
		m[project] = struct{}{}
	}
	for _, doc := range s.docs {
		if doc.Path().Project() == project {
			doc.AddProxyClient(user)
		}
	}
	s.mu.Unlock()
	return nil
}

// OnUserLeft removes a participant from the session and from every document.
func (s *Server) OnUserLeft(user uuid.UUID) {
	s.mu.Lock()
	delete(s.members, user)
	for _, doc := range s.docs {
		doc.RemoveProxyClient(user)
	}
	s.mu.Unlock()

	s.log.WithField("user", user).Debug("user left")
}

// OnPathRemoved evicts the document server for path. Later activity for the
// path starts from a fresh server without history.
func (s *Server) OnPathRemoved(path Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path]; !ok {
		return false
	}
	delete(s.docs, path)
	s.log.WithField("path", path).Debug("document server evicted")
	return true
}

// IsMember reports whether user is part of the session.
func (s *Server) IsMember(user uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[user]
	return ok
}

// Get returns the document server for path, if one is tracked.
func (s *Server) Get(path Path) (*DocumentServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	return doc, ok
}

// GetOrCreate returns the document server for path, creating it with every
// member that can see the path's project.
func (s *Server) GetOrCreate(path Path) *DocumentServer {
	if doc, ok := s.Get(path); ok {
		return doc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.docs[path]; ok {
		return doc
	}
	doc := NewDocumentServer(path)
	for user, m := range s.members {
		if m.sees(path) {
			doc.AddProxyClient(user)
		}
	}
	s.docs[path] = doc
	s.log.WithFields(logrus.Fields{"path": path, "participants": len(doc.proxies)}).Debug("document server created")
	return doc
}

// Transform hands an activity to the document server of its path.
func (s *Server) Transform(activity JupiterActivity) (map[uuid.UUID]JupiterActivity, error) {
	return s.GetOrCreate(activity.Path).Transform(activity)
}

// WithTimestamp hands a checksum to the document server of its path.
func (s *Server) WithTimestamp(checksum ChecksumActivity) (map[uuid.UUID]ChecksumActivity, error) {
	return s.GetOrCreate(checksum.Path).WithTimestamp(checksum)
}

// Reset resets one participant's channel for path. Resetting a path without a
// document server is a no-op: the next access starts from scratch anyway.
func (s *Server) Reset(user uuid.UUID, path Path) error {
	doc, ok := s.Get(path)
	if !ok {
		return nil
	}
	return doc.Reset(user)
}

// Paths returns the tracked documents in sorted order.
func (s *Server) Paths() []Path {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]Path, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// Members returns the participants of the session, host included.
func (s *Server) Members() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
