package jupiter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DocumentServer is the host-side authority for one document. It keeps a proxy
// client (a server-side Jupiter engine) per participant and turns every
// incoming activity into one activity per other participant.
//
// All methods are serialized per document: the order in which activities
// reach Transform is the canonical order of the document.
type DocumentServer struct {
	path Path

	mu      sync.Mutex
	proxies map[uuid.UUID]*Jupiter
}

// NewDocumentServer returns a document server without participants.
func NewDocumentServer(path Path) *DocumentServer {
	return &DocumentServer{
		path:    path,
		proxies: make(map[uuid.UUID]*Jupiter),
	}
}

// Path returns the document this server is responsible for.
func (s *DocumentServer) Path() Path {
	return s.path
}

// AddProxyClient registers a participant at time [0,0]. Adding a participant
// that is already registered keeps its existing history.
func (s *DocumentServer) AddProxyClient(participant uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proxies[participant]; ok {
		return
	}
	s.proxies[participant] = NewJupiter(s.path, false)
}

// RemoveProxyClient drops all state for a participant. It returns false if the
// participant was not registered.
func (s *DocumentServer) RemoveProxyClient(participant uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proxies[participant]; !ok {
		return false
	}
	delete(s.proxies, participant)
	return true
}

// HasProxyClient reports whether participant is registered.
func (s *DocumentServer) HasProxyClient(participant uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.proxies[participant]
	return ok
}

// Participants returns the registered participants in a stable order.
func (s *DocumentServer) Participants() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}

func (s *DocumentServer) participantsLocked() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.proxies))
	for id := range s.proxies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Transform integrates an activity from its source and returns, for every other
// participant, the activity that brings that participant to the same state.
//
// The source's proxy client transforms the operation against whatever the host
// forwarded to the source in the meantime; the result is then generated on
// every other proxy client, which stamps it for its own channel. Proxy clients
// never look at each other's logs.
func (s *DocumentServer) Transform(activity JupiterActivity) (map[uuid.UUID]JupiterActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activity.Path != s.path {
		return nil, fmt.Errorf("transform %s on %s: %w", activity.Path, s.path, ErrPathMismatch)
	}
	source, ok := s.proxies[activity.Source]
	if !ok {
		return nil, fmt.Errorf("transform %s from %s: %w", s.path, activity.Source, ErrUnknownParticipant)
	}

	op, err := source.Receive(activity)
	if err != nil {
		return nil, withParticipant(err, activity.Source)
	}

	out := make(map[uuid.UUID]JupiterActivity, len(s.proxies)-1)
	for id, proxy := range s.proxies {
		if id == activity.Source {
			continue
		}
		out[id] = proxy.Generate(op, activity.Source)
	}
	return out, nil
}

// WithTimestamp verifies that a checksum was taken by its source at the time the
// host is at for that source, and stamps a copy for every other participant
// with the current time of its channel. Logs and counters are not touched.
func (s *DocumentServer) WithTimestamp(checksum ChecksumActivity) (map[uuid.UUID]ChecksumActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if checksum.Path != s.path {
		return nil, fmt.Errorf("stamp checksum %s on %s: %w", checksum.Path, s.path, ErrPathMismatch)
	}
	source, ok := s.proxies[checksum.Source]
	if !ok {
		return nil, fmt.Errorf("stamp checksum %s from %s: %w", s.path, checksum.Source, ErrUnknownParticipant)
	}
	if !source.IsCurrent(checksum.Timestamp) {
		err := newTransformationError(ErrCodeStaleChecksum,
			"checksum was not taken at the current time of the channel",
			s.path, checksum.Timestamp, source.Time())
		err.Participant = checksum.Source
		return nil, err
	}

	out := make(map[uuid.UUID]ChecksumActivity, len(s.proxies))
	for id, proxy := range s.proxies {
		if id == checksum.Source {
			continue
		}
		out[id] = proxy.WithTimestamp(checksum)
	}
	return out, nil
}

// Reset puts a participant's channel back to [0,0] with an empty log. It must go
// together with a reset of the participant's own engine for the document.
func (s *DocumentServer) Reset(participant uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proxies[participant]; !ok {
		return fmt.Errorf("reset %s for %s: %w", s.path, participant, ErrUnknownParticipant)
	}
	s.proxies[participant] = NewJupiter(s.path, false)
	return nil
}

// Time returns the vector time of a participant's channel.
func (s *DocumentServer) Time(participant uuid.UUID) (VectorTime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proxy, ok := s.proxies[participant]
	if !ok {
		return VectorTime{}, false
	}
	return proxy.Time(), true
}

func withParticipant(err error, participant uuid.UUID) error {
	var te *TransformationError
	if errors.As(err, &te) {
		te.Participant = participant
	}
	return err
}
