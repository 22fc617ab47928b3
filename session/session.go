// Package session is the host's entry point for activities arriving from
// participants. It feeds them through the Jupiter registry and says who gets
// what: the host's own buffers or specific peers.
package session

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/pairpad/jupiter"
)

// ErrUnsupportedActivity is returned for activity types the session does not handle.
var ErrUnsupportedActivity = errors.New("unsupported activity")

// ConcurrentDocumentServer routes incoming activities to the document servers
// of a session. It is safe for concurrent use; activities for different
// documents do not block each other.
type ConcurrentDocumentServer struct {
	server *jupiter.Server
	log    logrus.FieldLogger
}

// Option configures a ConcurrentDocumentServer.
type Option func(*ConcurrentDocumentServer)

// WithLogger sets the logger for failed transformations and lifecycle events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *ConcurrentDocumentServer) {
		s.log = log
	}
}

// New returns a session façade over server.
func New(server *jupiter.Server, opts ...Option) *ConcurrentDocumentServer {
	s := &ConcurrentDocumentServer{
		server: server,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Host returns the participant hosting the session.
func (s *ConcurrentDocumentServer) Host() uuid.UUID {
	return s.server.Host()
}

// Server returns the underlying registry.
func (s *ConcurrentDocumentServer) Server() *jupiter.Server {
	return s.server
}

// TransformIncoming integrates an activity and returns what has to be
// delivered to whom.
//
// File activities are handled first: a removal or a move evicts the document
// server of the old path before anything else can transform against it. Edits
// and checksums then go through the document server of their path. Items are
// ordered by recipient and never address a participant that already left.
func (s *ConcurrentDocumentServer) TransformIncoming(activity jupiter.Activity) Outcome {
	out := Outcome{Participant: activity.Originator(), Path: activity.Resource()}

	switch a := activity.(type) {
	case jupiter.FileActivity:
		s.observeFile(a)
		for _, id := range s.server.Members() {
			if id != a.Source {
				out.Items = append(out.Items, QueueItem{Recipient: id, Activity: a})
			}
		}
		return out

	case jupiter.JupiterActivity:
		transformed, err := s.server.Transform(a)
		if err != nil {
			return s.fail(out, err)
		}
		for id, t := range transformed {
			out.Items = append(out.Items, QueueItem{Recipient: id, Activity: t})
		}

	case jupiter.ChecksumActivity:
		stamped, err := s.server.WithTimestamp(a)
		if err != nil {
			return s.fail(out, err)
		}
		for id, c := range stamped {
			out.Items = append(out.Items, QueueItem{Recipient: id, Activity: c})
		}

	default:
		return s.fail(out, fmt.Errorf("%T: %w", activity, ErrUnsupportedActivity))
	}

	out.Items = s.present(out.Items)
	return out
}

// ToResult splits the items of an outcome for delivery.
func (s *ConcurrentDocumentServer) ToResult(items []QueueItem) TransformationResult {
	return ToResult(s.server.Host(), items)
}

// Reset puts the channel between the host and participant for path back to
// [0,0]. The participant has to drop its engine for the path as well.
func (s *ConcurrentDocumentServer) Reset(participant uuid.UUID, path jupiter.Path) error {
	if err := s.server.Reset(participant, path); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"participant": participant, "path": path}).Info("channel reset")
	return nil
}

// OnUserJoined registers a participant with the projects it can see.
func (s *ConcurrentDocumentServer) OnUserJoined(user uuid.UUID, projects ...string) {
	s.server.OnUserJoined(user, projects...)
}

// OnProjectShared makes project visible to user.
func (s *ConcurrentDocumentServer) OnProjectShared(user uuid.UUID, project string) error {
	return s.server.OnProjectShared(user, project)
}

// OnUserLeft removes a participant from every document.
func (s *ConcurrentDocumentServer) OnUserLeft(user uuid.UUID) {
	s.server.OnUserLeft(user)
}

// OnPathRemoved evicts the document server of path.
func (s *ConcurrentDocumentServer) OnPathRemoved(path jupiter.Path) bool {
	return s.server.OnPathRemoved(path)
}

func (s *ConcurrentDocumentServer) observeFile(a jupiter.FileActivity) {
	switch a.Type {
	case jupiter.FileRemoved, jupiter.FileMoved:
		if s.server.OnPathRemoved(a.Path) {
			s.log.WithFields(logrus.Fields{"path": a.Path, "type": a.Type}).Info("document evicted")
		}
	}
}

// present drops items for participants that left while the activity was being
// transformed and orders the rest by recipient.
func (s *ConcurrentDocumentServer) present(items []QueueItem) []QueueItem {
	kept := items[:0]
	for _, item := range items {
		if s.server.IsMember(item.Recipient) {
			kept = append(kept, item)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Recipient.String() < kept[j].Recipient.String()
	})
	return kept
}

func (s *ConcurrentDocumentServer) fail(out Outcome, err error) Outcome {
	out.Err = err
	switch {
	case jupiter.IsStaleChecksum(err):
		out.Kind = Rejected
	case jupiter.IsTransformationError(err):
		out.Kind = NeedsReset
	default:
		out.Kind = Fatal
	}

	entry := s.log.WithFields(logrus.Fields{
		"participant": out.Participant,
		"path":        out.Path,
		"outcome":     out.Kind,
	}).WithError(err)
	if out.Kind == Rejected {
		entry.Debug("checksum rejected")
	} else {
		entry.Warn("activity not transformed")
	}
	return out
}
