package session

import (
	"github.com/google/uuid"

	"github.com/burntcarrot/pairpad/jupiter"
)

// Send is one network send: the same activity for a set of recipients.
type Send struct {
	Recipients []uuid.UUID
	Activity   jupiter.Activity
}

// TransformationResult splits queue items into activities for the host's own
// buffers and activities for the network.
type TransformationResult struct {
	ExecuteLocally []jupiter.Activity
	SendToPeers    []Send
}

// Empty reports whether there is nothing to deliver.
func (r TransformationResult) Empty() bool {
	return len(r.ExecuteLocally) == 0 && len(r.SendToPeers) == 0
}

// ToResult sorts items into the two buckets of a TransformationResult. Items
// for host go to ExecuteLocally. Remote recipients of identical activities,
// timestamps included, share one Send. Item order is preserved.
func ToResult(host uuid.UUID, items []QueueItem) TransformationResult {
	var r TransformationResult
	for _, item := range items {
		if item.Recipient == host {
			r.ExecuteLocally = append(r.ExecuteLocally, item.Activity)
			continue
		}
		merged := false
		for i := range r.SendToPeers {
			if sameActivity(r.SendToPeers[i].Activity, item.Activity) {
				r.SendToPeers[i].Recipients = append(r.SendToPeers[i].Recipients, item.Recipient)
				merged = true
				break
			}
		}
		if !merged {
			r.SendToPeers = append(r.SendToPeers, Send{
				Recipients: []uuid.UUID{item.Recipient},
				Activity:   item.Activity,
			})
		}
	}
	return r
}

func sameActivity(a, b jupiter.Activity) bool {
	switch x := a.(type) {
	case jupiter.JupiterActivity:
		y, ok := b.(jupiter.JupiterActivity)
		return ok && x.Equal(y)
	case jupiter.ChecksumActivity:
		y, ok := b.(jupiter.ChecksumActivity)
		return ok && x == y
	case jupiter.FileActivity:
		y, ok := b.(jupiter.FileActivity)
		return ok && x == y
	}
	return false
}
