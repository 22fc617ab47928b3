package commons

import (
	"github.com/google/uuid"

	"github.com/burntcarrot/pairpad/jupiter"
)

// Message represents the message sent over the wire.
type Message struct {
	Username string `json:"username"`

	// Text represents the body of the message. This is used for joining messages, the site ID, the list of active users and file events.
	Text string `json:"text"`

	// Type represents the message type.
	Type MessageType `json:"type"`

	// ID represents the UUID of the participant the message is from.
	// The host fills it in for every message it relays.
	ID uuid.UUID `json:"ID"`

	// Path identifies the document the message is about.
	Path string `json:"path,omitempty"`

	// NewPath is the destination of a moved document.
	NewPath string `json:"newPath,omitempty"`

	// Timestamp is the vector time of the channel the message travels on.
	Timestamp *jupiter.VectorTime `json:"timestamp,omitempty"`

	// Operation represents the edit carried by an operation message.
	Operation *Operation `json:"operation,omitempty"`

	// Checksum represents the document summary carried by a checksum message.
	Checksum *jupiter.Checksum `json:"checksum,omitempty"`

	// Document represents the full content of a document. This should be only used when necessary, due to the large size of documents.
	Document string `json:"document,omitempty"`
}

// MessageType represents the type of the message.
type MessageType string

// Currently, pairpad supports 8 message types:
// - docSync (for syncing documents)
// - docReq (for requesting documents)
// - SiteID (for telling a participant its ID)
// - join (for joining messages)
// - users (for the list of active users)
// - operation (for edits)
// - checksum (for consistency checks)
// - file (for documents being created, removed or moved)

const (
	DocSyncMessage   MessageType = "docSync"
	DocReqMessage    MessageType = "docReq"
	SiteIDMessage    MessageType = "SiteID"
	JoinMessage      MessageType = "join"
	UsersMessage     MessageType = "users"
	OperationMessage MessageType = "operation"
	ChecksumMessage  MessageType = "checksum"
	FileMessage      MessageType = "file"
)
