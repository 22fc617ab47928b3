package jupiter

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/burntcarrot/pairpad/ot"
)

// Path identifies a shared document. The first segment names the project the
// document belongs to, e.g. "website/index.html".
type Path string

// Project returns the project part of the path.
func (p Path) Project() string {
	project, _, _ := strings.Cut(string(p), "/")
	return project
}

// Activity is anything a participant sends about a document.
type Activity interface {
	// Originator returns the participant that produced the activity.
	Originator() uuid.UUID

	// Resource returns the document the activity is about.
	Resource() Path
}

// JupiterActivity carries an operation stamped with the vector time of the
// channel it travels on.
type JupiterActivity struct {
	Path      Path
	Timestamp VectorTime
	Operation ot.Operation
	Source    uuid.UUID
}

func (a JupiterActivity) Originator() uuid.UUID { return a.Source }
func (a JupiterActivity) Resource() Path        { return a.Path }

// Equal reports whether both activities are identical, operation included.
func (a JupiterActivity) Equal(b JupiterActivity) bool {
	return a.Path == b.Path && a.Timestamp == b.Timestamp && a.Source == b.Source && ot.Equal(a.Operation, b.Operation)
}

func (a JupiterActivity) String() string {
	return fmt.Sprintf("JupiterActivity(%s %s %v from %s)", a.Path, a.Timestamp, a.Operation, a.Source)
}

// Checksum summarizes a document's content for divergence detection.
type Checksum struct {
	Length int    `json:"length"`
	Hash   uint64 `json:"hash"`
}

// ComputeChecksum returns the checksum of content. Length counts runes.
func ComputeChecksum(content string) Checksum {
	return Checksum{
		Length: len([]rune(content)),
		Hash:   xxhash.Sum64String(content),
	}
}

func (c Checksum) String() string {
	return fmt.Sprintf("%d:%016x", c.Length, c.Hash)
}

// ChecksumActivity carries a document checksum taken at Timestamp. It never
// mutates a document and never advances a vector time.
type ChecksumActivity struct {
	Path      Path
	Timestamp VectorTime
	Checksum  Checksum
	Source    uuid.UUID
}

func (a ChecksumActivity) Originator() uuid.UUID { return a.Source }
func (a ChecksumActivity) Resource() Path        { return a.Path }

// WithTimestamp returns a copy of the activity stamped with t.
func (a ChecksumActivity) WithTimestamp(t VectorTime) ChecksumActivity {
	a.Timestamp = t
	return a
}

// FileActivityType describes a change in a document's lifecycle.
type FileActivityType string

const (
	FileCreated FileActivityType = "created"
	FileRemoved FileActivityType = "removed"
	FileMoved   FileActivityType = "moved"
)

// FileActivity reports that a document was created, removed or moved.
// For moves, Path is the old location and NewPath the new one.
type FileActivity struct {
	Type    FileActivityType
	Path    Path
	NewPath Path
	Source  uuid.UUID
}

func (a FileActivity) Originator() uuid.UUID { return a.Source }
func (a FileActivity) Resource() Path        { return a.Path }
