package jupiter

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/burntcarrot/pairpad/ot"
)

// Client is a participant's registry of client-side engines, one per document.
// Engines are created on first use and dropped on close or reset.
type Client struct {
	self uuid.UUID

	mu      sync.Mutex
	engines map[Path]*Jupiter
}

// NewClient returns an empty registry for participant self.
func NewClient(self uuid.UUID) *Client {
	return &Client{
		self:    self,
		engines: make(map[Path]*Jupiter),
	}
}

// Self returns the participant owning this registry.
func (c *Client) Self() uuid.UUID {
	return c.self
}

func (c *Client) engine(path Path) *Jupiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.engines[path]
	if !ok {
		j = NewJupiter(path, true)
		c.engines[path] = j
	}
	return j
}

// Generate turns a local edit into an activity for the host.
func (c *Client) Generate(path Path, op ot.Operation) JupiterActivity {
	return c.engine(path).Generate(op, c.self)
}

// Receive returns the operation to apply locally for an activity from the host.
// A *TransformationError means the document has to be reset.
func (c *Client) Receive(activity JupiterActivity) (ot.Operation, error) {
	return c.engine(activity.Path).Receive(activity)
}

// WithTimestamp stamps a checksum of a local document with the current time of
// its channel.
func (c *Client) WithTimestamp(checksum ChecksumActivity) ChecksumActivity {
	checksum.Source = c.self
	return c.engine(checksum.Path).WithTimestamp(checksum)
}

// IsCurrent reports whether a checksum from the host was taken at the state the
// local document is at, so the checksums may be compared.
func (c *Client) IsCurrent(checksum ChecksumActivity) bool {
	return c.engine(checksum.Path).IsCurrent(checksum.Timestamp)
}

// Time returns the vector time of the engine for path.
func (c *Client) Time(path Path) VectorTime {
	return c.engine(path).Time()
}

// Reset drops the engine for path. The next edit or activity starts at [0,0].
func (c *Client) Reset(path Path) {
	c.Remove(path)
}

// Remove drops the engine for a closed or deleted document. It reports whether
// an engine existed.
func (c *Client) Remove(path Path) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.engines[path]; !ok {
		return false
	}
	delete(c.engines, path)
	return true
}

// Paths returns the documents with a live engine in sorted order.
func (c *Client) Paths() []Path {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := make([]Path, 0, len(c.engines))
	for p := range c.engines {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}
