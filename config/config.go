// Package config loads the host's session configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/burntcarrot/pairpad/jupiter"
)

// Defaults for settings missing from the file.
const (
	DefaultAddr             = ":8080"
	DefaultName             = "host"
	DefaultService          = "_pairpad._tcp"
	DefaultChecksumInterval = 5 * time.Second
)

var (
	// ErrUnknownProject is returned for documents outside every configured project.
	ErrUnknownProject = errors.New("unknown project")

	// ErrNotShared is returned for participants that may not see any project.
	ErrNotShared = errors.New("no project is shared with participant")
)

// Config is the session a host offers.
type Config struct {
	// Addr is the address the host listens on.
	Addr string `yaml:"addr"`

	// Name is the host's display name.
	Name string `yaml:"name"`

	// ChecksumInterval is how often the host sends checksums of its documents.
	// Zero disables consistency checks.
	ChecksumInterval time.Duration `yaml:"checksum_interval"`

	// Advertise announces the session on the local network over mDNS.
	Advertise bool `yaml:"advertise"`

	// Service is the mDNS service type used to advertise the session.
	Service string `yaml:"service"`

	// Projects restricts who sees what. Without projects everybody sees
	// every document.
	Projects map[string]Project `yaml:"projects,omitempty"`

	// Documents maps document paths to their initial content.
	Documents map[string]string `yaml:"documents,omitempty"`
}

// Project lists the participants a project is shared with. A project
// without members is shared with everybody.
type Project struct {
	Members []string `yaml:"members,omitempty"`
}

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		Addr:             DefaultAddr,
		Name:             DefaultName,
		ChecksumInterval: DefaultChecksumInterval,
		Service:          DefaultService,
	}
}

// Load reads a configuration file. Unknown fields are rejected and missing
// settings fall back to their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration from YAML.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable session.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is empty")
	}
	if c.ChecksumInterval < 0 {
		return fmt.Errorf("checksum_interval %s is negative", c.ChecksumInterval)
	}
	if c.Advertise && c.Service == "" {
		return errors.New("advertise needs a service")
	}
	for path := range c.Documents {
		p := jupiter.Path(path)
		if p.Project() == "" || p.Project() == path {
			return fmt.Errorf("document %q is not inside a project", path)
		}
		if len(c.Projects) > 0 {
			if _, ok := c.Projects[p.Project()]; !ok {
				return fmt.Errorf("document %q: %w %q", path, ErrUnknownProject, p.Project())
			}
		}
	}
	return nil
}

// Visible returns the projects a participant may see. It returns nil when
// no projects are configured, meaning everything is visible, and
// ErrNotShared when projects exist but none is shared with the participant.
func (c Config) Visible(username string) ([]string, error) {
	if len(c.Projects) == 0 {
		return nil, nil
	}
	var visible []string
	for name, p := range c.Projects {
		if p.sharedWith(username) {
			visible = append(visible, name)
		}
	}
	if len(visible) == 0 {
		return nil, fmt.Errorf("%q: %w", username, ErrNotShared)
	}
	sort.Strings(visible)
	return visible, nil
}

// Paths returns the configured documents in sorted order.
func (c Config) Paths() []jupiter.Path {
	paths := make([]jupiter.Path, 0, len(c.Documents))
	for p := range c.Documents {
		paths = append(paths, jupiter.Path(p))
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

func (p Project) sharedWith(username string) bool {
	if len(p.Members) == 0 {
		return true
	}
	for _, m := range p.Members {
		if m == username {
			return true
		}
	}
	return false
}
