package permission

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	plist "howett.net/plist"
)

// Capability names an OS grant the daemon needs before it may read or
// observe connectivity.
type Capability string

const (
	// AccessNetworkState allows reading the current connectivity.
	AccessNetworkState Capability = "ACCESS_NETWORK_STATE"
	// ChangeNetworkState allows observing connectivity changes.
	ChangeNetworkState Capability = "CHANGE_NETWORK_STATE"
)

// Checker answers whether a capability is currently granted. Implementations
// are consulted on every call and must not cache answers across calls.
type Checker interface {
	Granted(c Capability) bool
}

// Static is a fixed set of grants, typically built from command line flags.
type Static struct {
	mu     sync.RWMutex
	grants map[Capability]bool
}

func NewStatic(caps ...Capability) *Static {
	s := &Static{grants: make(map[Capability]bool)}
	for _, c := range caps {
		s.grants[c] = true
	}
	return s
}

// All grants every capability the daemon knows about.
func All() *Static {
	return NewStatic(AccessNetworkState, ChangeNetworkState)
}

func (s *Static) Granted(c Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[c]
}

// Set grants or revokes a capability.
func (s *Static) Set(c Capability, granted bool) {
	s.mu.Lock()
	s.grants[c] = granted
	s.mu.Unlock()
}

// File reads grants from a property list on every check, so edits to the
// file take effect without a restart. The file holds a dictionary of
// capability names to booleans:
//
//	<dict>
//	  <key>ACCESS_NETWORK_STATE</key><true/>
//	  <key>CHANGE_NETWORK_STATE</key><false/>
//	</dict>
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Granted(c Capability) bool {
	grants, err := f.read()
	if err != nil {
		log.WithError(err).WithField("path", f.path).Debug("Failed to read permissions file")
		return false
	}
	return grants[c]
}

func (f *File) read() (map[Capability]bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var raw map[string]bool
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode permissions file: %w", err)
	}

	grants := make(map[Capability]bool, len(raw))
	for k, v := range raw {
		grants[Capability(k)] = v
	}
	return grants, nil
}

// WriteFile stores grants in the format File reads.
func WriteFile(path string, grants map[Capability]bool) error {
	raw := make(map[string]bool, len(grants))
	for k, v := range grants {
		raw[string(k)] = v
	}

	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	enc.Indent("\t")
	if err := enc.Encode(raw); err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ParseCapabilities parses a comma separated list of capability names.
func ParseCapabilities(list string) ([]Capability, error) {
	var caps []Capability
	for _, part := range strings.Split(list, ",") {
		name := strings.ToUpper(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		switch c := Capability(name); c {
		case AccessNetworkState, ChangeNetworkState:
			caps = append(caps, c)
		default:
			return nil, fmt.Errorf("unknown capability %q", part)
		}
	}
	return caps, nil
}
