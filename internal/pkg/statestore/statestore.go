package statestore

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

// Well-known section names.  Each section is merged independently; the
// document as a whole carries no cross-section consistency guarantee beyond
// what the single store mutex provides.
const (
	SectionToken        = "token"
	SectionRegistration = "registration"
	SectionFirebase     = "firebase"
	SectionAndroid      = "android"
	SectionDeviceHub    = "websocket"
	SectionChallengeHub = "websocket2"
)

// Section is one named chunk of persisted state.
type Section map[string]interface{}

// Store persists client state (tokens, registration, per-hub websocket
// parameters) as a yaml document.  All reads and writes are serialized by a
// single mutex because Set is a read-merge-write of one sub-key; concurrent
// unguarded writers would lose updates.
type Store struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the named section.  A missing file or missing section yields
// an empty section, never an error.
func (s *Store) Get(key string) (Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	sec, ok := doc[key]
	if !ok {
		return Section{}, nil
	}
	return sec, nil
}

// Set merges the given partial section over the stored one and writes the
// whole document back.
func (s *Store) Set(key string, partial Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	merged := Section{}
	for k, v := range doc[key] {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	doc[key] = merged

	return s.save(doc)
}

func (s *Store) load() (map[string]Section, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Section{}, nil
		}
		return nil, errors.Wrapf(err, "reading state file %s", s.path)
	}

	doc := map[string]Section{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		// A corrupt state file is recoverable; start from empty rather
		// than wedging the client.
		logging.Logger(nil).WithError(err).Warnf("state file %s is not valid yaml, resetting", s.path)
		return map[string]Section{}, nil
	}
	return doc, nil
}

func (s *Store) save(doc map[string]Section) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding state")
	}

	if err := os.WriteFile(s.path, raw, 0600); err != nil {
		return errors.Wrapf(err, "writing state file %s", s.path)
	}
	return nil
}
