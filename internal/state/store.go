package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/quarry-io/quarry/internal/ir"
)

// Store is the durable record of a deployment's resource states, read at the
// start of every run and written after every step.
type Store interface {
	// Read loads the state, returning a fresh empty state if none exists.
	Read(ctx context.Context) (*ir.State, error)

	// Write persists the state.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// FileStore persists state as a YAML document on the local filesystem, one
// file per deployment.
type FileStore struct {
	deployment string
	path       string

	writeMu sync.Mutex
}

// NewFileStore returns a store for the named deployment rooted at dir.
func NewFileStore(dir, deployment string) *FileStore {
	return &FileStore{
		deployment: deployment,
		path:       filepath.Join(dir, deployment+".state.yaml"),
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Read(ctx context.Context) (*ir.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		st := ir.NewState(s.deployment)
		st.Lineage = uuid.NewString()
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	st, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileStore) Write(ctx context.Context, state *ir.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	raw, err := Marshal(state)
	if err != nil {
		return err
	}

	// Write-then-rename keeps the state readable if the process dies
	// mid-write.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", s.path, err)
	}
	return nil
}

// Marshal serializes a state document to YAML.
func Marshal(state *ir.State) ([]byte, error) {
	raw, err := yaml.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return raw, nil
}

// Unmarshal parses a YAML state document, rejecting entries whose status is
// not part of the resource state machine.
func Unmarshal(raw []byte) (*ir.State, error) {
	var st ir.State
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	if st.Resources == nil {
		st.Resources = make(map[string]*ir.ResourceState)
	}
	for id, rs := range st.Resources {
		if _, err := ir.ParseStatus(string(rs.Status)); err != nil {
			return nil, fmt.Errorf("state entry %q: %w", id, err)
		}
	}
	return &st, nil
}
