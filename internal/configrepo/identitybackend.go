package configrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetcontrol/agent-control/internal/identity"
)

// IdentityBackend persists the control process's single instance
// identity record as a JSON file, satisfying identity.Persistence.
// Grounded on FileBackend's write-to-temp-plus-rename atomicity, since
// the identity record is a single small file rather than a per-agent
// tree.
type IdentityBackend struct {
	path string
	mu   sync.Mutex
}

// NewIdentityBackend returns an IdentityBackend that reads/writes
// path (e.g. <dataDir>/identity.json).
func NewIdentityBackend(path string) *IdentityBackend {
	return &IdentityBackend{path: path}
}

func (b *IdentityBackend) LoadIdentity() (identity.Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return identity.Record{}, false, nil
	}
	if err != nil {
		return identity.Record{}, false, fmt.Errorf("reading identity record: %w", err)
	}
	var rec identity.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return identity.Record{}, false, fmt.Errorf("decoding identity record: %w", err)
	}
	return rec, true, nil
}

func (b *IdentityBackend) SaveIdentity(rec identity.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("creating identity dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding identity record: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp identity record: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("renaming identity record into place: %w", err)
	}
	return nil
}
