package configrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
)

// FileBackend implements Repository over a local filesystem: local
// configs live under localRoot (read-only to this process — another
// process, GitSync or an operator, provisions them) and
// remote configs live under remoteRoot (writable, one JSON record per
// agent). Grounded on the prior config-store's git/S3 clients' file-
// plus-metadata shape, collapsed to a single local interface since spec.md
// §4.7 treats "host mode" as one storage concern regardless of how the
// local root is kept in sync.
type FileBackend struct {
	localRoot  string
	remoteRoot string

	mu sync.Mutex
}

// NewFileBackend creates a FileBackend rooted at localRoot/remoteRoot,
// creating the remote root (but not the local root, which is owned by
// whatever syncs it) if it does not already exist.
func NewFileBackend(localRoot, remoteRoot string) (*FileBackend, error) {
	if err := os.MkdirAll(remoteRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating remote config root %s: %w", remoteRoot, err)
	}
	return &FileBackend{localRoot: localRoot, remoteRoot: remoteRoot}, nil
}

func (b *FileBackend) localPath(agentID agenttype.AgentID) string {
	return filepath.Join(b.localRoot, string(agentID)+".yaml")
}

func (b *FileBackend) remotePath(agentID agenttype.AgentID) string {
	return filepath.Join(b.remoteRoot, string(agentID)+".json")
}

// LoadLocal reads <localRoot>/<agentID>.yaml.
func (b *FileBackend) LoadLocal(_ context.Context, agentID agenttype.AgentID) (YamlConfig, bool, error) {
	data, err := os.ReadFile(b.localPath(agentID))
	if errors.Is(err, os.ErrNotExist) {
		return YamlConfig{}, false, nil
	}
	if err != nil {
		return YamlConfig{}, false, fmt.Errorf("reading local config for %s: %w", agentID, err)
	}
	return YamlConfig{AgentID: agentID, Raw: data}, true, nil
}

// LoadRemote reads the persisted remote-config record for agentID.
func (b *FileBackend) LoadRemote(_ context.Context, agentID agenttype.AgentID) (remoteconfig.Record, bool, error) {
	return b.readRemote(agentID)
}

// GetRemote is LoadRemote under a different name, per spec.md §4.7.
func (b *FileBackend) GetRemote(ctx context.Context, agentID agenttype.AgentID) (remoteconfig.Record, bool, error) {
	return b.LoadRemote(ctx, agentID)
}

func (b *FileBackend) readRemote(agentID agenttype.AgentID) (remoteconfig.Record, bool, error) {
	data, err := os.ReadFile(b.remotePath(agentID))
	if errors.Is(err, os.ErrNotExist) {
		return remoteconfig.Record{}, false, nil
	}
	if err != nil {
		return remoteconfig.Record{}, false, fmt.Errorf("reading remote config for %s: %w", agentID, err)
	}
	var rec remoteconfig.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return remoteconfig.Record{}, false, fmt.Errorf("decoding remote config for %s: %w", agentID, err)
	}
	return rec, true, nil
}

// StoreRemote persists rec atomically (write-to-temp + rename), per
// spec.md §4.7's atomicity invariant for the host-mode backend.
func (b *FileBackend) StoreRemote(_ context.Context, agentID agenttype.AgentID, rec remoteconfig.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeRemote(agentID, rec)
}

func (b *FileBackend) writeRemote(agentID agenttype.AgentID, rec remoteconfig.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding remote config for %s: %w", agentID, err)
	}

	dest := b.remotePath(agentID)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp remote config for %s: %w", agentID, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("renaming remote config into place for %s: %w", agentID, err)
	}
	return nil
}

// UpdateState mutates only the State/Message fields of the persisted
// remote config, leaving the envelope untouched.
func (b *FileBackend) UpdateState(_ context.Context, agentID agenttype.AgentID, state remoteconfig.State, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok, err := b.readRemote(agentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update_state called with no persisted remote config for %s", agentID)
	}
	rec.State = state
	rec.Message = message
	return b.writeRemote(agentID, rec)
}

// DeleteRemote removes the persisted remote-config file, if any.
func (b *FileBackend) DeleteRemote(_ context.Context, agentID agenttype.AgentID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.remotePath(agentID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting remote config for %s: %w", agentID, err)
	}
	return nil
}
