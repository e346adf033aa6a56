package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/render"
)

// Supervisor owns every supervised process for every host-mode
// sub-agent under one data root. It is the unit the root controller
// starts and stops a sub-agent through (internal/control).
type Supervisor struct {
	dataRoot string
	logger   *slog.Logger

	mu     sync.Mutex
	agents map[agenttype.AgentID][]*Process
	closed bool
}

// New creates a Supervisor rooted at dataRoot, where dataRoot/<agent-id>
// holds each sub-agent's rendered files and logs.
func New(dataRoot string, logger *slog.Logger) *Supervisor {
	return &Supervisor{dataRoot: dataRoot, logger: logger, agents: make(map[agenttype.AgentID][]*Process)}
}

// StartAgent writes out's files under the agent's data directory and
// starts every executable it names. If the agent is already running,
// StartAgent stops the previous set first so a reconciliation replacing
// an agent's config never leaves two generations running.
func (s *Supervisor) StartAgent(ctx context.Context, id agenttype.AgentID, out *render.HostRenderOutput) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: closed")
	}
	s.mu.Unlock()

	if err := s.StopAgent(id); err != nil {
		return fmt.Errorf("stopping previous generation of %s: %w", id, err)
	}

	dir := s.agentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir for %s: %w", id, err)
	}

	for _, f := range out.Files {
		full := filepath.Join(dir, filepath.FromSlash(f.RelPath))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("creating parent dir for %s: %w", f.RelPath, err)
		}
		if err := os.WriteFile(full, f.Data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.RelPath, err)
		}
	}

	procs := make([]*Process, 0, len(out.Executables))
	for _, ex := range out.Executables {
		proc := NewProcess(ex, dir, s.logger.With("agent_id", string(id)), nil)
		if err := proc.Start(ctx); err != nil {
			for _, started := range procs {
				_ = started.Stop()
			}
			return fmt.Errorf("starting executable %s: %w", ex.ID, err)
		}
		procs = append(procs, proc)
	}

	s.mu.Lock()
	s.agents[id] = procs
	s.mu.Unlock()
	return nil
}

// StopAgent stops every executable belonging to id, if any are running.
func (s *Supervisor) StopAgent(id agenttype.AgentID) error {
	s.mu.Lock()
	procs, ok := s.agents[id]
	delete(s.agents, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	var firstErr error
	for _, proc := range procs {
		if err := proc.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// States returns the current lifecycle state of every executable
// belonging to id, keyed by executable id.
func (s *Supervisor) States(id agenttype.AgentID) map[string]State {
	s.mu.Lock()
	procs := s.agents[id]
	s.mu.Unlock()

	out := make(map[string]State, len(procs))
	for _, p := range procs {
		out[p.spec.ID] = p.State()
	}
	return out
}

// TerminalErrors returns the restart-policy-exhaustion reason for every
// StateTerminal executable belonging to id, keyed by executable id. An
// executable with no recorded reason (e.g. stopped cleanly) is omitted.
func (s *Supervisor) TerminalErrors(id agenttype.AgentID) map[string]string {
	s.mu.Lock()
	procs := s.agents[id]
	s.mu.Unlock()

	out := make(map[string]string)
	for _, p := range procs {
		if p.State() != StateTerminal {
			continue
		}
		if msg := p.LastError(); msg != "" {
			out[p.spec.ID] = msg
		}
	}
	return out
}

// Close stops every supervised process across every agent. After Close,
// the supervisor refuses further StartAgent calls. This is the
// no-orphan invariant from spec.md §4.3: no executable a Supervisor
// started may outlive the Supervisor itself.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]agenttype.AgentID, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := s.StopAgent(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Supervisor) agentDir(id agenttype.AgentID) string {
	return filepath.Join(s.dataRoot, string(id))
}
