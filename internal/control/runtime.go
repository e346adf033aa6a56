// Package control implements the root controller from spec.md §4.6: it
// loads the control-scope effective configuration, starts and stops
// sub-agents to match it, and owns every long-lived resource a running
// sub-agent needs (its supervisor entry, its fleet-control reporters,
// its remote-config pipeline). Grounded on the prior per-node supervisor's Agent's
// ticker-driven Run/tick/shutdown shape, generalized from "reconcile
// one node's Firecracker VMs" to "reconcile this instance's declared
// set of sub-agents, under either supervision mode."
package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/render"
	"github.com/fleetcontrol/agent-control/internal/supervisor/cluster"
	"github.com/fleetcontrol/agent-control/internal/supervisor/host"
)

// dataDirRemover is an optional Runtime capability: host mode implements
// it to clean up a removed sub-agent's rendered-files directory; cluster
// mode does not, since it has no such directory to clean up.
type dataDirRemover interface {
	RemoveDataDir(id agenttype.AgentID) error
}

// Health mirrors host.Health/cluster.Health so the rest of internal/control
// and internal/statusapi can treat both supervision modes uniformly.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// RestartFunc re-applies an agent's last-known EffectiveAgent, wired to
// Controller.reapply so a runtime's own restart/health-failure path
// never needs to know how an EffectiveAgent gets built.
type RestartFunc func(ctx context.Context, id agenttype.AgentID) error

// Runtime is the mode-agnostic supervision surface internal/control
// drives: apply a sub-agent's rendered output, remove it, and read its
// current health. internal/supervisor/host and internal/supervisor/cluster
// satisfy it through the two adapters below, so Controller's
// reconciliation logic never branches on platform.
type Runtime interface {
	Apply(ctx context.Context, id agenttype.AgentID, eff agenttype.EffectiveAgent) error
	Remove(id agenttype.AgentID) error
	Health(ctx context.Context, id agenttype.AgentID) (Health, error)
	RegisterHealthCheck(ctx context.Context, id agenttype.AgentID, spec *agenttype.HealthCheckSpec, restart RestartFunc)
	DeregisterHealthCheck(id agenttype.AgentID)
	Close() error
}

// HostRuntime adapts internal/supervisor/host to Runtime.
type HostRuntime struct {
	sup      *host.Supervisor
	health   *host.HealthMonitor
	dataRoot string

	mu      sync.Mutex
	restart map[agenttype.AgentID]RestartFunc
}

// NewHostRuntime builds a Runtime backed by a host.Supervisor rooted at
// dataRoot. Health-check restarts are dispatched back through whatever
// RestartFunc was most recently registered for the failing agent.
func NewHostRuntime(sup *host.Supervisor, dataRoot string, logger *slog.Logger) *HostRuntime {
	r := &HostRuntime{sup: sup, dataRoot: dataRoot, restart: make(map[agenttype.AgentID]RestartFunc)}
	r.health = host.NewHealthMonitor(logger, func(ctx context.Context, id agenttype.AgentID) error {
		r.mu.Lock()
		fn := r.restart[id]
		r.mu.Unlock()
		if fn == nil {
			return nil
		}
		return fn(ctx, id)
	})
	return r
}

func (r *HostRuntime) Apply(ctx context.Context, id agenttype.AgentID, eff agenttype.EffectiveAgent) error {
	out, err := render.Host(eff)
	if err != nil {
		return fmt.Errorf("rendering host output for %s: %w", id, err)
	}
	return r.sup.StartAgent(ctx, id, out)
}

func (r *HostRuntime) Remove(id agenttype.AgentID) error {
	r.DeregisterHealthCheck(id)
	return r.sup.StopAgent(id)
}

func (r *HostRuntime) Health(_ context.Context, id agenttype.AgentID) (Health, error) {
	states := r.sup.States(id)
	if len(states) == 0 {
		return HealthUnknown, nil
	}

	// A Terminal executable (restart policy exhausted) is unhealthy
	// regardless of whether a HealthCheckSpec was ever configured for
	// this agent, per spec.md §4.3/Scenario 4.
	for execID, st := range states {
		if st != host.StateTerminal {
			continue
		}
		if reason, ok := r.sup.TerminalErrors(id)[execID]; ok {
			return HealthUnhealthy, fmt.Errorf("%s", reason)
		}
		return HealthUnhealthy, fmt.Errorf("executable %s reached a terminal state", execID)
	}

	for _, results := range r.health.Results() {
		if results.AgentID != id {
			continue
		}
		return Health(results.Status), nil
	}
	return HealthUnknown, nil
}

func (r *HostRuntime) RegisterHealthCheck(ctx context.Context, id agenttype.AgentID, spec *agenttype.HealthCheckSpec, restart RestartFunc) {
	if spec == nil {
		return
	}
	r.mu.Lock()
	r.restart[id] = restart
	r.mu.Unlock()
	r.health.Register(ctx, id, *spec)
}

func (r *HostRuntime) DeregisterHealthCheck(id agenttype.AgentID) {
	r.mu.Lock()
	delete(r.restart, id)
	r.mu.Unlock()
	r.health.Deregister(id)
}

func (r *HostRuntime) Close() error {
	r.health.Stop()
	return r.sup.Close()
}

// RemoveDataDir deletes id's rendered-files directory, implementing the
// optional dataDirRemover capability Controller.removeAgent checks for.
// Cluster mode has no equivalent filesystem state: its garbage
// collection is the separate periodic cluster.GarbageCollector sweep.
func (r *HostRuntime) RemoveDataDir(id agenttype.AgentID) error {
	return os.RemoveAll(filepath.Join(r.dataRoot, string(id)))
}

var _ dataDirRemover = (*HostRuntime)(nil)

// ClusterRuntime adapts internal/supervisor/cluster to Runtime. Health
// checks are derived passively from object status (see cluster.Health),
// so Register/DeregisterHealthCheck are no-ops: there is no process to
// restart. Objects are applied only when Controller applies the agent
// (when it first starts it, or when an agent-scope remote config is
// accepted); an object deleted out of band is not re-created by the
// periodic tick.
type ClusterRuntime struct {
	rec *cluster.Reconciler
}

// NewClusterRuntime builds a Runtime backed by a cluster.Reconciler.
func NewClusterRuntime(rec *cluster.Reconciler) *ClusterRuntime {
	return &ClusterRuntime{rec: rec}
}

func (r *ClusterRuntime) Apply(ctx context.Context, id agenttype.AgentID, eff agenttype.EffectiveAgent) error {
	out, err := render.Cluster(eff)
	if err != nil {
		return fmt.Errorf("rendering cluster output for %s: %w", id, err)
	}
	return r.rec.Reconcile(ctx, id, out)
}

func (r *ClusterRuntime) Remove(id agenttype.AgentID) error {
	return r.rec.Reconcile(context.Background(), id, &render.ClusterRenderOutput{})
}

func (r *ClusterRuntime) Health(ctx context.Context, id agenttype.AgentID) (Health, error) {
	h, err := r.rec.CheckHealth(ctx, id)
	return Health(h), err
}

func (r *ClusterRuntime) RegisterHealthCheck(context.Context, agenttype.AgentID, *agenttype.HealthCheckSpec, RestartFunc) {
}

func (r *ClusterRuntime) DeregisterHealthCheck(agenttype.AgentID) {}

func (r *ClusterRuntime) Close() error { return nil }
