package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/configrepo"
	"github.com/fleetcontrol/agent-control/internal/eventbus"
	"github.com/fleetcontrol/agent-control/internal/fleetclient"
	"github.com/fleetcontrol/agent-control/internal/identity"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
	"github.com/fleetcontrol/agent-control/internal/reporter"
	"github.com/fleetcontrol/agent-control/internal/runconfig"
	"github.com/fleetcontrol/agent-control/internal/signature"
	"github.com/fleetcontrol/agent-control/internal/statusapi"
)

// Config wires every dependency the root controller needs. Runtime is
// mode-agnostic (HostRuntime or ClusterRuntime); everything else is
// shared between the two supervision modes.
type Config struct {
	RunConfig  runconfig.RunConfig
	Registry   *agenttype.Registry
	Repo       configrepo.Repository
	Bus        *eventbus.Bus
	InstanceID identity.InstanceID
	FleetID    string
	Runtime    Runtime

	// FleetClient is nil when fleet_control is not configured: reporters
	// and remote-config polling are both disabled in that case.
	FleetClient fleetclient.Client
	// KeyServer is nil when signature_validation is not configured: the
	// remote-config pipeline then accepts envelopes without verifying a
	// signature, matching an operator explicitly opting out.
	KeyServer *signature.KeyServer
	// SigningMandatory rejects an envelope carrying no signature bundles
	// at all as UnsignedConfig rather than accepting it unsigned. Only
	// meaningful when KeyServer is configured.
	SigningMandatory bool

	Status *statusapi.SnapshotStore
	Logger *slog.Logger
}

// Controller is the root controller from spec.md §4.6: it owns the set
// of SubAgentHandles currently running and reconciles that set against
// the control-scope effective configuration, whether declared locally
// or pushed as a remote config.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	handles map[agenttype.AgentID]*SubAgentHandle
	values  map[agenttype.AgentID]agenttype.Values

	controlPipeline *remoteconfig.Pipeline
	metrics         *metrics
}

// RenderMetrics returns the current GET /metrics body in Prometheus
// text exposition format.
func (c *Controller) RenderMetrics() string {
	return c.metrics.render()
}

// New validates cfg and builds a Controller ready for Run.
func New(cfg Config) (*Controller, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("control: Registry is required")
	}
	if cfg.Repo == nil {
		return nil, fmt.Errorf("control: Repo is required")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("control: Runtime is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("control: Bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		cfg:     cfg,
		handles: make(map[agenttype.AgentID]*SubAgentHandle),
		values:  make(map[agenttype.AgentID]agenttype.Values),
		metrics: newMetrics(),
	}

	c.controlPipeline = remoteconfig.NewPipeline(
		c.agentVerify(),
		func(scope remoteconfig.Scope, env remoteconfig.Envelope) error {
			var payload controlPayload
			return yamlValidate(env.Payload, &payload)
		},
		configrepo.PersistenceAdapter{Repo: cfg.Repo},
		&controlDispatcher{reconcile: c.reconcileAgents},
	)

	return c, nil
}

func permissiveVerify(context.Context, remoteconfig.Envelope) error { return nil }

// Run starts the control loop: an initial reconciliation against the
// locally-declared agent set, then a poll-and-reconcile tick every
// RunConfig.Report.Every (one minute when unset; Report.Cron does not
// drive this loop) until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.cfg.Logger.Info("control loop starting", "instance_id", c.cfg.InstanceID)

	if err := c.reconcileAgents(ctx, agentsFromRunConfig(c.cfg.RunConfig)); err != nil {
		c.cfg.Logger.Error("initial reconciliation failed", "error", err)
	}

	interval := c.cfg.RunConfig.Report.Every
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cfg.Logger.Info("control loop shutting down")
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick polls for pending remote config (control scope and every live
// agent scope) and refreshes the status snapshot.
func (c *Controller) tick(ctx context.Context) {
	if c.cfg.FleetClient != nil {
		c.pollRemoteConfig(ctx, agenttype.ReservedAgentID)
		for _, id := range c.liveAgentIDs() {
			c.pollRemoteConfig(ctx, id)
		}
	}
	c.refreshStatus(ctx)
}

func (c *Controller) pollRemoteConfig(ctx context.Context, id agenttype.AgentID) {
	env, ok, err := c.cfg.FleetClient.PollRemoteConfig(ctx, id)
	if err != nil {
		c.cfg.Logger.Warn("polling remote config failed", "agent_id", id, "error", err)
		return
	}
	if !ok {
		return
	}

	c.cfg.Bus.PublishSubAgent(string(id), eventbus.SubAgentEvent{Kind: "RemoteConfigReceived"})

	pipeline := c.controlPipeline
	metricScope := "control"
	if env.Scope != remoteconfig.ScopeControl {
		h, ok := c.handleFor(id)
		if !ok {
			return
		}
		pipeline = h.pipeline
		metricScope = "agent"
	}

	start := time.Now()
	err = pipeline.Accept(ctx, env)
	c.metrics.observeRemoteConfig(metricScope, time.Since(start), err != nil)
	if err != nil {
		c.cfg.Logger.Error("remote config rejected", "agent_id", id, "scope", env.Scope, "error", err)
	}
}

func (c *Controller) handleFor(id agenttype.AgentID) (*SubAgentHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

// LiveAgents returns the set of sub-agent ids currently running,
// suitable for cluster.GarbageCollector's liveAgents callback.
func (c *Controller) LiveAgents() map[agenttype.AgentID]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[agenttype.AgentID]bool, len(c.handles))
	for id := range c.handles {
		out[id] = true
	}
	return out
}

func (c *Controller) liveAgentIDs() []agenttype.AgentID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]agenttype.AgentID, 0, len(c.handles))
	for id := range c.handles {
		ids = append(ids, id)
	}
	return ids
}

// reconcileAgents converges the running handle set with the desired
// agents map, starting new sub-agents and stopping removed ones. It is
// the Dispatcher target for both the initial load and every
// control-scope remote config accepted afterward.
func (c *Controller) reconcileAgents(ctx context.Context, desired map[agenttype.AgentID]agenttype.AgentTypeID) error {
	c.mu.Lock()
	var toRemove []agenttype.AgentID
	for id := range c.handles {
		if _, wanted := desired[id]; !wanted {
			toRemove = append(toRemove, id)
		}
	}
	c.mu.Unlock()

	for _, id := range toRemove {
		c.removeAgent(id)
	}

	var errs []error
	for id, typeID := range desired {
		if _, ok := c.handleFor(id); ok {
			continue
		}
		if err := c.addAgent(ctx, id, typeID); err != nil {
			errs = append(errs, err)
			c.cfg.Logger.Error("failed to start sub-agent", "agent_id", id, "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("reconciling agents: %d failure(s): %v", len(errs), errs)
	}
	return nil
}

func (c *Controller) addAgent(ctx context.Context, id agenttype.AgentID, typeID agenttype.AgentTypeID) error {
	values, err := c.loadValues(ctx, id)
	if err != nil {
		return fmt.Errorf("loading values for %s: %w", id, err)
	}

	c.mu.Lock()
	c.values[id] = values
	subRefs := buildSubRefs(c.values, id)
	c.mu.Unlock()

	eff, err := agenttype.Assemble(c.cfg.Registry, id, typeID, values, c.acContext(id), subRefs)
	if err != nil {
		return err
	}

	if err := c.cfg.Runtime.Apply(ctx, id, eff); err != nil {
		return fmt.Errorf("applying %s: %w", id, err)
	}
	c.cfg.Runtime.RegisterHealthCheck(ctx, id, eff.Runtime.HealthCheck, c.reapply)
	c.metrics.recordApply(id, time.Now())

	c.cfg.Bus.RegisterAgent(string(id))
	c.cfg.Bus.PublishSubAgent(string(id), eventbus.SubAgentEvent{Kind: "Started"})

	h := &SubAgentHandle{id: id, typeID: typeID, current: eff}
	h.applyFn = func(ctx context.Context, values agenttype.Values) error {
		return c.applyAgent(ctx, h, values)
	}
	h.pipeline = remoteconfig.NewPipeline(
		c.agentVerify(),
		func(scope remoteconfig.Scope, env remoteconfig.Envelope) error {
			values, err := parseValues(env.Payload)
			if err != nil {
				return err
			}
			subRefs := buildSubRefs(c.snapshotValues(), id)
			_, err = agenttype.Assemble(c.cfg.Registry, id, typeID, values, c.acContext(id), subRefs)
			return err
		},
		configrepo.PersistenceAdapter{Repo: c.cfg.Repo},
		h,
	)

	if c.cfg.FleetClient != nil {
		set, err := reporter.Start(ctx, id, reporter.Schedule{Every: c.cfg.RunConfig.Report.Every, Cron: c.cfg.RunConfig.Report.Cron}, c.reporterProbes(id), c.cfg.Logger)
		if err != nil {
			c.cfg.Logger.Warn("failed to start reporters", "agent_id", id, "error", err)
		} else {
			h.reporters = set
		}
	}

	c.mu.Lock()
	c.handles[id] = h
	c.mu.Unlock()
	return nil
}

// reapply re-renders id's last-known values and applies them again,
// wired to Runtime.RegisterHealthCheck as the restart path for
// health-check failures on host-mode executables.
func (c *Controller) reapply(ctx context.Context, id agenttype.AgentID) error {
	h, ok := c.handleFor(id)
	if !ok {
		return nil
	}
	c.metrics.recordRestart(id)
	c.mu.Lock()
	values := c.values[id]
	c.mu.Unlock()
	return c.applyAgent(ctx, h, values)
}

func (c *Controller) applyAgent(ctx context.Context, h *SubAgentHandle, values agenttype.Values) error {
	c.mu.Lock()
	c.values[h.id] = values
	subRefs := buildSubRefs(c.values, h.id)
	c.mu.Unlock()

	eff, err := agenttype.Assemble(c.cfg.Registry, h.id, h.typeID, values, c.acContext(h.id), subRefs)
	if err != nil {
		return err
	}
	if err := c.cfg.Runtime.Apply(ctx, h.id, eff); err != nil {
		return fmt.Errorf("re-applying %s: %w", h.id, err)
	}
	c.cfg.Runtime.RegisterHealthCheck(ctx, h.id, eff.Runtime.HealthCheck, c.reapply)
	h.current = eff
	c.metrics.recordApply(h.id, time.Now())
	c.cfg.Bus.PublishSubAgent(string(h.id), eventbus.SubAgentEvent{Kind: "Reconfigured"})
	return nil
}

func (c *Controller) removeAgent(id agenttype.AgentID) {
	c.mu.Lock()
	h, ok := c.handles[id]
	delete(c.handles, id)
	delete(c.values, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	h.Stop()
	if err := c.cfg.Runtime.Remove(id); err != nil {
		c.cfg.Logger.Warn("failed to remove sub-agent", "agent_id", id, "error", err)
	}
	if remover, ok := c.cfg.Runtime.(dataDirRemover); ok {
		if err := remover.RemoveDataDir(id); err != nil {
			c.cfg.Logger.Warn("failed to remove sub-agent data dir", "agent_id", id, "error", err)
		}
	}
	if err := c.cfg.Repo.DeleteRemote(context.Background(), id); err != nil {
		c.cfg.Logger.Warn("failed to delete persisted remote config", "agent_id", id, "error", err)
	}
	c.cfg.Bus.PublishSubAgent(string(id), eventbus.SubAgentEvent{Kind: "Stopped"})
	c.cfg.Bus.DeregisterAgent(string(id))
}

// shutdown stops every running sub-agent and closes the runtime. Per
// spec.md §4.6, no executable or object a handle started may outlive
// the control process.
func (c *Controller) shutdown() {
	for _, id := range c.liveAgentIDs() {
		c.removeAgent(id)
	}
	if err := c.cfg.Runtime.Close(); err != nil {
		c.cfg.Logger.Warn("runtime close failed", "error", err)
	}
}

func (c *Controller) loadValues(ctx context.Context, id agenttype.AgentID) (agenttype.Values, error) {
	raw, err := configrepo.LoadEffective(ctx, c.cfg.Repo, id, nil)
	if err != nil {
		return nil, err
	}
	return parseValues(raw)
}

func (c *Controller) snapshotValues() map[agenttype.AgentID]agenttype.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[agenttype.AgentID]agenttype.Values, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func (c *Controller) acContext(id agenttype.AgentID) map[string]string {
	return map[string]string{
		"agent_id":    string(id),
		"instance_id": string(c.cfg.InstanceID),
		"fleet_id":    c.cfg.FleetID,
	}
}

func (c *Controller) agentVerify() remoteconfig.VerifyFunc {
	if c.cfg.KeyServer == nil {
		return permissiveVerify
	}
	verify := remoteconfig.SignatureVerify(c.cfg.KeyServer.Fetch, c.cfg.SigningMandatory)
	return func(ctx context.Context, env remoteconfig.Envelope) error {
		err := verify(ctx, env)
		c.metrics.observeSignatureVerify(err == nil)
		return err
	}
}

// agentsFromRunConfig converts the locally-declared agents map into the
// typed form reconcileAgents consumes.
func agentsFromRunConfig(cfg runconfig.RunConfig) map[agenttype.AgentID]agenttype.AgentTypeID {
	out := make(map[agenttype.AgentID]agenttype.AgentTypeID, len(cfg.Agents))
	for rawID, entry := range cfg.Agents {
		typeID, err := agenttype.ParseAgentTypeID(entry.AgentType)
		if err != nil {
			continue
		}
		out[agenttype.AgentID(rawID)] = typeID
	}
	return out
}
