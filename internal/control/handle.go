package control

import (
	"context"
	"fmt"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
	"github.com/fleetcontrol/agent-control/internal/reporter"
)

// SubAgentHandle owns everything Controller starts on a sub-agent's
// behalf: its current EffectiveAgent, its upstream reporters, and its
// agent-scope remote-config dispatch path. Per spec.md §4.6, dropping
// a handle signals shutdown and joins every thread it owns before
// returning, so Stop is the only teardown entry point.
type SubAgentHandle struct {
	id     agenttype.AgentID
	typeID agenttype.AgentTypeID

	reporters *reporter.Set          // nil when no fleet-control client is configured
	pipeline  *remoteconfig.Pipeline // nil for control scope, which owns no SubAgentHandle
	applyFn   func(ctx context.Context, values agenttype.Values) error

	current agenttype.EffectiveAgent
}

// Dispatch implements remoteconfig.Dispatcher for this agent's scope: a
// newly-accepted envelope's payload is parsed as values and re-applied.
func (h *SubAgentHandle) Dispatch(ctx context.Context, rec remoteconfig.Record) error {
	values, err := parseValues(rec.Envelope.Payload)
	if err != nil {
		return fmt.Errorf("agent %s: %w", h.id, err)
	}
	return h.applyFn(ctx, values)
}

var _ remoteconfig.Dispatcher = (*SubAgentHandle)(nil)

// Stop joins every goroutine this handle owns.
func (h *SubAgentHandle) Stop() {
	if h.reporters != nil {
		h.reporters.Stop()
	}
}
