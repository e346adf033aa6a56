package control

import (
	"context"
	"fmt"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
	"github.com/fleetcontrol/agent-control/internal/runconfig"
	"gopkg.in/yaml.v3"
)

// controlPayload is the control-scope remote config's shape: the same
// agents map runconfig.RunConfig carries locally, letting the
// fleet-control service push a new sub-agent set with the identical
// YAML shape an operator would write to the local config file.
type controlPayload struct {
	Agents map[string]runconfig.AgentEntry `yaml:"agents"`
}

// controlDispatcher implements remoteconfig.Dispatcher for the control
// scope: accepting a new envelope reconciles the instance's sub-agent
// set against the pushed agents map.
type controlDispatcher struct {
	reconcile func(ctx context.Context, agents map[agenttype.AgentID]agenttype.AgentTypeID) error
}

func (d *controlDispatcher) Dispatch(ctx context.Context, rec remoteconfig.Record) error {
	var payload controlPayload
	if err := yaml.Unmarshal(rec.Envelope.Payload, &payload); err != nil {
		return fmt.Errorf("control scope: parsing payload: %w", err)
	}

	agents := make(map[agenttype.AgentID]agenttype.AgentTypeID, len(payload.Agents))
	for rawID, entry := range payload.Agents {
		id := agenttype.AgentID(rawID)
		if err := id.Validate(); err != nil {
			return fmt.Errorf("control scope: %w", err)
		}
		typeID, err := agenttype.ParseAgentTypeID(entry.AgentType)
		if err != nil {
			return fmt.Errorf("control scope: agent %s: %w", id, err)
		}
		agents[id] = typeID
	}

	return d.reconcile(ctx, agents)
}

var _ remoteconfig.Dispatcher = (*controlDispatcher)(nil)
