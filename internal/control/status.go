package control

import (
	"context"
	"encoding/json"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/reporter"
	"github.com/fleetcontrol/agent-control/internal/statusapi"
)

// reporterProbes builds the three upstream reporters for id, each
// reading the handle's current state and pushing it through
// cfg.FleetClient. Called only when FleetClient is configured.
func (c *Controller) reporterProbes(id agenttype.AgentID) reporter.Probes {
	return reporter.Probes{
		Health: func(ctx context.Context, id agenttype.AgentID) error {
			health, err := c.cfg.Runtime.Health(ctx, id)
			if err != nil {
				return err
			}
			return c.cfg.FleetClient.ReportHealth(ctx, id, health == HealthHealthy, string(health))
		},
		Version: func(ctx context.Context, id agenttype.AgentID) error {
			h, ok := c.handleFor(id)
			if !ok {
				return nil
			}
			if h.current.Runtime.VersionCheck == nil {
				return nil
			}
			return c.cfg.FleetClient.ReportVersion(ctx, id, h.current.Runtime.VersionCheck.Target)
		},
		EffectiveConfig: func(ctx context.Context, id agenttype.AgentID) error {
			h, ok := c.handleFor(id)
			if !ok {
				return nil
			}
			payload, err := json.Marshal(h.current.Values)
			if err != nil {
				return err
			}
			return c.cfg.FleetClient.ReportEffectiveConfig(ctx, id, payload)
		},
	}
}

// refreshStatus rebuilds the GET /status snapshot from the live handle
// set, per spec.md §6.
func (c *Controller) refreshStatus(ctx context.Context) {
	if c.cfg.Status == nil {
		return
	}

	subAgents := make(map[string]statusapi.SubAgentStatus)
	healthSnapshot := make(map[agenttype.AgentID]Health)
	for _, id := range c.liveAgentIDs() {
		h, ok := c.handleFor(id)
		if !ok {
			continue
		}
		health, err := c.cfg.Runtime.Health(ctx, id)
		healthSnapshot[id] = health
		entry := statusapi.SubAgentStatus{
			AgentID:   string(id),
			AgentType: h.typeID.String(),
			Healthy:   health == HealthHealthy,
		}
		if err != nil {
			entry.LastError = err.Error()
		}
		subAgents[string(id)] = entry
	}
	c.metrics.setHealth(healthSnapshot)

	fleet := statusapi.FleetStatus{Enabled: c.cfg.FleetClient != nil}
	if c.cfg.RunConfig.FleetControl != nil {
		fleet.Endpoint = c.cfg.RunConfig.FleetControl.Endpoint
	}
	fleet.Reachable = c.cfg.FleetClient != nil

	c.cfg.Status.Update(statusapi.Status{
		AgentControl: statusapi.AgentControlStatus{Healthy: true},
		Fleet:        fleet,
		SubAgents:    subAgents,
	})
}
