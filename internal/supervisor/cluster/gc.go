package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

// GarbageCollector periodically removes objects owned by this
// agent-control instance whose agent id is no longer in the live set,
// covering the case where the process crashes between "remove agent
// from the root controller" and "delete its cluster objects"
// (spec.md §4.6).
type GarbageCollector struct {
	client    Client
	namespace string
	logger    *slog.Logger
	interval  time.Duration
}

// NewGarbageCollector creates a collector that sweeps every interval.
func NewGarbageCollector(client Client, namespace string, logger *slog.Logger, interval time.Duration) *GarbageCollector {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &GarbageCollector{client: client, namespace: namespace, logger: logger, interval: interval}
}

// Run blocks, sweeping on each tick until ctx is cancelled. liveAgents
// returns the current set of agent ids that should still have objects.
func (g *GarbageCollector) Run(ctx context.Context, liveAgents func() map[agenttype.AgentID]bool) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Sweep(ctx, liveAgents()); err != nil {
				g.logger.Error("garbage collection sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes every owned object whose agent-id label is not in live.
func (g *GarbageCollector) Sweep(ctx context.Context, live map[agenttype.AgentID]bool) error {
	var errs []error
	for kind := range allowedObjectKinds {
		gvr, err := gvrForKind(kind)
		if err != nil {
			continue
		}
		items, err := g.client.List(ctx, g.namespace, gvr, AllManagedSelector)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing %s: %w", kind, err))
			continue
		}
		for _, item := range items {
			agentID := agenttype.AgentID(item.GetLabels()[LabelAgentID])
			if live[agentID] {
				continue
			}
			g.logger.Info("garbage collecting orphaned object", "kind", kind, "name", item.GetName(), "agent_id", agentID)
			if err := g.client.Delete(ctx, g.namespace, gvr, item.GetName()); err != nil {
				errs = append(errs, fmt.Errorf("deleting %s %s: %w", kind, item.GetName(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("garbage collection had %d error(s): %v", len(errs), errs)
	}
	return nil
}
