package reporter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

// Set owns the three reporters for one sub-agent (health, version,
// effective config) and joins them on Stop, matching the
// SubAgentHandle "owns its threads, joins them on drop" ownership rule
// spec.md §4.6 states for everything else a sub-agent owns.
type Set struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Probes bundles the three probe functions a Set needs; any of them
// may be nil to disable that reporter for this agent.
type Probes struct {
	Health          HealthProber
	Version         VersionProber
	EffectiveConfig EffectiveConfigProber
}

// Start launches the configured reporters for agentID, each on its own
// goroutine, returning a Set that Stop joins.
func Start(ctx context.Context, agentID agenttype.AgentID, schedule Schedule, probes Probes, logger *slog.Logger) (*Set, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s := &Set{cancel: cancel}

	launch := func(name string, probe func(context.Context, agenttype.AgentID) error) error {
		if probe == nil {
			return nil
		}
		r, err := New(name, agentID, schedule, probe, logger)
		if err != nil {
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			r.Run(runCtx)
		}()
		return nil
	}

	if err := launch("health", probes.Health); err != nil {
		cancel()
		return nil, err
	}
	if err := launch("version", probes.Version); err != nil {
		cancel()
		return nil, err
	}
	if err := launch("effective_config", probes.EffectiveConfig); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

// Stop cancels every reporter goroutine and blocks until they exit.
func (s *Set) Stop() {
	s.cancel()
	s.wg.Wait()
}
