// Package reporter runs the periodic upstream reporters SPEC_FULL.md
// names: health, version/uptime, and effective-config, each scheduled
// either on a plain time.Duration interval or a cron expression via
// github.com/robfig/cron/v3, per SPEC_FULL.md's DOMAIN STACK decision
// to offer operators cron syntax in RunConfig alongside a duration.
// Grounded on the host supervisor's health checker's one-goroutine-per-probe,
// context-cancellation-at-every-wait shape, generalized from "probe
// and record a result" to "probe and report it upstream."
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/robfig/cron/v3"
)

// Schedule is either a fixed interval or a cron expression, mirroring
// internal/runconfig.ReportInterval.
type Schedule struct {
	Every time.Duration
	Cron  string
}

func (s Schedule) ticker(logger *slog.Logger) (func(context.Context, func()), error) {
	if s.Cron != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err := parser.Parse(s.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing cron expression %q: %w", s.Cron, err)
		}
		return func(ctx context.Context, fn func()) {
			next := schedule.Next(time.Now())
			for {
				timer := time.NewTimer(time.Until(next))
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
					fn()
					next = schedule.Next(time.Now())
				}
			}
		}, nil
	}

	interval := s.Every
	if interval <= 0 {
		interval = time.Minute
	}
	return func(ctx context.Context, fn func()) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}, nil
}

// HealthProber reports an agent's current health upstream.
type HealthProber func(ctx context.Context, agentID agenttype.AgentID) error

// VersionProber runs a version-check probe and reports the detected
// version upstream, per SPEC_FULL.md's uptime/version reporter.
type VersionProber func(ctx context.Context, agentID agenttype.AgentID) error

// EffectiveConfigProber reports an agent's current rendered
// configuration upstream, per SPEC_FULL.md's EffectiveConfigReporter.
type EffectiveConfigProber func(ctx context.Context, agentID agenttype.AgentID) error

// Reporter runs one probe function on a Schedule until its context is
// canceled.
type Reporter struct {
	agentID agenttype.AgentID
	name    string
	logger  *slog.Logger
	probe   func(ctx context.Context, agentID agenttype.AgentID) error
	run     func(context.Context, func())
}

// New constructs a Reporter named name (used in log lines only) that
// calls probe on schedule for agentID.
func New(name string, agentID agenttype.AgentID, schedule Schedule, probe func(ctx context.Context, agentID agenttype.AgentID) error, logger *slog.Logger) (*Reporter, error) {
	run, err := schedule.ticker(logger)
	if err != nil {
		return nil, err
	}
	return &Reporter{agentID: agentID, name: name, logger: logger, probe: probe, run: run}, nil
}

// Run blocks, invoking the probe on schedule until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	r.run(ctx, func() {
		if err := r.probe(ctx, r.agentID); err != nil {
			r.logger.Warn("reporter probe failed", "reporter", r.name, "agent_id", r.agentID, "error", err)
		}
	})
}
