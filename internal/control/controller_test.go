package control

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/configrepo"
	"github.com/fleetcontrol/agent-control/internal/eventbus"
	"github.com/fleetcontrol/agent-control/internal/fleetclient"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
	"github.com/fleetcontrol/agent-control/internal/runconfig"
	"github.com/fleetcontrol/agent-control/internal/supervisor/host"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *agenttype.Registry {
	t.Helper()
	reg := agenttype.NewRegistry()
	err := reg.Register(agenttype.Definition{
		Metadata: agenttype.Metadata{Namespace: "test", Name: "echo", Version: "v1"},
		Runtime: agenttype.RuntimeConfigTemplate{
			OnHost: &agenttype.OnHostRuntime{
				Files: []agenttype.FileSpec{
					{Path: "config.yaml", Contents: "agent_id: ${nr-ac:agent_id}"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("registering test agent type: %v", err)
	}
	return reg
}

func flappingRegistry(t *testing.T) *agenttype.Registry {
	t.Helper()
	reg := agenttype.NewRegistry()
	err := reg.Register(agenttype.Definition{
		Metadata: agenttype.Metadata{Namespace: "test", Name: "flapper", Version: "v1"},
		Runtime: agenttype.RuntimeConfigTemplate{
			OnHost: &agenttype.OnHostRuntime{
				Executables: []agenttype.ExecutableSpec{
					{
						ID:   "flapper",
						Path: "/bin/sh",
						Args: []string{"-c", "exit 1"},
						Restart: agenttype.RestartPolicy{
							Strategy:        agenttype.BackoffFixed,
							BackoffDelaySec: 0.01,
							MaxRetries:      1,
						},
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("registering flapping agent type: %v", err)
	}
	return reg
}

func newTestController(t *testing.T, fleetClient fleetclient.Client) (*Controller, *host.Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	dataRoot := filepath.Join(dir, "data")

	repo, err := configrepo.NewFileBackend(filepath.Join(dir, "local"), filepath.Join(dir, "remote"))
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	sup := host.New(dataRoot, discardLogger())
	runtime := NewHostRuntime(sup, dataRoot, discardLogger())

	cfg := Config{
		RunConfig: runconfig.RunConfig{
			Agents: map[string]runconfig.AgentEntry{
				"otel-1": {AgentType: "test/echo:v1"},
			},
			Report: runconfig.ReportInterval{Every: 10 * time.Millisecond},
		},
		Registry:    testRegistry(t),
		Repo:        repo,
		Bus:         eventbus.New(discardLogger()),
		InstanceID:  "01TESTINSTANCE0000000000000",
		FleetID:     "fleet-1",
		Runtime:     runtime,
		FleetClient: fleetClient,
		Logger:      discardLogger(),
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, sup, dataRoot
}

func TestReconcileAgentsStartsDeclaredAgent(t *testing.T) {
	c, _, dataRoot := newTestController(t, nil)

	desired := agentsFromRunConfig(c.cfg.RunConfig)
	if err := c.reconcileAgents(context.Background(), desired); err != nil {
		t.Fatalf("reconcileAgents: %v", err)
	}

	if _, ok := c.handleFor("otel-1"); !ok {
		t.Fatal("expected a handle for otel-1 after reconciliation")
	}

	data, err := os.ReadFile(filepath.Join(dataRoot, "otel-1", "config.yaml"))
	if err != nil {
		t.Fatalf("expected rendered config file: %v", err)
	}
	if string(data) != "agent_id: otel-1" {
		t.Fatalf("expected agent_id placeholder resolved, got %q", data)
	}
}

func TestReconcileAgentsStopsRemovedAgent(t *testing.T) {
	c, _, dataRoot := newTestController(t, nil)

	if err := c.reconcileAgents(context.Background(), agentsFromRunConfig(c.cfg.RunConfig)); err != nil {
		t.Fatalf("reconcileAgents: %v", err)
	}
	if err := c.reconcileAgents(context.Background(), map[agenttype.AgentID]agenttype.AgentTypeID{}); err != nil {
		t.Fatalf("reconcileAgents (empty): %v", err)
	}

	if _, ok := c.handleFor("otel-1"); ok {
		t.Fatal("expected otel-1's handle to be gone after removal")
	}
	if _, err := os.Stat(filepath.Join(dataRoot, "otel-1")); !os.IsNotExist(err) {
		t.Fatalf("expected otel-1's data dir to be removed, stat err=%v", err)
	}
}

func TestAgentScopeRemoteConfigReappliesValues(t *testing.T) {
	c, _, dataRoot := newTestController(t, nil)

	if err := c.reconcileAgents(context.Background(), agentsFromRunConfig(c.cfg.RunConfig)); err != nil {
		t.Fatalf("reconcileAgents: %v", err)
	}

	h, ok := c.handleFor("otel-1")
	if !ok {
		t.Fatal("expected a handle for otel-1")
	}

	env := remoteconfig.Envelope{
		Scope:   remoteconfig.Scope("agent"),
		AgentID: "otel-1",
		Version: "2",
		Payload: []byte("{}"),
	}
	if err := h.pipeline.Accept(context.Background(), env); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, err := os.ReadFile(filepath.Join(dataRoot, "otel-1", "config.yaml")); err != nil {
		t.Fatalf("expected config file still present after re-apply: %v", err)
	}
}

func TestControlScopeRemoteConfigAddsAgent(t *testing.T) {
	c, _, _ := newTestController(t, nil)

	if err := c.reconcileAgents(context.Background(), map[agenttype.AgentID]agenttype.AgentTypeID{}); err != nil {
		t.Fatalf("reconcileAgents (empty start): %v", err)
	}

	payload := []byte("agents:\n  otel-2:\n    agent_type: test/echo:v1\n")
	env := remoteconfig.Envelope{Scope: remoteconfig.ScopeControl, Version: "1", Payload: payload}
	if err := c.controlPipeline.Accept(context.Background(), env); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, ok := c.handleFor("otel-2"); !ok {
		t.Fatal("expected otel-2 to be started by the control-scope remote config")
	}
}

func TestFleetClientPollRemoteConfigFeedsThePipeline(t *testing.T) {
	fc := fleetclient.NewFakeClient()
	c, _, dataRoot := newTestController(t, fc)

	if err := c.reconcileAgents(context.Background(), agentsFromRunConfig(c.cfg.RunConfig)); err != nil {
		t.Fatalf("reconcileAgents: %v", err)
	}

	fc.Enqueue(remoteconfig.Envelope{
		Scope:   remoteconfig.Scope("agent"),
		AgentID: "otel-1",
		Version: "2",
		Payload: []byte("{}"),
	})

	c.pollRemoteConfig(context.Background(), "otel-1")

	if _, err := os.ReadFile(filepath.Join(dataRoot, "otel-1", "config.yaml")); err != nil {
		t.Fatalf("expected config file present after polled remote config applied: %v", err)
	}
}

func TestHostRuntimeHealthReportsRestartPolicyExhaustion(t *testing.T) {
	dir := t.TempDir()
	dataRoot := filepath.Join(dir, "data")

	repo, err := configrepo.NewFileBackend(filepath.Join(dir, "local"), filepath.Join(dir, "remote"))
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	sup := host.New(dataRoot, discardLogger())
	runtime := NewHostRuntime(sup, dataRoot, discardLogger())

	cfg := Config{
		RunConfig: runconfig.RunConfig{
			Agents: map[string]runconfig.AgentEntry{
				"flap-1": {AgentType: "test/flapper:v1"},
			},
			Report: runconfig.ReportInterval{Every: 10 * time.Millisecond},
		},
		Registry:   flappingRegistry(t),
		Repo:       repo,
		Bus:        eventbus.New(discardLogger()),
		InstanceID: "01TESTINSTANCE0000000000001",
		FleetID:    "fleet-1",
		Runtime:    runtime,
		Logger:     discardLogger(),
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.reconcileAgents(context.Background(), agentsFromRunConfig(cfg.RunConfig)); err != nil {
		t.Fatalf("reconcileAgents: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var health Health
	var healthErr error
	for time.Now().Before(deadline) {
		health, healthErr = c.cfg.Runtime.Health(context.Background(), "flap-1")
		if health == HealthUnhealthy {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if health != HealthUnhealthy {
		t.Fatalf("health = %s, want unhealthy after restart policy exhausted", health)
	}
	if healthErr == nil {
		t.Fatalf("expected Health to return an error naming the failed executable")
	}
}

func TestShutdownStopsEveryAgent(t *testing.T) {
	c, _, dataRoot := newTestController(t, nil)
	if err := c.reconcileAgents(context.Background(), agentsFromRunConfig(c.cfg.RunConfig)); err != nil {
		t.Fatalf("reconcileAgents: %v", err)
	}

	c.shutdown()

	if _, ok := c.handleFor("otel-1"); ok {
		t.Fatal("expected no handles to remain after shutdown")
	}
	if _, err := os.Stat(filepath.Join(dataRoot, "otel-1")); !os.IsNotExist(err) {
		t.Fatalf("expected otel-1's data dir removed after shutdown, stat err=%v", err)
	}
}
