package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

func TestProcessStartAndStop(t *testing.T) {
	dir := t.TempDir()
	spec := agenttype.ExecutableSpec{
		ID:                 "sleeper",
		Path:               "/bin/sh",
		Args:               []string{"-c", "sleep 30"},
		ShutdownTimeoutSec: 1,
		Restart:            agenttype.RestartPolicy{Strategy: agenttype.BackoffFixed, BackoffDelaySec: 1, MaxRetries: 0},
	}

	p := NewProcess(spec, dir, noopLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.State() != StateRunning {
		time.Sleep(20 * time.Millisecond)
	}
	if p.State() != StateRunning {
		t.Fatalf("state = %s, want running", p.State())
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.State() != StateTerminal {
		t.Fatalf("state after Stop = %s, want terminal", p.State())
	}

	if _, err := os.Stat(filepath.Join(dir, "sleeper.log")); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestProcessExhaustsRestartPolicy(t *testing.T) {
	dir := t.TempDir()
	spec := agenttype.ExecutableSpec{
		ID:   "flapper",
		Path: "/bin/sh",
		Args: []string{"-c", "exit 1"},
		Restart: agenttype.RestartPolicy{
			Strategy:        agenttype.BackoffFixed,
			BackoffDelaySec: 0.01,
			MaxRetries:      2,
		},
	}

	p := NewProcess(spec, dir, noopLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && p.State() != StateTerminal {
		time.Sleep(20 * time.Millisecond)
	}
	if p.State() != StateTerminal {
		t.Fatalf("state = %s, want terminal after exhausting retries", p.State())
	}
	if p.LastError() == "" {
		t.Fatalf("expected LastError to name why the process went terminal")
	}
}

func TestProcessDeferredEnvResolvedPerStart(t *testing.T) {
	dir := t.TempDir()
	spec := agenttype.ExecutableSpec{
		ID:                 "envprobe",
		Path:               "/bin/sh",
		Args:               []string{"-c", "echo ok > /dev/null"},
		Env:                map[string]string{"TOKEN": "${nr-env:PROCESS_TEST_TOKEN}"},
		ShutdownTimeoutSec:  1,
		Restart:             agenttype.RestartPolicy{MaxRetries: 0},
	}

	lookups := 0
	env := func(name string) (string, bool) {
		lookups++
		if name == "PROCESS_TEST_TOKEN" {
			return "secret", true
		}
		return "", false
	}

	p := NewProcess(spec, dir, noopLogger(), env)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	_ = p.Stop()

	if lookups == 0 {
		t.Fatalf("expected nr-env lookup to run at process start")
	}
}
