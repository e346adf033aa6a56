// Package bootstrap wires the pieces every agent-control entrypoint
// needs, regardless of supervision mode: structured logging, the
// agent-type registry, the fleet-control client, and the signature key
// server. Host and cluster mode diverge only in which Repository and
// Runtime they construct, each entrypoint's own concern.
package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/fleetclient"
	"github.com/fleetcontrol/agent-control/internal/runconfig"
	"github.com/fleetcontrol/agent-control/internal/signature"
)

// Logger builds the process logger per cfg.Log, mirroring
// the prior per-node supervisor's cmd-level level-switch and optional file sink.
func Logger(cfg runconfig.Log) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stdout
	closeFn := func() error { return nil }
	if cfg.File.Enabled && cfg.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeFn = f.Close
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

// LoadRegistry registers every agent-type definition YAML document
// found directly under dir (spec.md §4.1). A missing directory is
// treated as "no agent types defined yet," not an error, since a
// fresh install's types may only arrive via a later store sync.
func LoadRegistry(dir string) (*agenttype.Registry, error) {
	reg := agenttype.NewRegistry()
	if dir == "" {
		return reg, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("reading agent-types dir %s: %w", dir, err)
	}

	var docs [][]byte
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".yaml" && filepath.Ext(name) != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading agent type %s: %w", name, err)
		}
		docs = append(docs, data)
	}

	if err := reg.RegisterYAML(docs...); err != nil {
		return nil, fmt.Errorf("registering agent types from %s: %w", dir, err)
	}
	return reg, nil
}

// FleetClient builds the upstream fleet-control client when cfg
// declares one, or returns nil when it does not (disabling reporters
// and remote-config polling, per control.Config's documented
// contract).
func FleetClient(cfg runconfig.RunConfig, transport *http.Transport) fleetclient.Client {
	if cfg.FleetControl == nil {
		return nil
	}
	return fleetclient.NewHTTPClient(cfg.FleetControl.Endpoint, cfg.FleetControl.Auth, transport)
}

// KeyServer builds the signature key server when cfg declares one, or
// returns nil to signal the permissive-verify opt-out, per
// control.Config's documented contract.
func KeyServer(cfg runconfig.RunConfig, transport *http.Transport) *signature.KeyServer {
	if cfg.FleetControl == nil || cfg.FleetControl.SignatureValidation.PublicKeyServerURL == "" {
		return nil
	}
	httpClient := &http.Client{Transport: transport, Timeout: 10 * time.Second}
	return signature.NewKeyServer(cfg.FleetControl.SignatureValidation.PublicKeyServerURL, httpClient, 10*time.Minute)
}
