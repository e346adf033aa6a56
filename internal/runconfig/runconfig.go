// Package runconfig loads the local control-process configuration
// file named in spec.md §6: the agents map, optional fleet-control,
// status-server, logging, and proxy blocks. Adapted from
// the prior config loader's AgentConfig/LoadAgentConfig, generalized from "one
// node's store settings" to "the set of sub-agents this control
// instance supervises plus its own operational settings."
package runconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentEntry declares one sub-agent this control instance supervises.
type AgentEntry struct {
	AgentType string `yaml:"agent_type"`
}

// SignatureValidation configures the key server used to verify remote
// config signatures. Mandatory rejects an envelope with no signature
// bundles at all as UnsignedConfig instead of accepting it unsigned.
type SignatureValidation struct {
	PublicKeyServerURL string `yaml:"public_key_server_url"`
	Mandatory          bool   `yaml:"mandatory,omitempty"`
}

// FleetControl configures the upstream fleet-control connection.
type FleetControl struct {
	Endpoint            string              `yaml:"endpoint"`
	Auth                string              `yaml:"auth,omitempty"`
	SignatureValidation SignatureValidation `yaml:"signature_validation"`
}

// Server configures the status HTTP endpoint (spec.md §6).
type Server struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogFile configures optional file-based logging alongside stdout.
type LogFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Log configures the process's structured-logging level and optional
// file sink.
type Log struct {
	Level string  `yaml:"level"`
	File  LogFile `yaml:"file"`
}

// Proxy configures the outbound HTTP proxy used by both the
// fleet-control client and the key-server client, per SPEC_FULL.md's
// SUPPLEMENTED FEATURES section.
type Proxy struct {
	URL               string `yaml:"url,omitempty"`
	CABundleFile      string `yaml:"ca_bundle_file,omitempty"`
	CABundleDir       string `yaml:"ca_bundle_dir,omitempty"`
	IgnoreSystemProxy bool   `yaml:"ignore_system_proxy,omitempty"`
}

// Paths configures the three persisted-layout roots spec.md §6 names:
// local (operator-owned configs and values), remote (opamp-data and
// rendered files), and log (agent-control.log and per-agent stdio).
// AgentTypesDir holds the agent-type definition YAML documents this
// instance registers at startup (spec.md §4.1).
type Paths struct {
	LocalDir      string `yaml:"local_dir"`
	RemoteDir     string `yaml:"remote_dir"`
	LogDir        string `yaml:"log_dir"`
	AgentTypesDir string `yaml:"agent_types_dir"`
}

// Store configures the local-config backend, mirroring
// the prior config loader's AgentConfig's store_type/store_url/store_branch/
// s3_* fields exactly, generalized from "one node's service configs"
// to "this control instance's agent-type and agent values documents."
// It is only consulted in host mode; cluster mode always uses
// configrepo.ClusterBackend regardless of Store's contents.
type Store struct {
	Type       string `yaml:"type"`
	URL        string `yaml:"url,omitempty"`
	Branch     string `yaml:"branch,omitempty"`
	S3Bucket   string `yaml:"s3_bucket,omitempty"`
	S3Prefix   string `yaml:"s3_prefix,omitempty"`
	S3Region   string `yaml:"s3_region,omitempty"`
	S3Endpoint string `yaml:"s3_endpoint_url,omitempty"`
}

// Cluster configures cluster mode's Kubernetes connection and managed
// namespace; it is only consulted by the cluster-mode entrypoint.
type Cluster struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	Namespace  string `yaml:"namespace"`
}

// ReportInterval controls the reporters' (health/version/effective
// config) polling cadence, as a duration or a cron expression — see
// internal/reporter.
type ReportInterval struct {
	Every time.Duration `yaml:"every,omitempty"`
	Cron  string        `yaml:"cron,omitempty"`
}

// RunConfig is the local configuration file's top-level shape.
type RunConfig struct {
	Agents       map[string]AgentEntry `yaml:"agents"`
	FleetControl *FleetControl         `yaml:"fleet_control,omitempty"`
	Server       Server                `yaml:"server"`
	Log          Log                   `yaml:"log"`
	Proxy        Proxy                 `yaml:"proxy,omitempty"`
	Paths        Paths                 `yaml:"paths"`
	Store        Store                 `yaml:"store"`
	Cluster      Cluster               `yaml:"cluster"`
	Report       ReportInterval        `yaml:"report,omitempty"`
}

// Default returns sensible defaults, mirroring the prior config
// loader's approach of filling in a usable configuration before the
// YAML overrides are applied.
func Default() RunConfig {
	return RunConfig{
		Agents: map[string]AgentEntry{},
		Server: Server{Enabled: true, Host: "127.0.0.1", Port: 8080},
		Log:    Log{Level: "info"},
		Paths: Paths{
			LocalDir:      "/etc/agent-control",
			RemoteDir:     "/var/lib/agent-control",
			LogDir:        "/var/log/agent-control",
			AgentTypesDir: "/etc/agent-control/agent-types",
		},
		Store:   Store{Type: "none"},
		Cluster: Cluster{Namespace: "agent-control"},
		Report:  ReportInterval{Every: 60 * time.Second},
	}
}

// Load reads and validates the local configuration file at path.
func Load(path string) (RunConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg RunConfig) error {
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("config must declare at least one entry under agents")
	}
	for id, entry := range cfg.Agents {
		if entry.AgentType == "" {
			return fmt.Errorf("agents.%s: agent_type is required", id)
		}
	}
	if cfg.FleetControl != nil && cfg.FleetControl.Endpoint == "" {
		return fmt.Errorf("fleet_control.endpoint is required when fleet_control is set")
	}
	if cfg.Server.Enabled && cfg.Server.Port == 0 {
		return fmt.Errorf("server.port is required when server.enabled is true")
	}
	if cfg.Report.Every == 0 && cfg.Report.Cron == "" {
		return fmt.Errorf("report.every or report.cron must be set")
	}
	switch cfg.Store.Type {
	case "git":
		if cfg.Store.URL == "" {
			return fmt.Errorf("store.url is required when store.type is git")
		}
	case "s3":
		if cfg.Store.S3Bucket == "" {
			return fmt.Errorf("store.s3_bucket is required when store.type is s3")
		}
	case "none":
	default:
		return fmt.Errorf("unsupported store.type: %q (expected \"git\", \"s3\", or \"none\")", cfg.Store.Type)
	}
	return nil
}
