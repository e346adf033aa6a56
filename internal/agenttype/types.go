// Package agenttype holds the agent-type definition model: the immutable
// templates that describe how to run a class of sub-agent, the values that
// parameterize them, and the assembler that combines the two into an
// EffectiveAgent ready for rendering.
package agenttype

import (
	"fmt"
	"regexp"
)

// agentIDPattern matches spec.md §3: "[a-z0-9][a-z0-9-]*".
var agentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// AgentID uniquely identifies a sub-agent within a control instance.
type AgentID string

// Validate checks the id against the reserved pattern and emptiness.
func (a AgentID) Validate() error {
	if a == "" {
		return fmt.Errorf("agent id: must not be empty")
	}
	if !agentIDPattern.MatchString(string(a)) {
		return fmt.Errorf("agent id %q: must match [a-z0-9][a-z0-9-]*", a)
	}
	return nil
}

// ReservedAgentID is the identifier reserved for the control process itself.
const ReservedAgentID AgentID = "agent-control"

// AgentTypeID is the registry key: namespace/name:version.
type AgentTypeID struct {
	Namespace string
	Name      string
	Version   string
}

func (id AgentTypeID) String() string {
	return fmt.Sprintf("%s/%s:%s", id.Namespace, id.Name, id.Version)
}

// ParseAgentTypeID parses "namespace/name:version" into its parts.
func ParseAgentTypeID(s string) (AgentTypeID, error) {
	var id AgentTypeID
	slash := indexByte(s, '/')
	if slash < 0 {
		return id, fmt.Errorf("agent type id %q: missing namespace separator '/'", s)
	}
	colon := lastIndexByte(s, ':')
	if colon < 0 || colon < slash {
		return id, fmt.Errorf("agent type id %q: missing version separator ':'", s)
	}
	id.Namespace = s[:slash]
	id.Name = s[slash+1 : colon]
	id.Version = s[colon+1:]
	if id.Namespace == "" || id.Name == "" || id.Version == "" {
		return id, fmt.Errorf("agent type id %q: namespace, name, and version must all be non-empty", s)
	}
	return id, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// VariableKind enumerates the accepted variable types in a definition.
type VariableKind string

const (
	KindString VariableKind = "string"
	KindBool   VariableKind = "bool"
	KindNumber VariableKind = "number"
	KindFile   VariableKind = "file"
	KindYAML   VariableKind = "yaml"
	KindMap    VariableKind = "map"
)

// VariableDef describes one entry in an agent type's variable tree, keyed
// by its dotted path (e.g. "log.level").
type VariableDef struct {
	Kind        VariableKind `yaml:"kind"`
	Required    bool         `yaml:"required"`
	Default     any          `yaml:"default,omitempty"`
	Variants    []string     `yaml:"variants,omitempty"`
	FilePath    string       `yaml:"file_path,omitempty"`
	Description string       `yaml:"description,omitempty"`
}

// Platform selects which runtime-config branch applies.
type Platform string

const (
	PlatformOnHost Platform = "on_host"
	PlatformK8s    Platform = "k8s"
)

// RestartStrategy selects the backoff shape for a failed executable.
type RestartStrategy string

const (
	BackoffFixed       RestartStrategy = "fixed"
	BackoffLinear      RestartStrategy = "linear"
	BackoffExponential RestartStrategy = "exponential"
)

// RestartPolicy holds the per-executable restart parameters from §4.3.
type RestartPolicy struct {
	Strategy           RestartStrategy `yaml:"backoff_strategy"`
	BackoffDelaySec     float64        `yaml:"backoff_delay_seconds"`
	MaxRetries          int            `yaml:"max_retries"`
	LastRetryIntervalSec float64       `yaml:"last_retry_interval_seconds"`
	RestartExitCodes    []int          `yaml:"restart_exit_codes,omitempty"`
}

// ExecutableSpec is one process the host-mode supervisor must run.
type ExecutableSpec struct {
	ID                string            `yaml:"id"`
	Path              string            `yaml:"path"`
	Args              []string          `yaml:"args,omitempty"`
	Env               map[string]string `yaml:"env,omitempty"`
	Restart           RestartPolicy     `yaml:"restart"`
	ShutdownTimeoutSec float64          `yaml:"shutdown_timeout_seconds"`
}

// FileSpec is a rendered on-host config file. Contents may itself hold
// unresolved placeholders that get substituted at assemble time.
type FileSpec struct {
	Path     string `yaml:"path"`
	Contents string `yaml:"contents"`
	// TemplatedMap, when true, means Contents is a single "${ns:name}"
	// placeholder referencing a map-kind variable; the renderer expands
	// it into one file per map entry under Path rather than treating
	// Contents as a literal file body (see renderer §4.2). ContentsMap
	// holds that expansion once Assemble has resolved it.
	TemplatedMap bool              `yaml:"templated_map,omitempty"`
	ContentsMap  map[string]string `yaml:"-"`
}

// ObjectSpec is one declarative object the cluster-mode supervisor applies.
type ObjectSpec struct {
	APIVersion string         `yaml:"api_version"`
	Kind       string         `yaml:"kind"`
	Name       string         `yaml:"name"`
	Spec       map[string]any `yaml:"spec"`
}

// HealthCheckSpec describes how to probe an executable or object set.
type HealthCheckSpec struct {
	Type          string        `yaml:"type"` // "http", "tcp", "file", "process"
	Target        string        `yaml:"target,omitempty"`
	IntervalSec   float64       `yaml:"interval_seconds"`
	InitialDelaySec float64     `yaml:"initial_delay_seconds"`
}

// VersionCheckSpec describes how to probe the running version of an agent.
type VersionCheckSpec struct {
	Type   string `yaml:"type"` // "http", "exec"
	Target string `yaml:"target,omitempty"`
}

// OnHostRuntime holds the host-mode branch of a runtime-config template.
type OnHostRuntime struct {
	Executables []ExecutableSpec `yaml:"executables,omitempty"`
	Files       []FileSpec       `yaml:"files,omitempty"`
}

// K8sRuntime holds the cluster-mode branch of a runtime-config template.
type K8sRuntime struct {
	Objects []ObjectSpec `yaml:"objects,omitempty"`
}

// RuntimeConfigTemplate is the per-platform rendering template.
type RuntimeConfigTemplate struct {
	OnHost      *OnHostRuntime     `yaml:"on_host,omitempty"`
	K8s         *K8sRuntime        `yaml:"k8s,omitempty"`
	HealthCheck *HealthCheckSpec   `yaml:"health_check,omitempty"`
	VersionCheck *VersionCheckSpec `yaml:"version_check,omitempty"`
}

// Metadata identifies an agent type: namespace/name:version.
type Metadata struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
}

func (m Metadata) ID() AgentTypeID {
	return AgentTypeID{Namespace: m.Namespace, Name: m.Name, Version: m.Version}
}

// Definition is the immutable record describing a class of sub-agent.
type Definition struct {
	Metadata Metadata               `yaml:"metadata"`
	Variables map[string]VariableDef `yaml:"variables"`
	Runtime   RuntimeConfigTemplate  `yaml:"runtime"`
}

// Values is the per-agent input: a mapping from variable path to a trivial
// value (string, number, bool, nested map, or file contents).
type Values map[string]any
