// Package render turns an agenttype.EffectiveAgent into the concrete
// artifacts a supervisor runs: on-host files plus executables, or a set
// of declarative objects for cluster mode. It owns path-safety checks
// that the assembler itself does not perform (spec.md §4.2).
package render

import (
	"fmt"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

// RenderedFile is one file to be written under a sub-agent's data
// directory, relative to that directory's root.
type RenderedFile struct {
	RelPath string
	Data    []byte
}

// HostRenderOutput is everything the host-mode supervisor needs to
// start one sub-agent: its files (written first) and its executables.
type HostRenderOutput struct {
	Files       []RenderedFile
	Executables []agenttype.ExecutableSpec
}

// ClusterRenderOutput is the declarative object set the cluster-mode
// supervisor applies for one sub-agent.
type ClusterRenderOutput struct {
	Objects []agenttype.ObjectSpec
}

// allowedObjectKinds is the cluster-mode allow-list from spec.md §4.4:
// only these kinds may be declared by an agent-type's runtime template.
var allowedObjectKinds = map[string]bool{
	"Deployment":     true,
	"DaemonSet":      true,
	"StatefulSet":    true,
	"ConfigMap":      true,
	"Secret":         true,
	"Service":        true,
	"ServiceAccount": true,
	"Role":           true,
	"RoleBinding":    true,
	"HelmRelease":    true,
}

func errInvalidPath(path, reason string) error {
	return fmt.Errorf("render: invalid path %q: %s", path, reason)
}

func errDisallowedKind(kind string) error {
	return fmt.Errorf("render: object kind %q is not in the cluster-mode allow-list", kind)
}
