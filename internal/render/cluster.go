package render

import "github.com/fleetcontrol/agent-control/internal/agenttype"

// Cluster turns a sub-agent's runtime-config template into the
// declarative object set internal/supervisor/cluster applies, rejecting
// any object kind outside the allow-list in spec.md §4.4.
func Cluster(eff agenttype.EffectiveAgent) (*ClusterRenderOutput, error) {
	if eff.Runtime.K8s == nil {
		return nil, errDisallowedKind("")
	}

	objs := make([]agenttype.ObjectSpec, 0, len(eff.Runtime.K8s.Objects))
	for _, obj := range eff.Runtime.K8s.Objects {
		if !allowedObjectKinds[obj.Kind] {
			return nil, errDisallowedKind(obj.Kind)
		}
		if obj.Name == "" {
			return nil, errInvalidPath(obj.Name, "object name must not be empty")
		}
		objs = append(objs, obj)
	}

	return &ClusterRenderOutput{Objects: objs}, nil
}
