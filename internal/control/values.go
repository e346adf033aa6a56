package control

import (
	"fmt"
	"sort"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"gopkg.in/yaml.v3"
)

// yamlValidate checks raw is well-formed YAML decodable into out,
// without caring about the result beyond that. Used for the
// control-scope pipeline's Validator stage, where "well-formed" is the
// whole of what can be checked before reconcileAgents resolves each
// named agent type.
func yamlValidate(raw []byte, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return yaml.Unmarshal(raw, out)
}

// parseValues decodes a YAML document (a local config file's body, or a
// remote-config envelope's payload) into an agenttype.Values tree.
func parseValues(raw []byte) (agenttype.Values, error) {
	if len(raw) == 0 {
		return agenttype.Values{}, nil
	}
	var values agenttype.Values
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parsing values: %w", err)
	}
	if values == nil {
		values = agenttype.Values{}
	}
	return values, nil
}

// stringifyValue renders a resolved value as a string for the nr-sub
// namespace, which (per internal/agenttype/template.go) is always a
// flat map[string]string.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// buildSubRefs publishes every other live agent's resolved top-level
// values under "<agent-id>.<key>", the cross-agent reference surface
// nr-sub placeholders address. This shape is not fixed by spec.md;
// it is this controller's resolution of how "values published by
// another sub-agent" (spec.md §4.2) are keyed, recorded as an Open
// Question decision in DESIGN.md.
func buildSubRefs(all map[agenttype.AgentID]agenttype.Values, except agenttype.AgentID) map[string]string {
	out := make(map[string]string)
	ids := make([]agenttype.AgentID, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if id == except {
			continue
		}
		for k, v := range all[id] {
			out[fmt.Sprintf("%s.%s", id, k)] = stringifyValue(v)
		}
	}
	return out
}
