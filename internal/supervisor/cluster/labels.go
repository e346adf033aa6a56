package cluster

import (
	"fmt"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

// Ownership labels stamped on every object the supervisor applies, per
// spec.md §4.4, so garbage collection and `kubectl get -l` can find
// everything one agent-control instance manages.
const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelAgentID   = "agent-control.newrelic.com/agent-id"
	LabelOrigin    = "agent-control.newrelic.com/origin"

	managedByValue = "agent-control"
)

// OwnershipLabels returns the label set every applied object must
// carry for id.
func OwnershipLabels(id agenttype.AgentID) map[string]string {
	return map[string]string{
		LabelManagedBy: managedByValue,
		LabelAgentID:   string(id),
		LabelOrigin:    managedByValue,
	}
}

// LabelSelector builds the selector string used to list or garbage
// collect every object belonging to id.
func LabelSelector(id agenttype.AgentID) string {
	return fmt.Sprintf("%s=%s,%s=%s", LabelManagedBy, managedByValue, LabelAgentID, id)
}

// AllManagedSelector selects every object this agent-control instance
// owns, regardless of agent id — used by the periodic garbage-collection
// pass (GarbageCollector.Run, spec.md §4.6) to find orphans left by a previous process that
// crashed mid-reconciliation.
const AllManagedSelector = LabelManagedBy + "=" + managedByValue
