package cluster

import (
	"context"
	"fmt"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Health mirrors internal/supervisor/host.Health so callers (the
// status surface, the root controller) can treat both supervision
// modes uniformly.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// DeriveHealth inspects a workload object's status.conditions for a
// condition named "Ready" and maps it to a Health, per spec.md §4.4.
// Objects with no conditions (ConfigMap, Secret, ServiceAccount) are
// always Healthy once they exist.
func DeriveHealth(obj unstructured.Unstructured) Health {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil {
		return HealthUnknown
	}
	if !found {
		return HealthHealthy
	}
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if cond["type"] != "Ready" {
			continue
		}
		switch cond["status"] {
		case "True":
			return HealthHealthy
		case "False":
			return HealthUnhealthy
		default:
			return HealthUnknown
		}
	}
	return HealthUnknown
}

// CheckHealth fetches the current health of every object agent id owns
// and folds them into a single verdict: Unhealthy if any object is
// unhealthy, Unknown if any is unknown and none are unhealthy,
// otherwise Healthy.
func (r *Reconciler) CheckHealth(ctx context.Context, id agenttype.AgentID) (Health, error) {
	owned, err := r.listOwned(ctx, id)
	if err != nil {
		return HealthUnknown, fmt.Errorf("checking health of %s: %w", id, err)
	}

	sawUnknown := false
	for _, items := range owned {
		for _, item := range items {
			switch DeriveHealth(item) {
			case HealthUnhealthy:
				return HealthUnhealthy, nil
			case HealthUnknown:
				sawUnknown = true
			}
		}
	}
	if sawUnknown {
		return HealthUnknown, nil
	}
	return HealthHealthy, nil
}
