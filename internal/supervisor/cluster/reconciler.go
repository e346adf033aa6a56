package cluster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/render"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ActionType mirrors the prior reconciler's action vocabulary,
// generalized from VM services to declarative objects.
type ActionType string

const (
	ActionApply  ActionType = "apply"
	ActionDelete ActionType = "delete"
)

// Action is one reconciliation step.
type Action struct {
	Type   ActionType
	Object agenttype.ObjectSpec
	Name   string // for ActionDelete, when Object is unavailable
	Kind   string // for ActionDelete, when Object is unavailable
}

// Reconciler diffs a sub-agent's desired declarative objects against
// what the cluster actually holds and converges them. Grounded on
// the prior reconciler's Plan/Apply split, generalized from a
// List/Start/Remove VM lifecycle to Client.List/Apply/Delete over
// unstructured objects.
type Reconciler struct {
	client    Client
	namespace string
	logger    *slog.Logger
}

// New creates a Reconciler operating in namespace.
func New(client Client, namespace string, logger *slog.Logger) *Reconciler {
	return &Reconciler{client: client, namespace: namespace, logger: logger}
}

// Plan computes the actions needed to converge agent id's actual
// objects with its desired set.
func (r *Reconciler) Plan(ctx context.Context, id agenttype.AgentID, desired *render.ClusterRenderOutput) ([]Action, error) {
	desiredByName := make(map[string]agenttype.ObjectSpec, len(desired.Objects))
	for _, obj := range desired.Objects {
		desiredByName[obj.Kind+"/"+obj.Name] = obj
	}

	var actions []Action
	for _, obj := range desired.Objects {
		actions = append(actions, Action{Type: ActionApply, Object: obj})
	}

	actual, err := r.listOwned(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing objects owned by %s: %w", id, err)
	}
	for kind, items := range actual {
		for _, item := range items {
			key := kind + "/" + item.GetName()
			if _, wanted := desiredByName[key]; !wanted {
				actions = append(actions, Action{Type: ActionDelete, Kind: kind, Name: item.GetName()})
			}
		}
	}

	return actions, nil
}

// Apply executes the plan, applying before deleting so a rename never
// leaves a gap in service.
func (r *Reconciler) Apply(ctx context.Context, id agenttype.AgentID, actions []Action) error {
	var errs []error

	for _, a := range actions {
		if a.Type != ActionApply {
			continue
		}
		u, err := toUnstructured(a.Object, r.namespace, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("converting %s/%s: %w", a.Object.Kind, a.Object.Name, err))
			continue
		}
		if _, err := r.client.Apply(ctx, r.namespace, u); err != nil {
			r.logger.Error("failed to apply object", "agent_id", id, "kind", a.Object.Kind, "name", a.Object.Name, "error", err)
			errs = append(errs, err)
		}
	}

	for _, a := range actions {
		if a.Type != ActionDelete {
			continue
		}
		gvr, err := gvrForKind(a.Kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.client.Delete(ctx, r.namespace, gvr, a.Name); err != nil {
			r.logger.Warn("failed to delete orphaned object", "agent_id", id, "kind", a.Kind, "name", a.Name, "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cluster reconciliation for %s had %d error(s): %v", id, len(errs), errs)
	}
	return nil
}

// Reconcile plans and applies in one step.
func (r *Reconciler) Reconcile(ctx context.Context, id agenttype.AgentID, desired *render.ClusterRenderOutput) error {
	actions, err := r.Plan(ctx, id, desired)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		r.logger.Debug("no changes needed, cluster state is converged", "agent_id", id)
		return nil
	}
	return r.Apply(ctx, id, actions)
}

func (r *Reconciler) listOwned(ctx context.Context, id agenttype.AgentID) (map[string][]unstructured.Unstructured, error) {
	out := make(map[string][]unstructured.Unstructured)
	for kind := range allowedObjectKinds {
		gvr, err := gvrForKind(kind)
		if err != nil {
			continue
		}
		items, err := r.client.List(ctx, r.namespace, gvr, LabelSelector(id))
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			out[kind] = items
		}
	}
	return out, nil
}

var allowedObjectKinds = map[string]bool{
	"Deployment": true, "DaemonSet": true, "StatefulSet": true,
	"ConfigMap": true, "Secret": true, "Service": true,
	"ServiceAccount": true, "Role": true, "RoleBinding": true,
	"HelmRelease": true,
}

func toUnstructured(obj agenttype.ObjectSpec, namespace string, id agenttype.AgentID) (*unstructured.Unstructured, error) {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion(obj.APIVersion)
	u.SetKind(obj.Kind)
	u.SetName(obj.Name)
	u.SetNamespace(namespace)
	u.SetLabels(OwnershipLabels(id))
	if obj.Spec != nil {
		if err := unstructured.SetNestedMap(u.Object, obj.Spec, "spec"); err != nil {
			return nil, fmt.Errorf("setting spec: %w", err)
		}
	}
	return u, nil
}
