package configrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
	"github.com/fleetcontrol/agent-control/internal/supervisor/cluster"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var configMapGVR = schema.GroupVersionResource{Group: "", Version: "v1", Resource: "configmaps"}

// ClusterBackend implements Repository by keying ConfigMaps in the
// managed namespace, one per agent, per spec.md §4.7's cluster-mode
// storage backend ("config maps/secrets in the managed namespace,
// keyed by agent id + logical key"). Local configs have no meaning
// under cluster mode (there is no read-only local root concept),
// so LoadLocal always reports absence.
type ClusterBackend struct {
	client    cluster.Client
	namespace string
}

// NewClusterBackend returns a ClusterBackend storing objects in
// namespace via client.
func NewClusterBackend(client cluster.Client, namespace string) *ClusterBackend {
	return &ClusterBackend{client: client, namespace: namespace}
}

func (b *ClusterBackend) name(agentID agenttype.AgentID) string {
	return "agent-control-remoteconfig-" + string(agentID)
}

func (b *ClusterBackend) LoadLocal(context.Context, agenttype.AgentID) (YamlConfig, bool, error) {
	return YamlConfig{}, false, nil
}

func (b *ClusterBackend) LoadRemote(ctx context.Context, agentID agenttype.AgentID) (remoteconfig.Record, bool, error) {
	objs, err := b.client.List(ctx, b.namespace, configMapGVR, "agent-control.newrelic.com/agent-id="+string(agentID))
	if err != nil {
		return remoteconfig.Record{}, false, fmt.Errorf("listing remote config configmap for %s: %w", agentID, err)
	}
	for _, obj := range objs {
		if obj.GetName() != b.name(agentID) {
			continue
		}
		return b.decode(obj)
	}
	return remoteconfig.Record{}, false, nil
}

func (b *ClusterBackend) decode(obj unstructured.Unstructured) (remoteconfig.Record, bool, error) {
	data, found, err := unstructured.NestedString(obj.Object, "data", "record.json")
	if err != nil || !found {
		return remoteconfig.Record{}, false, fmt.Errorf("configmap %s missing data.record.json", obj.GetName())
	}
	var rec remoteconfig.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return remoteconfig.Record{}, false, fmt.Errorf("decoding record from configmap %s: %w", obj.GetName(), err)
	}
	return rec, true, nil
}

func (b *ClusterBackend) GetRemote(ctx context.Context, agentID agenttype.AgentID) (remoteconfig.Record, bool, error) {
	return b.LoadRemote(ctx, agentID)
}

func (b *ClusterBackend) StoreRemote(ctx context.Context, agentID agenttype.AgentID, rec remoteconfig.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding remote config for %s: %w", agentID, err)
	}

	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion("v1")
	obj.SetKind("ConfigMap")
	obj.SetName(b.name(agentID))
	obj.SetNamespace(b.namespace)
	obj.SetLabels(map[string]string{
		"app.kubernetes.io/managed-by":        "agent-control",
		"agent-control.newrelic.com/agent-id": string(agentID),
		"agent-control.newrelic.com/origin":   "remote-config",
	})
	if err := unstructured.SetNestedField(obj.Object, string(data), "data", "record.json"); err != nil {
		return fmt.Errorf("setting configmap data for %s: %w", agentID, err)
	}

	if _, err := b.client.Apply(ctx, b.namespace, obj); err != nil {
		return fmt.Errorf("applying remote config configmap for %s: %w", agentID, err)
	}
	return nil
}

func (b *ClusterBackend) UpdateState(ctx context.Context, agentID agenttype.AgentID, state remoteconfig.State, message string) error {
	rec, ok, err := b.LoadRemote(ctx, agentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update_state called with no persisted remote config for %s", agentID)
	}
	rec.State = state
	rec.Message = message
	return b.StoreRemote(ctx, agentID, rec)
}

func (b *ClusterBackend) DeleteRemote(ctx context.Context, agentID agenttype.AgentID) error {
	if err := b.client.Delete(ctx, b.namespace, configMapGVR, b.name(agentID)); err != nil {
		return fmt.Errorf("deleting remote config configmap for %s: %w", agentID, err)
	}
	return nil
}
