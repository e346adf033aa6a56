// Package cluster supervises sub-agents declared as Kubernetes objects:
// applying, listing, and deleting them through a dynamic client, and
// deriving agent health from object status conditions. Grounded on the
// prior reconciler (create/update/delete planning) and the prior
// process manager (lifecycle bookkeeping), generalized from
// Firecracker microVMs to arbitrary unstructured objects.
package cluster

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
)

const patchTypeApply = types.ApplyPatchType

// Client abstracts the subset of the Kubernetes API the cluster-mode
// supervisor needs, narrowed from k8s.io/client-go/dynamic.Interface to
// the three verbs spec.md §4.4 names, per the "narrow capability
// interface with a fake for tests" design note (spec.md §9).
type Client interface {
	Apply(ctx context.Context, namespace string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	List(ctx context.Context, namespace string, gvr schema.GroupVersionResource, labelSelector string) ([]unstructured.Unstructured, error)
	Delete(ctx context.Context, namespace string, gvr schema.GroupVersionResource, name string) error
}

// dynamicClient implements Client against a real cluster via
// k8s.io/client-go/dynamic. Field-owner "agent-control" is used for
// every server-side apply, so ownership of managed fields is visible
// in `kubectl get -o yaml --show-managed-fields`.
type dynamicClient struct {
	iface dynamic.Interface
}

// NewClient wraps a dynamic.Interface (typically built from
// rest.InClusterConfig or a kubeconfig) as a Client.
func NewClient(iface dynamic.Interface) Client {
	return &dynamicClient{iface: iface}
}

const fieldManager = "agent-control"

func (c *dynamicClient) Apply(ctx context.Context, namespace string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	gvr, err := gvrForKind(obj.GetKind())
	if err != nil {
		return nil, err
	}
	data, err := obj.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling %s/%s: %w", obj.GetKind(), obj.GetName(), err)
	}
	res := c.iface.Resource(gvr).Namespace(namespace)
	applied, err := res.Patch(ctx, obj.GetName(), patchTypeApply, data, metav1.PatchOptions{FieldManager: fieldManager, Force: boolPtr(true)})
	if err != nil {
		return nil, fmt.Errorf("applying %s/%s: %w", obj.GetKind(), obj.GetName(), err)
	}
	return applied, nil
}

func (c *dynamicClient) List(ctx context.Context, namespace string, gvr schema.GroupVersionResource, labelSelector string) ([]unstructured.Unstructured, error) {
	list, err := c.iface.Resource(gvr).Namespace(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", gvr.Resource, err)
	}
	return list.Items, nil
}

func (c *dynamicClient) Delete(ctx context.Context, namespace string, gvr schema.GroupVersionResource, name string) error {
	if err := c.iface.Resource(gvr).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("deleting %s %s: %w", gvr.Resource, name, err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

// gvrForKind resolves the object kinds allowed by render.Cluster's
// allow-list to their core/apps GroupVersionResource. A full
// implementation would use a RESTMapper from discovery; this map
// covers exactly the kinds spec.md §4.4 allows an agent-type runtime
// template to declare.
func gvrForKind(kind string) (schema.GroupVersionResource, error) {
	switch kind {
	case "Deployment":
		return schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}, nil
	case "DaemonSet":
		return schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "daemonsets"}, nil
	case "StatefulSet":
		return schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "statefulsets"}, nil
	case "ConfigMap":
		return schema.GroupVersionResource{Group: "", Version: "v1", Resource: "configmaps"}, nil
	case "Secret":
		return schema.GroupVersionResource{Group: "", Version: "v1", Resource: "secrets"}, nil
	case "Service":
		return schema.GroupVersionResource{Group: "", Version: "v1", Resource: "services"}, nil
	case "ServiceAccount":
		return schema.GroupVersionResource{Group: "", Version: "v1", Resource: "serviceaccounts"}, nil
	case "Role":
		return schema.GroupVersionResource{Group: "rbac.authorization.k8s.io", Version: "v1", Resource: "roles"}, nil
	case "RoleBinding":
		return schema.GroupVersionResource{Group: "rbac.authorization.k8s.io", Version: "v1", Resource: "rolebindings"}, nil
	case "HelmRelease":
		return schema.GroupVersionResource{Group: "helm.toolkit.fluxcd.io", Version: "v2beta2", Resource: "helmreleases"}, nil
	default:
		return schema.GroupVersionResource{}, fmt.Errorf("no known GroupVersionResource for kind %q", kind)
	}
}
