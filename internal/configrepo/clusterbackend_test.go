package configrepo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// fakeClusterClient is a minimal in-memory cluster.Client double, in
// the "hand-rolled fake over a narrow interface" style used throughout
// (e.g. internal/supervisor/cluster's own fakeClient).
type fakeClusterClient struct {
	mu      sync.Mutex
	objects map[string]unstructured.Unstructured
}

func newFakeClusterClient() *fakeClusterClient {
	return &fakeClusterClient{objects: make(map[string]unstructured.Unstructured)}
}

func (f *fakeClusterClient) Apply(ctx context.Context, namespace string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[obj.GetName()] = *obj
	return obj, nil
}

func (f *fakeClusterClient) List(ctx context.Context, namespace string, gvr schema.GroupVersionResource, labelSelector string) ([]unstructured.Unstructured, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []unstructured.Unstructured
	for _, obj := range f.objects {
		if matchesSelector(obj.GetLabels(), labelSelector) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func matchesSelector(labels map[string]string, selector string) bool {
	if selector == "" {
		return true
	}
	for _, pair := range strings.Split(selector, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || labels[k] != v {
			return false
		}
	}
	return true
}

func (f *fakeClusterClient) Delete(ctx context.Context, namespace string, gvr schema.GroupVersionResource, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[name]; !ok {
		return fmt.Errorf("not found: %s", name)
	}
	delete(f.objects, name)
	return nil
}

func TestClusterBackendStoreLoadRoundTrip(t *testing.T) {
	client := newFakeClusterClient()
	b := NewClusterBackend(client, "agent-control")
	ctx := context.Background()

	rec := remoteconfig.Record{
		Envelope: remoteconfig.Envelope{Scope: remoteconfig.ScopeControl, Payload: []byte("x")},
		State:    remoteconfig.StateApplied,
	}
	if err := b.StoreRemote(ctx, "otel-1", rec); err != nil {
		t.Fatalf("StoreRemote: %v", err)
	}

	got, ok, err := b.LoadRemote(ctx, "otel-1")
	if err != nil || !ok {
		t.Fatalf("LoadRemote: ok=%v err=%v", ok, err)
	}
	if got.State != remoteconfig.StateApplied || string(got.Envelope.Payload) != "x" {
		t.Fatalf("got %+v", got)
	}
}

func TestClusterBackendMissingReturnsNotFound(t *testing.T) {
	b := NewClusterBackend(newFakeClusterClient(), "agent-control")
	_, ok, err := b.LoadRemote(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("LoadRemote: %v", err)
	}
	if ok {
		t.Fatal("expected no record for an agent never stored")
	}
}

func TestClusterBackendDeleteRemote(t *testing.T) {
	client := newFakeClusterClient()
	b := NewClusterBackend(client, "agent-control")
	ctx := context.Background()

	if err := b.StoreRemote(ctx, "otel-1", remoteconfig.Record{State: remoteconfig.StateApplied}); err != nil {
		t.Fatal(err)
	}
	if err := b.DeleteRemote(ctx, "otel-1"); err != nil {
		t.Fatalf("DeleteRemote: %v", err)
	}
	_, ok, err := b.LoadRemote(ctx, "otel-1")
	if err != nil || ok {
		t.Fatalf("expected not found after delete, ok=%v err=%v", ok, err)
	}
}

func TestClusterBackendDoesNotBleedAcrossAgents(t *testing.T) {
	client := newFakeClusterClient()
	b := NewClusterBackend(client, "agent-control")
	ctx := context.Background()

	if err := b.StoreRemote(ctx, "otel-1", remoteconfig.Record{Envelope: remoteconfig.Envelope{Payload: []byte("a")}}); err != nil {
		t.Fatal(err)
	}
	if err := b.StoreRemote(ctx, "otel-2", remoteconfig.Record{Envelope: remoteconfig.Envelope{Payload: []byte("b")}}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := b.LoadRemote(ctx, "otel-2")
	if err != nil || !ok {
		t.Fatalf("LoadRemote: %v %v", ok, err)
	}
	if string(got.Envelope.Payload) != "b" {
		t.Fatalf("got %q, want b", got.Envelope.Payload)
	}
}
