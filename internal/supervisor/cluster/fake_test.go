package cluster

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// fakeClient is an in-memory Client for tests, matching the
// teacher's "fake store" style (the per-node supervisor's old tests's
// fakeStore) rather than a generated mock.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string]unstructured.Unstructured // key: gvr.Resource/name
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string]unstructured.Unstructured)}
}

func (f *fakeClient) key(resource, name string) string { return resource + "/" + name }

func (f *fakeClient) Apply(ctx context.Context, namespace string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	gvr, err := gvrForKind(obj.GetKind())
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[f.key(gvr.Resource, obj.GetName())] = *obj
	return obj, nil
}

func (f *fakeClient) List(ctx context.Context, namespace string, gvr schema.GroupVersionResource, labelSelector string) ([]unstructured.Unstructured, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []unstructured.Unstructured
	prefix := gvr.Resource + "/"
	for k, v := range f.objects {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if matchesSelector(v.GetLabels(), labelSelector) {
			out = append(out, v)
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

func (f *fakeClient) Delete(ctx context.Context, namespace string, gvr schema.GroupVersionResource, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(gvr.Resource, name)
	if _, ok := f.objects[k]; !ok {
		return fmt.Errorf("not found: %s", k)
	}
	delete(f.objects, k)
	return nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
