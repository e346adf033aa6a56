package remoteconfig

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newFakeStore() *fakeStore { return &fakeStore{records: make(map[string]Record)} }

func (f *fakeStore) Persist(ctx context.Context, key string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = rec
	return nil
}

func (f *fakeStore) Load(ctx context.Context, key string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	return rec, ok, nil
}

type fakeDispatcher struct {
	fail     bool
	received []Record
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, rec Record) error {
	if d.fail {
		return errors.New("dispatch failed")
	}
	d.received = append(d.received, rec)
	return nil
}

func hashOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func alwaysValid(scope Scope, env Envelope) error { return nil }

func TestPipelineAcceptsAndPersistsApplied(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	pipeline := NewPipeline(func(ctx context.Context, env Envelope) error { return nil }, alwaysValid, store, dispatcher)

	payload := []byte("agents: {}")
	env := Envelope{Scope: ScopeControl, Version: "1", Hash: hashOf(payload), Payload: payload}

	if err := pipeline.Accept(context.Background(), env); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	rec, ok, _ := store.Load(context.Background(), "control")
	if !ok || rec.State != StateApplied {
		t.Fatalf("expected persisted Applied record, got %+v (ok=%v)", rec, ok)
	}
	if len(dispatcher.received) != 1 {
		t.Fatalf("expected dispatch to be called once, got %d", len(dispatcher.received))
	}
}

func TestPipelineAcceptsOpaqueHashWithoutRecomputing(t *testing.T) {
	// Hash is an opaque fleet-service-supplied identifier (spec.md §3),
	// not a locally-recomputable sha256 of the payload: an envelope
	// whose Hash does not match sha256(Payload) must still be accepted.
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	pipeline := NewPipeline(func(ctx context.Context, env Envelope) error { return nil }, alwaysValid, store, dispatcher)

	env := Envelope{Scope: ScopeControl, Hash: "opaque-fleet-identifier", Payload: []byte("x")}
	if err := pipeline.Accept(context.Background(), env); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	rec, ok, _ := store.Load(context.Background(), "control")
	if !ok || rec.State != StateApplied {
		t.Fatalf("expected a Applied record to be persisted, got %+v (ok=%v)", rec, ok)
	}
}

func TestPipelineRejectsBadSignature(t *testing.T) {
	store := newFakeStore()
	verify := func(ctx context.Context, env Envelope) error { return errors.New("bad sig") }
	pipeline := NewPipeline(verify, alwaysValid, store, &fakeDispatcher{})

	payload := []byte("x")
	env := Envelope{Scope: ScopeControl, Hash: hashOf(payload), Payload: payload}
	if err := pipeline.Accept(context.Background(), env); err == nil {
		t.Fatalf("expected signature verification failure")
	}
	rec, _, _ := store.Load(context.Background(), "control")
	if rec.State != StateFailed {
		t.Fatalf("state = %s, want failed", rec.State)
	}
}

func TestPipelineIdempotentOnMatchingApplied(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	pipeline := NewPipeline(func(ctx context.Context, env Envelope) error { return nil }, alwaysValid, store, dispatcher)

	payload := []byte("x")
	env := Envelope{Scope: ScopeControl, Hash: hashOf(payload), Payload: payload}

	if err := pipeline.Accept(context.Background(), env); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	if err := pipeline.Accept(context.Background(), env); err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if len(dispatcher.received) != 1 {
		t.Fatalf("expected dispatch exactly once across idempotent resubmission, got %d", len(dispatcher.received))
	}
}

func TestPipelineScopedToAgent(t *testing.T) {
	store := newFakeStore()
	pipeline := NewPipeline(func(ctx context.Context, env Envelope) error { return nil }, alwaysValid, store, &fakeDispatcher{})

	payload := []byte("x")
	env := Envelope{Scope: Scope("agent"), AgentID: agenttype.AgentID("otel-1"), Hash: hashOf(payload), Payload: payload}
	if err := pipeline.Accept(context.Background(), env); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, ok, _ := store.Load(context.Background(), "otel-1"); !ok {
		t.Fatalf("expected record persisted under agent id key")
	}
}
