package configrepo

import (
	"path/filepath"
	"testing"

	"github.com/fleetcontrol/agent-control/internal/identity"
)

func TestIdentityBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "identity.json")
	b := NewIdentityBackend(path)

	_, ok, err := b.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if ok {
		t.Fatal("expected no identity on a fresh backend")
	}

	rec := identity.Record{InstanceID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", TupleKey: "h1|m1|f1"}
	if err := b.SaveIdentity(rec); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	got, ok, err := b.LoadIdentity()
	if err != nil || !ok {
		t.Fatalf("LoadIdentity: ok=%v err=%v", ok, err)
	}
	if got != rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestIdentityBackendResolveIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	b := NewIdentityBackend(path)

	first, err := identity.Resolve(b, identity.Tuple{HostID: "h1", MachineID: "m1", FleetID: "f1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := identity.Resolve(b, identity.Tuple{HostID: "h1", MachineID: "m1", FleetID: "f1"})
	if err != nil {
		t.Fatalf("Resolve (again): %v", err)
	}
	if first != second {
		t.Fatalf("expected identity to persist across Resolve calls via IdentityBackend")
	}
}
