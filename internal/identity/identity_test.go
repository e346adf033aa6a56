package identity

import "testing"

type fakePersistence struct {
	rec Record
	has bool
}

func (f *fakePersistence) LoadIdentity() (Record, bool, error) { return f.rec, f.has, nil }
func (f *fakePersistence) SaveIdentity(rec Record) error {
	f.rec = rec
	f.has = true
	return nil
}

func TestResolveGeneratesOnFirstRun(t *testing.T) {
	p := &fakePersistence{}
	id, err := Resolve(p, Tuple{HostID: "h1", MachineID: "m1", FleetID: "f1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty instance id")
	}
	if !p.has {
		t.Fatalf("expected the fresh id to be persisted")
	}
}

func TestResolveReusesIdentityWhenTupleUnchanged(t *testing.T) {
	p := &fakePersistence{}
	tuple := Tuple{HostID: "h1", MachineID: "m1", FleetID: "f1"}

	first, err := Resolve(p, tuple)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := Resolve(p, tuple)
	if err != nil {
		t.Fatalf("Resolve (again): %v", err)
	}
	if first != second {
		t.Fatalf("expected the same instance id across calls with an unchanged tuple")
	}
}

func TestResolveRegeneratesOnTupleChange(t *testing.T) {
	p := &fakePersistence{}
	first, err := Resolve(p, Tuple{HostID: "h1", MachineID: "m1", FleetID: "f1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := Resolve(p, Tuple{HostID: "h2", MachineID: "m1", FleetID: "f1"})
	if err != nil {
		t.Fatalf("Resolve (changed tuple): %v", err)
	}
	if first == second {
		t.Fatalf("expected a new instance id once the identity tuple changes")
	}
}
