// Package identity manages the control process's instance identity: a
// ULID generated once and persisted across restarts, regenerated only
// when the identity tuple it was derived from changes. Grounded on the
// general "persist a small piece of derived state next to the config
// it was derived from" pattern in the prior config-store package, with the derivation
// rule itself taken from original_source/agent_control/defaults.rs and
// values.rs per SPEC_FULL.md's SUPPLEMENTED FEATURES section.
package identity

import (
	crand "crypto/rand"
	"fmt"
	mrand "math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"
)

// Tuple is the identity input: changing any field forces a new
// instance id to be generated, per spec.md §3's Invariant.
type Tuple struct {
	HostID    string
	MachineID string
	FleetID   string
}

func (t Tuple) key() string {
	return fmt.Sprintf("%s|%s|%s", t.HostID, t.MachineID, t.FleetID)
}

// InstanceID is a 128-bit ULID identifying one running control
// instance.
type InstanceID string

// Record is the persisted state: the instance id plus the tuple it
// was derived from, so a later load can detect a tuple change.
type Record struct {
	InstanceID InstanceID
	TupleKey   string
}

// Persistence is the narrow interface identity needs from whatever
// backs durable storage (a local file under host mode, a ConfigMap
// under cluster mode) — satisfied by internal/configrepo's backends.
type Persistence interface {
	LoadIdentity() (Record, bool, error)
	SaveIdentity(Record) error
}

// Resolve loads the persisted instance id, if any, and reuses it when
// its tuple key still matches tuple; otherwise it generates and
// persists a fresh one.
func Resolve(p Persistence, tuple Tuple) (InstanceID, error) {
	existing, ok, err := p.LoadIdentity()
	if err != nil {
		return "", fmt.Errorf("loading persisted identity: %w", err)
	}

	key := tuple.key()
	if ok && existing.TupleKey == key && existing.InstanceID != "" {
		return existing.InstanceID, nil
	}

	fresh := New()
	if err := p.SaveIdentity(Record{InstanceID: fresh, TupleKey: key}); err != nil {
		return "", fmt.Errorf("persisting new identity: %w", err)
	}
	return fresh, nil
}

// New generates a fresh ULID-based instance id from the current time and
// an entropy source freshly seeded from crypto/rand on every call. Ids
// from successive calls within the same millisecond are not ordered
// relative to each other; their random parts keep collisions unlikely.
func New() InstanceID {
	ms := ulid.Timestamp(time.Now())
	entropy := ulid.Monotonic(mrand.NewChaCha8(seed()), 0)
	id := ulid.MustNew(ms, entropy)
	return InstanceID(id.String())
}

func seed() [32]byte {
	var s [32]byte
	_, _ = crand.Read(s[:])
	return s
}
