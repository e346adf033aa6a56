package configrepo

import (
	"context"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
)

// PersistenceAdapter satisfies remoteconfig.PersistenceStore over a
// Repository, translating the pipeline's flat string key ("control"
// or an agent id, per remoteconfig.recordKey) back into a
// Repository.StoreRemote/LoadRemote call. This is the seam
// internal/control wires the chosen backend through without
// internal/remoteconfig ever importing internal/configrepo.
type PersistenceAdapter struct {
	Repo Repository
}

func (a PersistenceAdapter) Persist(ctx context.Context, key string, rec remoteconfig.Record) error {
	return a.Repo.StoreRemote(ctx, agenttype.AgentID(key), rec)
}

func (a PersistenceAdapter) Load(ctx context.Context, key string) (remoteconfig.Record, bool, error) {
	return a.Repo.LoadRemote(ctx, agenttype.AgentID(key))
}
