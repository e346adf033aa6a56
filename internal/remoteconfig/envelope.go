// Package remoteconfig implements the remote-config acceptance pipeline
// from spec.md §4.5: decode, verify signature, validate, persist, and
// dispatch. Grounded on the prior config-store package (fetch-then-react
// to a central config source) generalized from "pull node config, diff
// against a revision" to "accept a signed, versioned config push and
// carry it through a durable state machine."
package remoteconfig

import (
	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/signature"
)

// Scope names which part of the system a remote config targets, per
// spec.md §3: "control" for the root controller's own configuration,
// or a specific sub-agent id for its agent-type values.
type Scope string

const ScopeControl Scope = "control"

// Envelope is a remote config as received from the fleet-control
// service, before verification.
type Envelope struct {
	Scope      Scope
	AgentID    agenttype.AgentID // zero value when Scope == ScopeControl
	Version    string
	Hash       string
	Payload    []byte
	Signatures []signature.Bundle // one or more; at least one must verify, per spec.md §3/§4.5
}

// State is the persisted lifecycle of one accepted (or rejected)
// envelope, per spec.md §4.5.
type State string

const (
	StateApplying State = "applying"
	StateApplied  State = "applied"
	StateFailed   State = "failed"
)

// Record is what gets persisted for an envelope at every pipeline
// stage, so a crash mid-apply can be resumed or at least reported.
type Record struct {
	Envelope Envelope
	State    State
	Message  string // populated when State == StateFailed
}
