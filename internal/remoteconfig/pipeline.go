package remoteconfig

import (
	"context"
	"fmt"
)

// VerifyFunc checks an envelope's signature bundle against its
// payload. A plain function rather than an interface so callers can
// plug in internal/signature.Verify bound to a key server, or a fake
// that always succeeds/fails in tests, per the "narrow capability with
// a fake" design note (spec.md §9).
type VerifyFunc func(ctx context.Context, envelope Envelope) error

// Validator checks a decoded payload for schema and semantic
// correctness. Returning a *multierror.Error (or any error) aggregates
// every violation found; the pipeline does not require a specific type.
type Validator func(scope Scope, envelope Envelope) error

// PersistenceStore durably records the state of every accepted
// envelope, so the last-known-good remote config survives a restart
// (spec.md §4.7's durability guarantee, which is the one storage
// guarantee spec.md's Non-goals do NOT exclude).
type PersistenceStore interface {
	Persist(ctx context.Context, key string, rec Record) error
	Load(ctx context.Context, key string) (Record, bool, error)
}

// Dispatcher hands an applied config to whatever needs to react to it
// (the root controller for control-scope configs, a sub-agent handle
// for agent-scope configs).
type Dispatcher interface {
	Dispatch(ctx context.Context, rec Record) error
}

// Pipeline runs the verify -> validate -> persist -> dispatch stages of
// spec.md §4.5 on an Envelope its caller has already decoded.
type Pipeline struct {
	verify   VerifyFunc
	validate Validator
	store    PersistenceStore
	dispatch Dispatcher
}

// NewPipeline wires the four pluggable stages into a Pipeline.
func NewPipeline(verify VerifyFunc, validate Validator, store PersistenceStore, dispatch Dispatcher) *Pipeline {
	return &Pipeline{verify: verify, validate: validate, store: store, dispatch: dispatch}
}

// Accept runs env through the full pipeline. On any failure other than
// a persist error, the envelope's state is still persisted as Failed
// so the failure is durably observable (spec.md §4.5/§9 Open
// Question 1: rendered files are left in place, state is persisted
// Failed(message), on a mid-apply failure).
func (p *Pipeline) Accept(ctx context.Context, env Envelope) error {
	key := recordKey(env)

	if err := p.verify(ctx, env); err != nil {
		// verify may already return a typed *Error (UnsignedConfig,
		// UnknownSigningKey); anything else is a plain SignatureInvalid.
		if verr, ok := err.(*Error); ok {
			return p.fail(ctx, key, env, verr)
		}
		return p.fail(ctx, key, env, errSignatureInvalid(err.Error()))
	}

	if existing, ok, _ := p.store.Load(ctx, key); ok && existing.State == StateApplied && existing.Envelope.Hash == env.Hash {
		// Idempotent resubmission of an already-applied config: a no-op,
		// per spec.md §8's idempotence property.
		return nil
	}

	if err := p.validate(env.Scope, env); err != nil {
		return p.fail(ctx, key, env, errValidation(err.Error()))
	}

	applying := Record{Envelope: env, State: StateApplying}
	if err := p.store.Persist(ctx, key, applying); err != nil {
		return errPersist(err.Error())
	}

	if err := p.dispatch.Dispatch(ctx, applying); err != nil {
		return p.fail(ctx, key, env, errDispatch(err.Error()))
	}

	applied := Record{Envelope: env, State: StateApplied}
	if err := p.store.Persist(ctx, key, applied); err != nil {
		return errPersist(err.Error())
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, key string, env Envelope, cause error) error {
	rec := Record{Envelope: env, State: StateFailed, Message: cause.Error()}
	if err := p.store.Persist(ctx, key, rec); err != nil {
		return errPersist(fmt.Sprintf("persisting failure state: %v (original error: %v)", err, cause))
	}
	return cause
}

func recordKey(env Envelope) string {
	if env.Scope == ScopeControl {
		return "control"
	}
	return string(env.AgentID)
}
