package fleetclient

import (
	"context"
	"sync"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
)

// healthReport records one ReportHealth call, for assertions in tests
// that drive the system through FakeClient.
type healthReport struct {
	Healthy bool
	Message string
}

// FakeClient is an in-memory Client double, in the
// "the per-node supervisor's old fakeStore tests" style rather than a
// generated mock: a queue of pending envelopes per agent plus a log of
// every report call.
type FakeClient struct {
	mu       sync.Mutex
	pending  map[agenttype.AgentID][]remoteconfig.Envelope
	configs  map[agenttype.AgentID][]byte
	health   map[agenttype.AgentID]healthReport
	versions map[agenttype.AgentID]string
	closed   bool
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		pending:  make(map[agenttype.AgentID][]remoteconfig.Envelope),
		configs:  make(map[agenttype.AgentID][]byte),
		health:   make(map[agenttype.AgentID]healthReport),
		versions: make(map[agenttype.AgentID]string),
	}
}

// Enqueue makes env available to the next PollRemoteConfig call for
// its agent.
func (f *FakeClient) Enqueue(env remoteconfig.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[env.AgentID] = append(f.pending[env.AgentID], env)
}

func (f *FakeClient) ReportEffectiveConfig(_ context.Context, agentID agenttype.AgentID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[agentID] = payload
	return nil
}

func (f *FakeClient) ReportHealth(_ context.Context, agentID agenttype.AgentID, healthy bool, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health[agentID] = healthReport{Healthy: healthy, Message: message}
	return nil
}

func (f *FakeClient) ReportVersion(_ context.Context, agentID agenttype.AgentID, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[agentID] = version
	return nil
}

func (f *FakeClient) PollRemoteConfig(_ context.Context, agentID agenttype.AgentID) (remoteconfig.Envelope, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.pending[agentID]
	if len(queue) == 0 {
		return remoteconfig.Envelope{}, false, nil
	}
	env := queue[0]
	f.pending[agentID] = queue[1:]
	return env, true, nil
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// LastEffectiveConfig returns the most recently reported config for
// agentID, for test assertions.
func (f *FakeClient) LastEffectiveConfig(agentID agenttype.AgentID) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.configs[agentID]
	return payload, ok
}

// LastHealth returns the most recently reported health for agentID.
func (f *FakeClient) LastHealth(agentID agenttype.AgentID) (bool, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.health[agentID]
	return h.Healthy, h.Message, ok
}

// Closed reports whether Close has been called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ Client = (*FakeClient)(nil)
