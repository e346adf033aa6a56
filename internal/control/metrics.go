package control

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

// metrics keeps in-memory counters/gauges exposed via GET /metrics.
// Lightweight and dependency-free: a hand-rolled Prometheus text
// exposition rather than pulling in a client library for a handful of
// series.
type metrics struct {
	mu sync.RWMutex

	remoteConfigAcceptsTotal  map[string]uint64
	remoteConfigErrorsTotal   map[string]uint64
	remoteConfigDurationSum   map[string]float64
	remoteConfigDurationLast map[string]float64

	signatureVerifyTotal    uint64
	signatureVerifyFailures uint64

	restartsTotal map[agenttype.AgentID]uint64
	health        map[agenttype.AgentID]float64
	lastAppliedAt map[agenttype.AgentID]float64
}

func newMetrics() *metrics {
	return &metrics{
		remoteConfigAcceptsTotal:  make(map[string]uint64),
		remoteConfigErrorsTotal:   make(map[string]uint64),
		remoteConfigDurationSum:   make(map[string]float64),
		remoteConfigDurationLast:  make(map[string]float64),
		restartsTotal:             make(map[agenttype.AgentID]uint64),
		health:                    make(map[agenttype.AgentID]float64),
		lastAppliedAt:             make(map[agenttype.AgentID]float64),
	}
}

// observeRemoteConfig records one remote-config pipeline Accept call,
// bucketed by scope ("control" or "agent").
func (m *metrics) observeRemoteConfig(scope string, d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteConfigAcceptsTotal[scope]++
	if failed {
		m.remoteConfigErrorsTotal[scope]++
	}
	sec := d.Seconds()
	m.remoteConfigDurationLast[scope] = sec
	m.remoteConfigDurationSum[scope] += sec
}

func (m *metrics) observeSignatureVerify(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signatureVerifyTotal++
	if !ok {
		m.signatureVerifyFailures++
	}
}

func (m *metrics) recordRestart(id agenttype.AgentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restartsTotal[id]++
}

func (m *metrics) recordApply(id agenttype.AgentID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAppliedAt[id] = float64(t.UTC().Unix())
}

// setHealth encodes 1=healthy, 0=unhealthy, -1=unknown, replacing the
// whole gauge set in one shot so removed agents don't leave stale series.
func (m *metrics) setHealth(snapshot map[agenttype.AgentID]Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = make(map[agenttype.AgentID]float64, len(snapshot))
	for id, h := range snapshot {
		switch h {
		case HealthHealthy:
			m.health[id] = 1
		case HealthUnhealthy:
			m.health[id] = 0
		default:
			m.health[id] = -1
		}
	}
}

func (m *metrics) render() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	writeHelpType(&b, "agent_control_remote_config_accepts_total", "Total remote config envelopes accepted by the pipeline.", "counter")
	for _, scope := range sortedStringKeys(m.remoteConfigAcceptsTotal) {
		fmt.Fprintf(&b, "agent_control_remote_config_accepts_total{scope=%q} %d\n", scope, m.remoteConfigAcceptsTotal[scope])
	}

	writeHelpType(&b, "agent_control_remote_config_errors_total", "Total remote config envelopes rejected by the pipeline.", "counter")
	for _, scope := range sortedStringKeys(m.remoteConfigErrorsTotal) {
		fmt.Fprintf(&b, "agent_control_remote_config_errors_total{scope=%q} %d\n", scope, m.remoteConfigErrorsTotal[scope])
	}

	writeHelpType(&b, "agent_control_remote_config_duration_seconds_total", "Cumulative time spent verifying and applying remote config envelopes.", "counter")
	for _, scope := range sortedStringKeys(m.remoteConfigDurationSum) {
		fmt.Fprintf(&b, "agent_control_remote_config_duration_seconds_total{scope=%q} %.6f\n", scope, m.remoteConfigDurationSum[scope])
	}

	writeHelpType(&b, "agent_control_remote_config_duration_seconds_last", "Duration of the most recent remote config Accept call.", "gauge")
	for _, scope := range sortedStringKeys(m.remoteConfigDurationLast) {
		fmt.Fprintf(&b, "agent_control_remote_config_duration_seconds_last{scope=%q} %.6f\n", scope, m.remoteConfigDurationLast[scope])
	}

	writeHelpType(&b, "agent_control_signature_verify_total", "Total signature verification attempts against pushed remote config.", "counter")
	fmt.Fprintf(&b, "agent_control_signature_verify_total %d\n", m.signatureVerifyTotal)

	writeHelpType(&b, "agent_control_signature_verify_failures_total", "Total signature verification failures.", "counter")
	fmt.Fprintf(&b, "agent_control_signature_verify_failures_total %d\n", m.signatureVerifyFailures)

	writeHelpType(&b, "agent_control_sub_agent_restarts_total", "Total restarts applied to a sub-agent after a failed health check.", "counter")
	for _, id := range sortedAgentKeys(m.restartsTotal) {
		fmt.Fprintf(&b, "agent_control_sub_agent_restarts_total{agent_id=%q} %d\n", id, m.restartsTotal[id])
	}

	writeHelpType(&b, "agent_control_sub_agent_health", "Sub-agent health gauge (1=healthy, 0=unhealthy, -1=unknown).", "gauge")
	for _, id := range sortedAgentFloatKeys(m.health) {
		fmt.Fprintf(&b, "agent_control_sub_agent_health{agent_id=%q} %.0f\n", id, m.health[id])
	}

	writeHelpType(&b, "agent_control_sub_agent_last_applied_timestamp_seconds", "Unix timestamp of the last successful apply for a sub-agent.", "gauge")
	for _, id := range sortedAgentFloatKeys(m.lastAppliedAt) {
		fmt.Fprintf(&b, "agent_control_sub_agent_last_applied_timestamp_seconds{agent_id=%q} %.0f\n", id, m.lastAppliedAt[id])
	}

	return b.String()
}

func writeHelpType(b *strings.Builder, metric, help, typ string) {
	fmt.Fprintf(b, "# HELP %s %s\n", metric, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", metric, typ)
}

func sortedStringKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAgentKeys(m map[agenttype.AgentID]uint64) []agenttype.AgentID {
	keys := make([]agenttype.AgentID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedAgentFloatKeys(m map[agenttype.AgentID]float64) []agenttype.AgentID {
	keys := make([]agenttype.AgentID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
