package host

import (
	"testing"
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

func TestNextDelay(t *testing.T) {
	cases := []struct {
		name    string
		policy  agenttype.RestartPolicy
		attempt int
		want    time.Duration
	}{
		{
			name:    "fixed",
			policy:  agenttype.RestartPolicy{Strategy: agenttype.BackoffFixed, BackoffDelaySec: 2},
			attempt: 3,
			want:    2 * time.Second,
		},
		{
			name:    "linear",
			policy:  agenttype.RestartPolicy{Strategy: agenttype.BackoffLinear, BackoffDelaySec: 1},
			attempt: 3,
			want:    3 * time.Second,
		},
		{
			name:    "exponential",
			policy:  agenttype.RestartPolicy{Strategy: agenttype.BackoffExponential, BackoffDelaySec: 1},
			attempt: 4,
			want:    8 * time.Second,
		},
		{
			name:    "capped by last retry interval",
			policy:  agenttype.RestartPolicy{Strategy: agenttype.BackoffExponential, BackoffDelaySec: 1, LastRetryIntervalSec: 5},
			attempt: 10,
			want:    5 * time.Second,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextDelay(tc.policy, tc.attempt)
			if got != tc.want {
				t.Fatalf("nextDelay() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExceedsMaxRetries(t *testing.T) {
	p := agenttype.RestartPolicy{MaxRetries: 3}
	if exceedsMaxRetries(p, 3) {
		t.Fatalf("attempt 3 should not exceed max retries of 3")
	}
	if !exceedsMaxRetries(p, 4) {
		t.Fatalf("attempt 4 should exceed max retries of 3")
	}

	unlimited := agenttype.RestartPolicy{MaxRetries: 0}
	if exceedsMaxRetries(unlimited, 1000) {
		t.Fatalf("MaxRetries=0 means unlimited")
	}
}

func TestShouldRestart(t *testing.T) {
	any := agenttype.RestartPolicy{}
	if !shouldRestart(any, 1) {
		t.Fatalf("empty restart-exit-codes should restart on any code")
	}

	limited := agenttype.RestartPolicy{RestartExitCodes: []int{1, 2}}
	if !shouldRestart(limited, 1) {
		t.Fatalf("code 1 should be in the allow-list")
	}
	if shouldRestart(limited, 99) {
		t.Fatalf("code 99 should not be in the allow-list")
	}
}
