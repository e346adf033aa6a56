package host

import (
	"time"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

// nextDelay computes the backoff delay before restart attempt n (1-based)
// according to the executable's restart policy, per spec.md §4.3.
func nextDelay(p agenttype.RestartPolicy, attempt int) time.Duration {
	base := time.Duration(p.BackoffDelaySec * float64(time.Second))
	if base <= 0 {
		base = time.Second
	}

	var delay time.Duration
	switch p.Strategy {
	case agenttype.BackoffFixed:
		delay = base
	case agenttype.BackoffLinear:
		delay = base * time.Duration(attempt)
	case agenttype.BackoffExponential:
		delay = base
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	default:
		delay = base
	}

	if p.LastRetryIntervalSec > 0 {
		cap := time.Duration(p.LastRetryIntervalSec * float64(time.Second))
		if delay > cap {
			delay = cap
		}
	}
	return delay
}

// exceedsMaxRetries reports whether attempt has used up the policy's
// retry budget. A MaxRetries of 0 means unlimited restarts.
func exceedsMaxRetries(p agenttype.RestartPolicy, attempt int) bool {
	return p.MaxRetries > 0 && attempt > p.MaxRetries
}

// shouldRestart reports whether an observed exit code is within the
// policy's restart-exit-codes allow-list. An empty list means "restart
// on any non-requested exit" (the common case); a non-empty list
// restricts restarts to exactly the listed codes.
func shouldRestart(p agenttype.RestartPolicy, exitCode int) bool {
	if len(p.RestartExitCodes) == 0 {
		return true
	}
	for _, c := range p.RestartExitCodes {
		if c == exitCode {
			return true
		}
	}
	return false
}
