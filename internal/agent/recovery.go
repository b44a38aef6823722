// File: internal/agent/recovery.go
package agent

import "time"

// RecoveryKind enumerates the progressive retry strategies.
type RecoveryKind int

const (
	// RetrySame repeats the step with the same approach.
	RetrySame RecoveryKind = iota
	// RetrySimplified repeats with a shorter prompt and less context.
	RetrySimplified
	// RetryAfterCooldown repeats after a fixed wait.
	RetryAfterCooldown
)

// RecoveryStrategy tells the loop how to retry after a VLM failure.
type RecoveryStrategy struct {
	Kind RecoveryKind
	// Delay is non-zero only for RetryAfterCooldown.
	Delay time.Duration
}

// RecoveryPolicy maps a consecutive-failure count to a retry strategy.
// Deterministic, side-effect free, independent of wall-clock time.
type RecoveryPolicy struct {
	// GiveUpAfter is the failure count at which the run is abandoned.
	GiveUpAfter int
	// Cooldown is the wait applied at the fourth failure.
	Cooldown time.Duration
}

// DefaultRecoveryPolicy matches the documented progression: two immediate
// retries, one simplified retry, one cooldown retry, then give up at five.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{GiveUpAfter: 5, Cooldown: 5 * time.Second}
}

// StrategyFor returns the strategy for the given consecutive-failure count,
// or nil when no retry is warranted: zero failures need no strategy, and
// counts at or past GiveUpAfter mean the caller must terminate the run.
func (p RecoveryPolicy) StrategyFor(consecutiveFailures int) *RecoveryStrategy {
	if consecutiveFailures <= 0 || consecutiveFailures >= p.GiveUpAfter {
		return nil
	}
	switch consecutiveFailures {
	case 1, 2:
		return &RecoveryStrategy{Kind: RetrySame}
	case 3:
		return &RecoveryStrategy{Kind: RetrySimplified}
	default:
		return &RecoveryStrategy{Kind: RetryAfterCooldown, Delay: p.Cooldown}
	}
}
