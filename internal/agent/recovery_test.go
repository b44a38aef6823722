// File: internal/agent/recovery_test.go
package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryPolicyProgression(t *testing.T) {
	policy := DefaultRecoveryPolicy()

	testCases := []struct {
		name     string
		failures int
		wantKind RecoveryKind
		wantNil  bool
	}{
		{name: "zero failures needs no strategy", failures: 0, wantNil: true},
		{name: "negative count needs no strategy", failures: -3, wantNil: true},
		{name: "first failure retries as-is", failures: 1, wantKind: RetrySame},
		{name: "second failure retries as-is", failures: 2, wantKind: RetrySame},
		{name: "third failure retries simplified", failures: 3, wantKind: RetrySimplified},
		{name: "fourth failure waits out a cooldown", failures: 4, wantKind: RetryAfterCooldown},
		{name: "fifth failure gives up", failures: 5, wantNil: true},
		{name: "past the limit stays given up", failures: 17, wantNil: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.StrategyFor(tc.failures)
			if tc.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.wantKind, got.Kind)
			if tc.wantKind == RetryAfterCooldown {
				assert.Equal(t, policy.Cooldown, got.Delay)
			} else {
				assert.Zero(t, got.Delay)
			}
		})
	}
}

func TestRecoveryPolicyIsDeterministic(t *testing.T) {
	policy := RecoveryPolicy{GiveUpAfter: 5, Cooldown: time.Second}
	for i := 0; i < 10; i++ {
		first := policy.StrategyFor(3)
		second := policy.StrategyFor(3)
		require.NotNil(t, first)
		require.NotNil(t, second)
		assert.Equal(t, *first, *second)
	}
}

func TestRecoveryPolicyCustomGiveUp(t *testing.T) {
	policy := RecoveryPolicy{GiveUpAfter: 3, Cooldown: time.Second}

	assert.NotNil(t, policy.StrategyFor(1))
	assert.NotNil(t, policy.StrategyFor(2))
	assert.Nil(t, policy.StrategyFor(3), "reaching the configured limit must abandon the run")
}
