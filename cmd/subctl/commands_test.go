package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

func parseOverride(t *testing.T, args ...string) (subscription.Override, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "override"}
	registerOverrideFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return overrideFromFlags(cmd)
}

func TestOverrideFromFlags(t *testing.T) {
	t.Parallel()

	ov, err := parseOverride(t,
		"--actor", "ops@example.com",
		"--reason", "ticket 4411",
		"--status", "active",
		"--period-end", "2026-07-01T02:00:00+02:00",
		"--expires-at", "none",
		"--practice-sessions", "0",
	)
	require.NoError(t, err)

	assert.Equal(t, "ops@example.com", ov.Actor)
	assert.Equal(t, "ticket 4411", ov.Reason)
	assert.False(t, ov.ReassignCustomer)
	assert.Equal(t, []string{"status", "period_end", "expires_at", "practice_sessions_used"}, ov.Patch.Fields())

	end, _ := ov.Patch.PeriodEnd.Get()
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), end)
	expires, ok := ov.Patch.ExpiresAt.Get()
	assert.True(t, ok)
	assert.Nil(t, expires)
	sessions, ok := ov.Patch.PracticeSessionsUsed.Get()
	assert.True(t, ok)
	assert.Zero(t, sessions)
}

func TestOverrideFromFlagsUnsetFieldsStayUntouched(t *testing.T) {
	t.Parallel()

	ov, err := parseOverride(t, "--actor", "ops", "--customer", "cus_9", "--reassign")
	require.NoError(t, err)

	assert.True(t, ov.ReassignCustomer)
	assert.Equal(t, []string{"billing_customer_ref"}, ov.Patch.Fields())
}

func TestOverrideFromFlagsInvalidTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"period start", []string{"--actor", "ops", "--period-start", "yesterday"}},
		{"period end", []string{"--actor", "ops", "--period-end", "2026-07-01"}},
		{"expires at", []string{"--actor", "ops", "--expires-at", "never"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseOverride(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
