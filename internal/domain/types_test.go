package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TicketStatus
		want     bool
	}{
		{TicketValid, TicketUsed, true},
		{TicketValid, TicketCancelled, true},
		{TicketUsed, TicketCancelled, true},
		{TicketUsed, TicketValid, false},
		{TicketCancelled, TicketValid, false},
		{TicketCancelled, TicketUsed, false},
		{TicketValid, TicketValid, false},
		{TicketUsed, TicketUsed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOutcomeClassification(t *testing.T) {
	assert.True(t, OutcomeSuccess.Admitted())
	assert.False(t, OutcomeDuplicate.Admitted())

	assert.True(t, OutcomeInvalid.Journaled())
	assert.True(t, OutcomeDenied.Journaled())
	assert.False(t, OutcomeBusy.Journaled())

	assert.True(t, OutcomeBusy.Retryable())
	assert.False(t, OutcomeDenied.Retryable())
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome("duplicate")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, o)

	_, err = ParseOutcome("maybe")
	assert.Error(t, err)
}

func TestTicketCountsExpected(t *testing.T) {
	c := TicketCounts{Valid: 3, Used: 2, Cancelled: 5}
	assert.Equal(t, int64(5), c.Expected())
}
