package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFire_PermittedTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    Status
		trigger Trigger
		want    Status
	}{
		{StatusPending, TriggerProcess, StatusProcessing},
		{StatusPending, TriggerFail, StatusFailed},
		{StatusPending, TriggerCancel, StatusCancelled},
		{StatusProcessing, TriggerComplete, StatusSucceeded},
		{StatusProcessing, TriggerFail, StatusFailed},
		{StatusSucceeded, TriggerRefund, StatusRefunded},
		{StatusSucceeded, TriggerPartialRefund, StatusPartiallyRefunded},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			t.Parallel()

			assert.True(t, CanFire(tt.from, tt.trigger))
			got, err := Fire(tt.from, tt.trigger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFire_RejectsEveryPairOutsideTable(t *testing.T) {
	t.Parallel()

	permitted := 0
	for _, s := range AllStatuses {
		for _, trg := range AllTriggers {
			if CanFire(s, trg) {
				permitted++
				continue
			}

			got, err := Fire(s, trg)
			require.Error(t, err, "%s/%s", s, trg)
			assert.Equal(t, s, got, "status must be unchanged on rejection")
			assert.True(t, errors.Is(err, ErrInvalidTransition))

			var ite *InvalidTransitionError
			require.ErrorAs(t, err, &ite)
			assert.Equal(t, s, ite.From)
			assert.Equal(t, trg, ite.Trigger)
		}
	}
	assert.Equal(t, 7, permitted)
}

func TestFire_CompleteThenFailRejected(t *testing.T) {
	t.Parallel()

	s, err := Fire(StatusPending, TriggerProcess)
	require.NoError(t, err)
	s, err = Fire(s, TriggerComplete)
	require.NoError(t, err)

	_, err = Fire(s, TriggerFail)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFire_SecondRefundRejected(t *testing.T) {
	t.Parallel()

	s := StatusPending
	for _, trg := range []Trigger{TriggerProcess, TriggerComplete, TriggerRefund} {
		var err error
		s, err = Fire(s, trg)
		require.NoError(t, err)
	}
	assert.Equal(t, StatusRefunded, s)

	_, err := Fire(s, TriggerRefund)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[Status]bool{
		StatusPending:           false,
		StatusProcessing:        false,
		StatusSucceeded:         false,
		StatusRefunded:          true,
		StatusPartiallyRefunded: true,
		StatusFailed:            true,
		StatusCancelled:         true,
	}
	for s, want := range terminal {
		assert.Equal(t, want, s.IsTerminal(), s)
	}
	assert.False(t, Status("bogus").IsValid())
	assert.ElementsMatch(t, []Trigger{TriggerProcess, TriggerFail, TriggerCancel}, PermittedTriggers(StatusPending))
}
