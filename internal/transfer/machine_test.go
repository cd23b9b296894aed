package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyHappyPath(t *testing.T) {
	steps := []struct {
		transition Transition
		from       Status
		want       Status
	}{
		{TransitionSubmit, StatusDraft, StatusPendingCheck},
		{TransitionCheckApprove, StatusPendingCheck, StatusChecked},
		{TransitionSend, StatusChecked, StatusInTransit},
		{TransitionArrive, StatusInTransit, StatusArrived},
		{TransitionStartVerification, StatusArrived, StatusVerifying},
		{TransitionComplete, StatusVerifying, StatusCompleted},
		{TransitionComplete, StatusVerified, StatusCompleted},
	}

	for _, step := range steps {
		got, err := Apply(step.from, step.transition)
		require.NoError(t, err, "transition %s", step.transition)
		assert.Equal(t, step.want, got)
	}
}

func TestApplyRejectReturnsToDraft(t *testing.T) {
	got, err := Apply(StatusPendingCheck, TransitionCheckReject)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got)
}

func TestApplyInvalidTransitions(t *testing.T) {
	cases := []struct {
		from       Status
		transition Transition
	}{
		{StatusDraft, TransitionSend},
		{StatusDraft, TransitionComplete},
		{StatusPendingCheck, TransitionSend},
		{StatusChecked, TransitionCheckApprove},
		{StatusInTransit, TransitionSend},
		{StatusInTransit, TransitionComplete},
		{StatusArrived, TransitionComplete},
		{StatusArrived, TransitionVerifyItem},
	}

	for _, tc := range cases {
		_, err := Apply(tc.from, tc.transition)
		var invalid *InvalidTransitionError
		require.Error(t, err, "%s from %s", tc.transition, tc.from)
		assert.True(t, errors.As(err, &invalid), "%s from %s should be invalid transition, got %v", tc.transition, tc.from, err)
	}
}

func TestApplyTerminalStatusesReportAlreadyProcessed(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		for _, tr := range []Transition{TransitionComplete, TransitionSend, TransitionCancel} {
			_, err := Apply(from, tr)
			var processed *AlreadyProcessedError
			require.Error(t, err)
			assert.True(t, errors.As(err, &processed), "%s from %s should be already processed, got %v", tr, from, err)
		}
	}
}

func TestApplyCancelOnlyBeforeTransit(t *testing.T) {
	for _, from := range []Status{StatusDraft, StatusPendingCheck, StatusChecked} {
		got, err := Apply(from, TransitionCancel)
		require.NoError(t, err, "cancel from %s", from)
		assert.Equal(t, StatusCancelled, got)
	}

	for _, from := range []Status{StatusInTransit, StatusArrived, StatusVerifying, StatusVerified} {
		_, err := Apply(from, TransitionCancel)
		var invalid *InvalidTransitionError
		require.Error(t, err, "cancel from %s", from)
		assert.True(t, errors.As(err, &invalid))
	}
}

func TestApplyUnverifyFromVerified(t *testing.T) {
	got, err := Apply(StatusVerified, TransitionUnverifyItem)
	require.NoError(t, err)
	assert.Equal(t, StatusVerifying, got)
}

func TestRequiredCapability(t *testing.T) {
	c, ok := RequiredCapability(TransitionSend)
	require.True(t, ok)
	assert.Equal(t, "transfer.send", c.String())

	_, ok = RequiredCapability(Transition("bogus"))
	assert.False(t, ok)
}
