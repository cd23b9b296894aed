package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestPolicyCheckerCannotBeCreator(t *testing.T) {
	p := NewPolicy(PolicyConfig{})
	tr := &Transfer{CreatedBy: 10}

	err := p.CanCheck(tr, 10)
	var sod *SeparationOfDutiesError
	require.ErrorAs(t, err, &sod)
	assert.Equal(t, int64(10), sod.Actor)

	require.NoError(t, p.CanCheck(tr, 20))
}

func TestPolicySenderDistinctFromCreatorAndChecker(t *testing.T) {
	p := NewPolicy(PolicyConfig{})
	tr := &Transfer{CreatedBy: 10, CheckedBy: ptr(20)}

	var sod *SeparationOfDutiesError
	require.ErrorAs(t, p.CanSend(tr, 10), &sod)
	require.ErrorAs(t, p.CanSend(tr, 20), &sod)
	require.NoError(t, p.CanSend(tr, 30))
}

func TestPolicyAllowCreatorSend(t *testing.T) {
	p := NewPolicy(PolicyConfig{AllowCreatorSend: true})
	tr := &Transfer{CreatedBy: 10, CheckedBy: ptr(20)}

	require.NoError(t, p.CanSend(tr, 10))

	// Checker still cannot send even in relaxed mode.
	var sod *SeparationOfDutiesError
	require.ErrorAs(t, p.CanSend(tr, 20), &sod)
}

func TestPolicyReceiverDefaultUnrestricted(t *testing.T) {
	p := NewPolicy(PolicyConfig{})
	tr := &Transfer{CreatedBy: 10, CheckedBy: ptr(20), SentBy: ptr(30)}

	// Default mode: even the sender may verify at the destination.
	require.NoError(t, p.CanVerify(tr, 30))
	require.NoError(t, p.CanVerify(tr, 40))
}

func TestPolicyRequireDistinctReceiver(t *testing.T) {
	p := NewPolicy(PolicyConfig{RequireDistinctReceiver: true})
	tr := &Transfer{CreatedBy: 10, CheckedBy: ptr(20), SentBy: ptr(30)}

	var sod *SeparationOfDutiesError
	require.ErrorAs(t, p.CanVerify(tr, 30), &sod)
	require.NoError(t, p.CanVerify(tr, 40))
}
