package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStates(t *testing.T) {
	for _, s := range []JobState{StateSuccess, StateFailedCheck, StateFailedDone} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []JobState{StateCreated, StateSent} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StateCreated.Sendable())
	assert.True(t, StateFailedCheck.Sendable())
	assert.False(t, StateSent.Sendable())
	assert.False(t, StateFailedDone.Sendable())
	assert.False(t, JobKind("capture").Valid())
}

func TestCloneDoesNotShareState(t *testing.T) {
	id := int64(9001)
	job := NewJob(KindRefund, TransactionInfo{SpaceID: 7, TransactionID: 1042, OrderID: 42})
	job.JobID = &id
	job.Labels = Labels{{ID: "1", Value: "x"}}
	job.FailureReason = FailureReason{"en-US": "no"}

	c := job.Clone()
	*c.JobID = 1
	c.Labels[0].Value = "y"
	c.FailureReason["en-US"] = "yes"

	assert.Equal(t, int64(9001), *job.JobID)
	assert.Equal(t, "x", job.Labels[0].Value)
	assert.Equal(t, "no", job.FailureReason["en-US"])
	assert.Equal(t, StateCreated, c.State)
	assert.Equal(t, int64(42), c.OrderID)
}
