package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifiedStatusApproved(t *testing.T) {
	assert.True(t, ApprovedAutomatically.Approved())
	assert.True(t, ApprovedManually.Approved())
	assert.True(t, PreviouslyApproved.Approved())
	assert.False(t, Unapproved.Approved())

	// legacy rows predate the approval workflow
	assert.True(t, VerifiedStatus("").Approved())
}

func TestSameAttempt(t *testing.T) {
	a := &Submission{NetID: "student1", HeadHash: "abc123", Phase: Phase1, Score: 0.5}
	b := &Submission{NetID: "student1", HeadHash: "abc123", Phase: Phase1, Score: 0.9, Passed: true}
	assert.True(t, a.SameAttempt(b))

	c := &Submission{NetID: "student1", HeadHash: "def456", Phase: Phase1}
	assert.False(t, a.SameAttempt(c))

	d := &Submission{NetID: "student1", HeadHash: "abc123", Phase: Phase3}
	assert.False(t, a.SameAttempt(d))
}

func TestApplyPenaltyPct(t *testing.T) {
	assert.InDelta(t, 0.9, ApplyPenaltyPct(1.0, 10), 1e-9)
	assert.InDelta(t, 45.0, ApplyPenaltyPct(50.0, 10), 1e-9)
	assert.InDelta(t, 1.0, ApplyPenaltyPct(1.0, 0), 1e-9)
	assert.InDelta(t, 0.0, ApplyPenaltyPct(1.0, 100), 1e-9)
}

func TestUpdateApprovalDoesNotModifyReceiver(t *testing.T) {
	original := &Submission{
		NetID:          "student1",
		HeadHash:       "abc123",
		Phase:          Phase1,
		Passed:         true,
		Score:          0.8,
		VerifiedStatus: Unapproved,
	}
	approval := ScoreVerification{
		ApprovingNetID:    "ta1",
		ApprovedTimestamp: time.Date(2024, 10, 3, 9, 0, 0, 0, time.UTC),
		PenaltyPct:        25,
	}

	approved := original.UpdateApproval(approval)

	assert.Equal(t, ApprovedManually, approved.VerifiedStatus)
	assert.InDelta(t, 0.6, approved.Score, 1e-9)
	require.NotNil(t, approved.Verification)
	assert.Equal(t, "ta1", approved.Verification.ApprovingNetID)
	assert.Equal(t, 25, approved.Verification.PenaltyPct)
	assert.InDelta(t, 0.8, approved.Verification.OriginalScore, 1e-9)

	// the stored row is append-only; the original must be untouched
	assert.Equal(t, Unapproved, original.VerifiedStatus)
	assert.InDelta(t, 0.8, original.Score, 1e-9)
	assert.Nil(t, original.Verification)
}

func TestSubmissionNormalize(t *testing.T) {
	now := time.Date(2024, 10, 2, 12, 0, 0, 0, time.UTC)
	valid := func() *Submission {
		return &Submission{
			NetID:     " student1 ",
			RepoURL:   "https://github.com/student1/project.git",
			Phase:     Phase1,
			Score:     0.5,
			Timestamp: now.Add(-time.Hour),
		}
	}

	sub := valid()
	require.NoError(t, sub.Normalize(now))
	assert.Equal(t, "student1", sub.NetID)

	sub = valid()
	sub.NetID = "  "
	assert.Error(t, sub.Normalize(now))

	sub = valid()
	sub.Score = 1.5
	assert.Error(t, sub.Normalize(now))

	sub = valid()
	sub.Phase = "Phase2"
	assert.Error(t, sub.Normalize(now))

	sub = valid()
	sub.Timestamp = now.Add(time.Hour)
	assert.Error(t, sub.Normalize(now))
}
