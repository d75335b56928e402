package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	phase, err := ParsePhase("phase3")
	require.NoError(t, err)
	assert.Equal(t, Phase3, phase)

	phase, err = ParsePhase("QUALITY")
	require.NoError(t, err)
	assert.Equal(t, PhaseQuality, phase)

	_, err = ParsePhase("Phase2")
	assert.Error(t, err)
}

func TestPhaseProperties(t *testing.T) {
	assert.False(t, PhaseQuality.Graded())
	assert.False(t, PhaseQuality.VerifyCommits())
	assert.False(t, PhaseQuality.RequiresStaffApprovalForCommits())

	assert.True(t, PhaseGitHub.Graded())
	assert.True(t, PhaseGitHub.VerifyCommits())
	assert.False(t, PhaseGitHub.RequiresStaffApprovalForCommits())
	assert.True(t, PhaseGitHub.AlwaysSyncToGradeBook())

	for _, phase := range []Phase{Phase0, Phase1, Phase3, Phase4, Phase5, Phase6} {
		assert.True(t, phase.Graded(), phase)
		assert.True(t, phase.VerifyCommits(), phase)
		assert.True(t, phase.RequiresStaffApprovalForCommits(), phase)
		assert.True(t, phase.HasCommitPenalty(), phase)
		assert.False(t, phase.AlwaysSyncToGradeBook(), phase)
	}
}

func TestCommitThresholds(t *testing.T) {
	for _, tc := range []struct {
		phase   Phase
		commits int
		days    int
	}{
		{Phase0, 8, 2},
		{Phase1, 8, 2},
		{Phase3, 12, 3},
		{Phase4, 8, 2},
		{Phase5, 12, 3},
		{Phase6, 12, 3},
		{PhaseGitHub, 2, 0},
		{PhaseQuality, 0, 0},
	} {
		commits, days := tc.phase.CommitThresholds()
		assert.Equal(t, tc.commits, commits, tc.phase)
		assert.Equal(t, tc.days, days, tc.phase)
	}
}

func TestPreviousGradedPhases(t *testing.T) {
	assert.Equal(t, []Phase{Phase1, Phase0, PhaseGitHub}, Phase1.PreviousGradedPhases())
	assert.Equal(t, []Phase{PhaseGitHub}, PhaseGitHub.PreviousGradedPhases())
	assert.Nil(t, PhaseQuality.PreviousGradedPhases())
}
