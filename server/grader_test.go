package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/russross/autograder/types"
)

func TestLoadVerificationConfigDefaults(t *testing.T) {
	mem := newMemoryStore()

	config, err := loadVerificationConfig(mem, Phase3)
	require.NoError(t, err)
	assert.Equal(t, 12, config.RequiredCommits)
	assert.Equal(t, 3, config.RequiredDaysWithCommits)
	assert.Equal(t, 5, config.MinimumChangedLinesPerCommit)
	assert.Equal(t, 3, config.ForgivenessMinutes)
	assert.Equal(t, 10, config.CommitVerificationPenaltyPct)
}

func TestLoadVerificationConfigOverrides(t *testing.T) {
	mem := newMemoryStore()
	require.NoError(t, mem.SetValue(ConfigLinesPerCommitRequired, "12"))
	require.NoError(t, mem.SetValue(ConfigClockForgivenessMinutes, "10"))
	require.NoError(t, mem.SetValue(ConfigGitCommitPenalty, "0.25"))

	config, err := loadVerificationConfig(mem, Phase0)
	require.NoError(t, err)
	assert.Equal(t, 8, config.RequiredCommits)
	assert.Equal(t, 12, config.MinimumChangedLinesPerCommit)
	assert.Equal(t, 10, config.ForgivenessMinutes)
	assert.Equal(t, 25, config.CommitVerificationPenaltyPct)
}

func dueDateJob(t *testing.T, phase Phase, handIn time.Time) (*GradingJob, *memoryStore, *fakeGradeBook) {
	t.Helper()
	mem := newMemoryStore()
	gradebook := &fakeGradeBook{}
	calendar, err := loadCalendar(mem, time.UTC)
	require.NoError(t, err)
	job := &GradingJob{
		netID:       "student1",
		phase:       phase,
		handIn:      handIn,
		maxLateDays: 10,
		location:    time.UTC,
		config:      mem,
		gradebook:   gradebook,
		calendar:    calendar,
		observer:    discardObserver{},
	}
	return job, mem, gradebook
}

func TestResolveDueDateLate(t *testing.T) {
	due := time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC) // Friday
	handIn := time.Date(2024, 9, 24, 10, 0, 0, 0, time.UTC)
	job, mem, gradebook := dueDateJob(t, Phase1, handIn)
	require.NoError(t, mem.SetValue(ConfigAssignmentNumberKey(Phase1), "3"))
	gradebook.due = due

	require.NoError(t, job.resolveDueDate())
	assert.Equal(t, due, job.dueDate)
	assert.Equal(t, 2, job.daysLate, "the weekend does not count against the student")
	assert.Equal(t, 0, job.daysEarly)
}

func TestResolveDueDateEarly(t *testing.T) {
	due := time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC)
	handIn := due.Add(-50 * time.Hour)
	job, mem, gradebook := dueDateJob(t, Phase1, handIn)
	require.NoError(t, mem.SetValue(ConfigAssignmentNumberKey(Phase1), "3"))
	gradebook.due = due

	require.NoError(t, job.resolveDueDate())
	assert.Equal(t, 0, job.daysLate)
	assert.Equal(t, 2, job.daysEarly)
}

func TestResolveDueDateUngraded(t *testing.T) {
	job, _, gradebook := dueDateJob(t, PhaseQuality, time.Date(2024, 9, 24, 10, 0, 0, 0, time.UTC))
	gradebook.due = time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC)

	require.NoError(t, job.resolveDueDate())
	assert.Equal(t, 0, job.daysLate)
	assert.True(t, job.dueDate.IsZero())
}

func TestResolveDueDateUnconfiguredAssignment(t *testing.T) {
	job, _, gradebook := dueDateJob(t, Phase1, time.Date(2024, 9, 24, 10, 0, 0, 0, time.UTC))
	gradebook.due = time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC)

	// no assignment number configured for the phase: never late
	require.NoError(t, job.resolveDueDate())
	assert.Equal(t, 0, job.daysLate)
}

func TestResolveDueDateWithoutGradebookEntry(t *testing.T) {
	job, mem, _ := dueDateJob(t, Phase1, time.Date(2024, 9, 24, 10, 0, 0, 0, time.UTC))
	require.NoError(t, mem.SetValue(ConfigAssignmentNumberKey(Phase1), "3"))

	// the gradebook has no due date on record: never late
	require.NoError(t, job.resolveDueDate())
	assert.Equal(t, 0, job.daysLate)
	assert.True(t, job.dueDate.IsZero())
}
