package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/russross/autograder/types"
)

func queueItem(netID string, offset time.Duration) *QueueItem {
	return &QueueItem{
		NetID:     netID,
		Phase:     Phase1,
		RepoURL:   "https://github.com/" + netID + "/project.git",
		TimeAdded: time.Date(2024, 10, 2, 12, 0, 0, 0, time.UTC).Add(offset),
	}
}

func TestQueueEnqueueRejectsDuplicates(t *testing.T) {
	mem := newMemoryStore()

	inserted, err := mem.Enqueue(queueItem("student1", 0))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = mem.Enqueue(queueItem("student1", time.Minute))
	require.NoError(t, err)
	assert.False(t, inserted, "a student gets at most one slot")

	items, err := mem.All()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestQueueClaimNextIsFIFO(t *testing.T) {
	mem := newMemoryStore()
	for _, elt := range []*QueueItem{
		queueItem("student2", time.Minute),
		queueItem("student1", 0),
		queueItem("student3", 2*time.Minute),
	} {
		_, err := mem.Enqueue(elt)
		require.NoError(t, err)
	}

	first, err := mem.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "student1", first.NetID)
	assert.True(t, first.Started)

	second, err := mem.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "student2", second.NetID)

	// a released item becomes claimable again before the others
	require.NoError(t, mem.Release("student1"))
	again, err := mem.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "student1", again.NetID)
}

func TestQueueCompleteFreesTheSlot(t *testing.T) {
	mem := newMemoryStore()
	_, err := mem.Enqueue(queueItem("student1", 0))
	require.NoError(t, err)

	claimed, err := mem.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, mem.Complete("student1"))

	item, err := mem.Get("student1")
	require.NoError(t, err)
	assert.Nil(t, item)

	inserted, err := mem.Enqueue(queueItem("student1", time.Minute))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestQueueResetStartedRecoversInterruptedJobs(t *testing.T) {
	mem := newMemoryStore()
	_, err := mem.Enqueue(queueItem("student1", 0))
	require.NoError(t, err)
	_, err = mem.Enqueue(queueItem("student2", time.Minute))
	require.NoError(t, err)

	_, err = mem.ClaimNext()
	require.NoError(t, err)

	count, err := mem.ResetStarted()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// the interrupted job is claimable again
	item, err := mem.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "student1", item.NetID)
}

func testController(t *testing.T) (*trafficController, *memoryStore) {
	t.Helper()
	mem := newMemoryStore()
	deps := &graderDeps{
		store:    &storeSet{mem, mem, mem, mem},
		location: time.UTC,
	}
	return newTrafficController(deps, newObserverRegistry(), 0), mem
}

func TestSubmitReportsQueuePosition(t *testing.T) {
	tc, _ := testController(t)

	pos, err := tc.Submit(queueItem("student1", 0))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = tc.Submit(queueItem("student2", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestSubmitDuplicateKeepsPosition(t *testing.T) {
	tc, _ := testController(t)

	_, err := tc.Submit(queueItem("student1", 0))
	require.NoError(t, err)

	pos, err := tc.Submit(queueItem("student1", time.Minute))
	assert.Equal(t, errAlreadyQueued, err)
	assert.Equal(t, 1, pos)
}

func TestSubmitHonorsSubmissionsToggle(t *testing.T) {
	tc, mem := testController(t)
	require.NoError(t, mem.SetValue(ConfigStudentSubmissionsEnabled, "false"))

	_, err := tc.Submit(queueItem("student1", 0))
	assert.Equal(t, errSubmissionsDisabled, err)

	// course staff bypass the toggle
	item := queueItem("staff1", 0)
	item.Admin = true
	pos, err := tc.Submit(item)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestSubmitHonorsShutdownDate(t *testing.T) {
	tc, mem := testController(t)
	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	require.NoError(t, mem.SetValue(ConfigGraderShutdownDate, past))

	_, err := tc.Submit(queueItem("student1", 0))
	assert.Equal(t, errSubmissionsDisabled, err)

	future := time.Now().Add(time.Hour).Format(time.RFC3339)
	require.NoError(t, mem.SetValue(ConfigGraderShutdownDate, future))
	_, err = tc.Submit(queueItem("student1", 0))
	assert.NoError(t, err)
}

func TestSubmitRejectsUnknownPhase(t *testing.T) {
	tc, _ := testController(t)

	item := queueItem("student1", 0)
	item.Phase = Phase("Phase9")
	_, err := tc.Submit(item)
	assert.Error(t, err)
}
