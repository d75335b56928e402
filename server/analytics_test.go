package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/russross/autograder/types"
)

var analyticsBase = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

// chainCommits builds a single-parent chain, newest first, with one
// commit per offset (in minutes from the base time).
func chainCommits(changedLines int, offsetsMinutes ...int) []*RepoCommit {
	var commits []*RepoCommit
	for i, offset := range offsetsMinutes {
		commit := &RepoCommit{
			Hash:         fmt.Sprintf("commit%02d", i),
			CommitTime:   analyticsBase.Add(time.Duration(offset) * time.Minute).Unix(),
			AuthorTime:   analyticsBase.Add(time.Duration(offset) * time.Minute).Unix(),
			ParentCount:  1,
			ChangedLines: changedLines,
		}
		if i+1 < len(offsetsMinutes) {
			commit.ParentTimes = []int64{analyticsBase.Add(time.Duration(offsetsMinutes[i+1]) * time.Minute).Unix()}
		} else {
			commit.ParentCount = 0
			commit.ParentTimes = nil
		}
		commits = append(commits, commit)
	}
	return commits
}

func bounds(lowerOffset, upperOffset int) (CommitThreshold, CommitThreshold) {
	lower := CommitThreshold{Timestamp: analyticsBase.Add(time.Duration(lowerOffset) * time.Minute)}
	upper := CommitThreshold{Timestamp: analyticsBase.Add(time.Duration(upperOffset) * time.Minute), HeadHash: "commit00"}
	return lower, upper
}

func TestCountCommitsBasic(t *testing.T) {
	commits := chainCommits(20, 90, 60, 30, 0)
	lower, upper := bounds(-10, 100)

	result := countCommitsByDay(commits, false, lower, upper, nil, time.UTC)

	assert.Equal(t, 4, result.TotalCommits)
	assert.Equal(t, 0, result.MergeCommits)
	assert.Equal(t, 1, len(result.Days))
	assert.Equal(t, 4, result.Days["2024-10-01"])
	assert.True(t, result.CommitsInOrder)
	assert.False(t, result.CommitsInFuture)
	assert.False(t, result.CommitsBackdated)
	assert.Equal(t, 4, result.SignificantCommits(10))
	assert.Equal(t, 0, result.SignificantCommits(50))
}

func TestCountCommitsMergesExcluded(t *testing.T) {
	commits := chainCommits(20, 60, 30, 0)
	merge := &RepoCommit{
		Hash:        "mergeaa",
		CommitTime:  analyticsBase.Add(45 * time.Minute).Unix(),
		AuthorTime:  analyticsBase.Add(45 * time.Minute).Unix(),
		ParentCount: 2,
		ParentTimes: []int64{analyticsBase.Unix(), analyticsBase.Add(30 * time.Minute).Unix()},
	}
	commits = append([]*RepoCommit{commits[0], merge}, commits[1:]...)
	lower, upper := bounds(-10, 100)

	result := countCommitsByDay(commits, false, lower, upper, nil, time.UTC)

	// merges count in their own tally, never toward commits or days
	assert.Equal(t, 3, result.TotalCommits)
	assert.Equal(t, 1, result.MergeCommits)
	assert.Equal(t, 3, result.Days["2024-10-01"])
	assert.Len(t, result.ChangesPerCommit, 3)
}

func TestCountCommitsRangeBounds(t *testing.T) {
	commits := chainCommits(20, 120, 60, -30)
	lower, upper := bounds(0, 90)

	result := countCommitsByDay(commits, false, lower, upper, nil, time.UTC)

	// the commit before the lower bound is skipped quietly
	assert.True(t, result.CommitsInPast)
	assert.Contains(t, result.Group(GroupCommitsInPast), "commit02")

	// the commit after the upper bound is flagged but still counted
	assert.True(t, result.CommitsInFuture)
	assert.Contains(t, result.Group(GroupCommitsInFuture), "commit00")
	assert.Equal(t, 2, result.TotalCommits)
}

func TestCountCommitsOutOfOrder(t *testing.T) {
	commits := chainCommits(20, 30, 60, 0)
	lower, upper := bounds(-10, 100)

	result := countCommitsByDay(commits, false, lower, upper, nil, time.UTC)

	assert.False(t, result.CommitsInOrder)
	assert.Contains(t, result.Group(GroupCommitsInOrder), "commit00")
}

func TestCountCommitsBackdated(t *testing.T) {
	stamp := analyticsBase.Unix()
	commits := []*RepoCommit{
		{
			Hash:         "backdate",
			CommitTime:   stamp,
			AuthorTime:   stamp + 60,
			ParentCount:  0,
			ChangedLines: 20,
		},
	}
	lower, upper := bounds(-10, 100)

	result := countCommitsByDay(commits, false, lower, upper, nil, time.UTC)
	assert.True(t, result.CommitsBackdated)

	// a commit-vs-author gap of an exact day multiple is also backdating
	commits[0].AuthorTime = stamp + 60
	commits[0].CommitTime = stamp + 60 + secondsInDay
	result = countCommitsByDay(commits, false, lower, upper, nil, time.UTC)
	assert.True(t, result.CommitsBackdated)
}

func TestCountCommitsDuplicateTimestamps(t *testing.T) {
	stamp := analyticsBase.Unix()
	commits := []*RepoCommit{
		{Hash: "newer", CommitTime: stamp, AuthorTime: stamp, ParentCount: 1, ParentTimes: []int64{stamp}, ChangedLines: 20},
		{Hash: "older", CommitTime: stamp, AuthorTime: stamp, ParentCount: 1, ParentTimes: []int64{stamp - 60}, ChangedLines: 20},
		{Hash: "oldest", CommitTime: stamp - 60, AuthorTime: stamp - 60, ParentCount: 0, ChangedLines: 20},
	}
	lower, upper := bounds(-10, 100)

	result := countCommitsByDay(commits, false, lower, upper, nil, time.UTC)

	assert.True(t, result.TimestampsDuplicated)
	assert.ElementsMatch(t, []string{"newer", "older"}, result.Group(GroupTimestampsDuplicated))

	// the chronologically first commit in the bucket keeps its credit
	assert.Equal(t, []string{"newer"}, result.Group(GroupDuplicatesSubsequentOnly))
}

func TestCountCommitsExclusions(t *testing.T) {
	commits := chainCommits(20, 60, 30, 0)
	lower, upper := bounds(-10, 100)
	exclude := map[string]bool{"commit01": true}

	result := countCommitsByDay(commits, false, lower, upper, exclude, time.UTC)

	assert.Equal(t, 2, result.TotalCommits)
	assert.Equal(t, []string{"commit01"}, result.Group(GroupExcludedCommits))
}

func TestCountCommitsMissingTail(t *testing.T) {
	commits := chainCommits(20, 30, 0)
	lower, upper := bounds(-10, 100)
	lower.HeadHash = "gonehash"

	result := countCommitsByDay(commits, true, lower, upper, nil, time.UTC)

	assert.True(t, result.MissingTailHash)
	assert.Equal(t, []string{"gonehash"}, result.Group(GroupMissingTailHash))
}

// Ten commits across two days with one insignificant commit and one
// authored past the hand-in bound: the counts line up, and the future
// commit is what blocks verification.
func TestCountCommitsMixedHistory(t *testing.T) {
	day := 24 * 60
	commits := chainCommits(20, 2*day+30, day+50, day+40, day+30, day+20, day+10, 40, 30, 20, 10)
	commits[1].ChangedLines = 2
	lower, upper := bounds(0, 2*day)

	result := countCommitsByDay(commits, false, lower, upper, nil, time.UTC)

	assert.Equal(t, 10, result.TotalCommits)
	assert.Equal(t, 3, len(result.Days))
	assert.Equal(t, 9, result.SignificantCommits(10))
	assert.True(t, result.CommitsInFuture)
	require.Len(t, result.Group(GroupCommitsInFuture), 1)
}
