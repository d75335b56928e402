package main

import (
	"sort"
	"time"

	. "github.com/russross/autograder/types"
)

const secondsInDay = 60 * 60 * 24

// countCommitsByDay scans a commit list (newest first, as produced by
// LogBetween) against the bounds and produces per-day counts, diff
// sizes, and anomaly flags. Commits in excludeCommits are skipped and
// recorded; commits at or before the lower bound are skipped quietly
// since rebasing can legitimately produce them.
func countCommitsByDay(commits []*RepoCommit, missingTail bool, lower, upper CommitThreshold, excludeCommits map[string]bool, location *time.Location) *CommitsByDay {
	if location == nil {
		location = time.Local
	}
	lowerBoundSecs := lower.Timestamp.Unix()
	upperBoundSecs := upper.Timestamp.Unix()

	result := &CommitsByDay{
		Days:           make(map[string]int),
		CommitsInOrder: true,
		Lower:          lower,
		Upper:          upper,
	}
	if missingTail {
		result.MissingTailHash = true
		result.AddToGroup(GroupMissingTailHash, lower.HeadHash)
	}

	commitsByTimestamp := make(map[int64][]string)
	var timestampOrder []int64

	for _, commit := range commits {
		if excludeCommits[commit.Hash] {
			result.AddToGroup(GroupExcludedCommits, commit.Hash)
			continue
		}

		seconds := commit.EffectiveTime()
		if seconds <= lowerBoundSecs {
			result.AddToGroup(GroupCommitsInPast, commit.Hash)
			result.CommitsInPast = true
			continue
		}
		if seconds > upperBoundSecs {
			result.AddToGroup(GroupCommitsInFuture, commit.Hash)
			result.CommitsInFuture = true
		}

		for _, parentTime := range commit.ParentTimes {
			if seconds < parentTime {
				result.AddToGroup(GroupCommitsInOrder, commit.Hash)
				result.CommitsInOrder = false
				break
			}
		}

		if commit.ParentCount > 1 {
			result.MergeCommits++
			continue
		}

		if detectBackdating(commit) {
			result.AddToGroup(GroupCommitsBackdated, commit.Hash)
			result.CommitsBackdated = true
		}

		result.ChangesPerCommit = append(result.ChangesPerCommit, commit.ChangedLines)
		if _, seen := commitsByTimestamp[seconds]; !seen {
			timestampOrder = append(timestampOrder, seconds)
		}
		commitsByTimestamp[seconds] = append(commitsByTimestamp[seconds], commit.Hash)

		dayKey := time.Unix(seconds, 0).In(location).Format("2006-01-02")
		result.Days[dayKey]++
		result.TotalCommits++
	}

	analyzeDuplicatedTimestamps(result, commitsByTimestamp, timestampOrder)
	return result
}

// analyzeDuplicatedTimestamps flags timestamp collisions, a strong
// signal of amended or squashed history. For each collision bucket the
// chronologically first commit (the last one in walk order) is kept
// out of the subsequent-only group, so a re-evaluation can exclude the
// duplicates while still honoring one commit per timestamp.
func analyzeDuplicatedTimestamps(result *CommitsByDay, commitsByTimestamp map[int64][]string, timestampOrder []int64) {
	var all, subsequentOnly []string
	sort.Slice(timestampOrder, func(i, j int) bool { return timestampOrder[i] < timestampOrder[j] })
	for _, stamp := range timestampOrder {
		bucket := commitsByTimestamp[stamp]
		if len(bucket) > 1 {
			all = append(all, bucket...)
			subsequentOnly = append(subsequentOnly, bucket[:len(bucket)-1]...)
		}
	}
	if len(all) > 0 {
		result.TimestampsDuplicated = true
		result.AddToGroup(GroupTimestampsDuplicated, all...)
		result.AddToGroup(GroupDuplicatesSubsequentOnly, subsequentOnly...)
	}
}

// detectBackdating spots manually backdated commits: the author stamp
// trailing the commit stamp, or the two stamps separated by an exact
// multiple of 24 hours, which is how git encodes a date-only override.
func detectBackdating(commit *RepoCommit) bool {
	if commit.AuthorTime == -1 {
		return false
	}
	if commit.AuthorTime > commit.CommitTime {
		return true
	}
	if commit.CommitTime != commit.AuthorTime && (commit.CommitTime-commit.AuthorTime)%secondsInDay == 0 {
		return true
	}
	return false
}
