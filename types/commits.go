package types

import (
	"time"
)

// Anomaly group keys. Each key maps to the commit hashes that
// triggered the flag so a re-evaluation can exclude exactly those.
const (
	GroupCommitsInPast            = "commitsInPast"
	GroupCommitsInFuture          = "commitsInFuture"
	GroupCommitsInOrder           = "commitsInOrder"
	GroupCommitsBackdated         = "commitsBackdated"
	GroupTimestampsDuplicated     = "commitTimestampsDuplicated"
	GroupDuplicatesSubsequentOnly = "commitTimestampsDuplicatedSubsequentOnly"
	GroupMissingTailHash          = "missingTailHash"
	GroupExcludedCommits          = "excludedCommits"
)

// CommitThreshold bounds one end of a commit range. The upper bound of
// a range is inclusive of its hash, the lower bound exclusive. HeadHash
// may be empty for a student's very first graded phase.
type CommitThreshold struct {
	Timestamp time.Time `json:"timestamp"`
	HeadHash  string    `json:"headHash,omitempty"`
}

// CommitsByDay is the result of scanning a commit range: per-day commit
// counts, per-commit diff sizes, merge tallies, and anomaly flags.
type CommitsByDay struct {
	Days             map[string]int `json:"days"`
	ChangesPerCommit []int          `json:"changesPerCommit"`
	TotalCommits     int            `json:"totalCommits"`
	MergeCommits     int            `json:"mergeCommits"`

	CommitsInOrder       bool `json:"commitsInOrder"`
	CommitsInFuture      bool `json:"commitsInFuture"`
	CommitsInPast        bool `json:"commitsInPast"`
	CommitsBackdated     bool `json:"commitsBackdated"`
	MissingTailHash      bool `json:"missingTailHash"`
	TimestampsDuplicated bool `json:"commitTimestampsDuplicated"`

	Lower CommitThreshold `json:"lowerThreshold"`
	Upper CommitThreshold `json:"upperThreshold"`

	// Groups maps an anomaly key to the specific commit hashes behind it.
	Groups map[string][]string `json:"groups,omitempty"`
}

// Group returns the commit hashes recorded under an anomaly key.
func (cbd *CommitsByDay) Group(key string) []string {
	if cbd.Groups == nil {
		return nil
	}
	return cbd.Groups[key]
}

// AddToGroup records commit hashes under an anomaly key.
func (cbd *CommitsByDay) AddToGroup(key string, hashes ...string) {
	if len(hashes) == 0 {
		return
	}
	if cbd.Groups == nil {
		cbd.Groups = make(map[string][]string)
	}
	cbd.Groups[key] = append(cbd.Groups[key], hashes...)
}

// DaysWithCommits counts the distinct calendar days holding at least
// one non-merge commit.
func (cbd *CommitsByDay) DaysWithCommits() int {
	count := 0
	for _, n := range cbd.Days {
		if n > 0 {
			count++
		}
	}
	return count
}

// SignificantCommits counts single-parent commits whose changed-line
// total meets the minimum.
func (cbd *CommitsByDay) SignificantCommits(minimumChangedLines int) int {
	count := 0
	for _, lines := range cbd.ChangesPerCommit {
		if lines >= minimumChangedLines {
			count++
		}
	}
	return count
}

// CommitVerificationConfig holds the thresholds a commit history must
// meet for one phase.
type CommitVerificationConfig struct {
	RequiredCommits              int `json:"requiredCommits"`
	RequiredDaysWithCommits      int `json:"requiredDaysWithCommits"`
	MinimumChangedLinesPerCommit int `json:"minimumChangedLinesPerCommit"`
	CommitVerificationPenaltyPct int `json:"commitVerificationPenaltyPct"`
	ForgivenessMinutes           int `json:"forgivenessMinutes"`
}

// CommitVerificationContext is the immutable snapshot of the inputs
// that produced a verification verdict, kept for auditing.
type CommitVerificationContext struct {
	Config             CommitVerificationConfig `json:"config"`
	CommitsByDay       *CommitsByDay            `json:"commitsByDay"`
	NumCommits         int                      `json:"numCommits"`
	DaysWithCommits    int                      `json:"daysWithCommits"`
	SignificantCommits int                      `json:"significantCommits"`
}

// CommitVerificationResult is the verdict surfaced to scoring and to
// the student. CachedResponse marks a verdict carried forward from an
// earlier passing submission rather than computed fresh.
type CommitVerificationResult struct {
	Verified           bool      `json:"verified"`
	CachedResponse     bool      `json:"cachedResponse"`
	TotalCommits       int       `json:"totalCommits"`
	SignificantCommits int       `json:"significantCommits"`
	NumDays            int       `json:"numDays"`
	MissingTailHash    bool      `json:"missingTailHash"`
	PenaltyPct         int       `json:"penaltyPct"`
	FailureMessage     string    `json:"failureMessage,omitempty"`
	WarningMessages    []string  `json:"warningMessages,omitempty"`
	MinThreshold       time.Time `json:"minThreshold,omitempty"`
	MaxThreshold       time.Time `json:"maxThreshold,omitempty"`
	HeadHash           string    `json:"headHash"`
	TailHash           string    `json:"tailHash,omitempty"`
}

// CommitVerificationReport pairs a verdict with the context that
// produced it. Context is nil when verification was skipped or carried
// forward.
type CommitVerificationReport struct {
	Context *CommitVerificationContext `json:"context,omitempty"`
	Result  *CommitVerificationResult  `json:"result"`
}
