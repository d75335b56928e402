package types

import (
	"fmt"
	"strings"
	"time"
)

var BeginningOfTime = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// VerifiedStatus tracks the approval lifecycle of a submission's score.
type VerifiedStatus string

const (
	Unapproved            VerifiedStatus = "Unapproved"
	ApprovedAutomatically VerifiedStatus = "ApprovedAutomatically"
	ApprovedManually      VerifiedStatus = "ApprovedManually"
	PreviouslyApproved    VerifiedStatus = "PreviouslyApproved"
)

// Approved reports whether this status allows the score to reach the
// gradebook. An empty status is a legacy record and is treated as
// approved.
func (status VerifiedStatus) Approved() bool {
	return status != Unapproved
}

// ScoreVerification records a staff decision on a withheld score. It is
// attached once and never edited afterward.
type ScoreVerification struct {
	OriginalScore     float64   `json:"originalScore"`
	ApprovingNetID    string    `json:"approvingNetID"`
	ApprovedTimestamp time.Time `json:"approvedTimestamp"`
	PenaltyPct        int       `json:"penaltyPct"`
}

// WithOriginalScore derives a per-submission verification from a batch
// approval, substituting the submission's own pre-penalty score.
func (v ScoreVerification) WithOriginalScore(score float64) ScoreVerification {
	v.OriginalScore = score
	return v
}

// Submission is one graded attempt. Rows are append-only; a submission
// is never edited in place, a corrected version is inserted as a new
// row.
type Submission struct {
	ID             int64                      `json:"id" meddler:"id,pk"`
	NetID          string                     `json:"netID" meddler:"net_id"`
	RepoURL        string                     `json:"repoURL" meddler:"repo_url"`
	HeadHash       string                     `json:"headHash" meddler:"head_hash"`
	Timestamp      time.Time                  `json:"timestamp" meddler:"timestamp,localtime"`
	Phase          Phase                      `json:"phase" meddler:"phase"`
	Passed         bool                       `json:"passed" meddler:"passed"`
	Score          float64                    `json:"score" meddler:"score"`
	RawScore       float64                    `json:"rawScore" meddler:"raw_score"`
	Notes          string                     `json:"notes" meddler:"notes,zeroisnull"`
	Rubric         *Rubric                    `json:"rubric" meddler:"rubric,json"`
	Admin          bool                       `json:"admin" meddler:"admin"`
	VerifiedStatus VerifiedStatus             `json:"verifiedStatus,omitempty" meddler:"verified_status,zeroisnull"`
	CommitContext  *CommitVerificationContext `json:"commitContext,omitempty" meddler:"commit_context,json"`
	CommitResult   *CommitVerificationResult  `json:"commitResult,omitempty" meddler:"commit_result,json"`
	Verification   *ScoreVerification         `json:"verification,omitempty" meddler:"verification,json"`
}

// SameAttempt reports logical submission equality: re-grading the same
// head commit for the same phase is the same submission no matter how
// the other fields differ.
func (sub *Submission) SameAttempt(other *Submission) bool {
	return sub.NetID == other.NetID &&
		sub.HeadHash == other.HeadHash &&
		sub.Phase == other.Phase
}

// ScoreApproved reports whether this submission's score may be synced.
func (sub *Submission) ScoreApproved() bool {
	return sub.VerifiedStatus.Approved()
}

// PenaltyPct returns the staff-approved commit penalty, or zero when
// no verification decision is attached.
func (sub *Submission) PenaltyPct() int {
	if sub.Verification == nil {
		return 0
	}
	return sub.Verification.PenaltyPct
}

// UpdateApproval returns a copy of the submission with its score
// recomputed under a staff-approved penalty. The verification is
// re-derived so it carries this submission's own original score. The
// receiver is not modified.
func (sub *Submission) UpdateApproval(v ScoreVerification) *Submission {
	out := *sub
	out.VerifiedStatus = ApprovedManually
	derived := v.WithOriginalScore(sub.Score)
	out.Verification = &derived
	out.Score = ApplyPenaltyPct(sub.Score, v.PenaltyPct)
	return &out
}

// ApplyPenaltyPct reduces a score by a whole-number percentage.
func ApplyPenaltyPct(score float64, penaltyPct int) float64 {
	return score * float64(100-penaltyPct) / 100
}

func (sub *Submission) Normalize(now time.Time) error {
	sub.NetID = strings.TrimSpace(sub.NetID)
	sub.RepoURL = strings.TrimSpace(sub.RepoURL)
	if sub.NetID == "" {
		return fmt.Errorf("submission must have a netID")
	}
	if sub.RepoURL == "" {
		return fmt.Errorf("submission must have a repo URL")
	}
	if _, err := ParsePhase(string(sub.Phase)); err != nil {
		return err
	}
	if sub.Score < 0.0 || sub.Score > 1.0 {
		return fmt.Errorf("submission score must be between 0 and 1")
	}
	if sub.Timestamp.Before(BeginningOfTime) || sub.Timestamp.After(now.Add(time.Minute)) {
		return fmt.Errorf("submission timestamp of %v is invalid", sub.Timestamp)
	}
	return nil
}
