package main

import (
	"fmt"
	"log"
	"time"

	. "github.com/russross/autograder/types"
)

// minCommitThreshold is the open lower bound used for a student's
// first graded submission.
var minCommitThreshold = CommitThreshold{Timestamp: time.Time{}}

// Condition is one pass/fail check over a verification context,
// carrying the commits that triggered it.
type Condition struct {
	Fails   bool
	Commits []string
	Message string
}

// EvalMessages collects the messages and affected commits from a set
// of failed conditions.
type EvalMessages struct {
	Messages []string
	Commits  []string
}

func (e *EvalMessages) Empty() bool {
	return e == nil || len(e.Messages) == 0
}

// evaluateConditions gathers the failing conditions into an
// EvalMessages. The terminator appends trailing messages only when at
// least one condition failed.
func evaluateConditions(conditions []Condition, terminator func(messages []string) []string) *EvalMessages {
	result := new(EvalMessages)
	for _, elt := range conditions {
		if elt.Fails {
			result.Messages = append(result.Messages, elt.Message)
			result.Commits = append(result.Commits, elt.Commits...)
		}
	}
	if len(result.Messages) > 0 && terminator != nil {
		result.Messages = terminator(result.Messages)
	}
	return result
}

// CommitVerificationStrategy decides whether a counted commit history
// passes. Only one concrete policy exists today, but the contract
// leaves room for per-course policies. After Evaluate, ExtendExcludeSet
// may name commits to exclude from a recount; the engine re-runs the
// evaluation only when that set adds commits it has not already
// excluded, which bounds the loop.
type CommitVerificationStrategy interface {
	Evaluate(commitContext *CommitVerificationContext, job *GradingJob) error
	ExtendExcludeSet() []string
	Warnings() *EvalMessages
	Errors() *EvalMessages
}

// defaultVerificationStrategy enforces the standard course policy:
// enough commits, enough of them significant, spread over enough days,
// none from the future, and none backdated.
type defaultVerificationStrategy struct {
	warnings      *EvalMessages
	errors        *EvalMessages
	expandExclude []string
}

func (s *defaultVerificationStrategy) Evaluate(commitContext *CommitVerificationContext, job *GradingJob) error {
	config := commitContext.Config
	commitsByDay := commitContext.CommitsByDay
	numCommits := commitContext.NumCommits
	daysWithCommits := commitContext.DaysWithCommits
	significantCommits := commitContext.SignificantCommits

	daysSubmittedEarly := job.daysEarly
	insufficientDays := daysWithCommits+daysSubmittedEarly < config.RequiredDaysWithCommits

	asserted := []Condition{
		{
			Fails:   numCommits < config.RequiredCommits,
			Commits: nil,
			Message: fmt.Sprintf("Not enough commits to pass off (%d/%d).", numCommits, config.RequiredCommits),
		},
		{
			Fails:   numCommits >= config.RequiredCommits && significantCommits < config.RequiredCommits,
			Message: fmt.Sprintf("Have some commits, but some of them are too insignificant for credit (%d/%d).", significantCommits, config.RequiredCommits),
		},
		{
			Fails:   insufficientDays,
			Message: fmt.Sprintf("Did not commit on enough days to pass off (%d/%d).", daysWithCommits, config.RequiredDaysWithCommits),
		},
		{
			Fails:   commitsByDay.CommitsInFuture,
			Commits: commitsByDay.Group(GroupCommitsInFuture),
			Message: "Suspicious commit history. Some commits are authored after the hand in date. Is your clock set incorrectly?",
		},
		{
			Fails:   commitsByDay.CommitsBackdated,
			Commits: commitsByDay.Group(GroupCommitsBackdated),
			Message: "Suspicious commit history. Some commits have been backdated.",
		},
	}
	warned := []Condition{
		{
			Fails:   !insufficientDays && daysWithCommits < config.RequiredDaysWithCommits && daysSubmittedEarly > 0,
			Message: fmt.Sprintf("Committed %d of %d required days, but early completion made up the difference.", daysWithCommits, config.RequiredDaysWithCommits),
		},
		{
			Fails:   !commitsByDay.CommitsInOrder,
			Commits: commitsByDay.Group(GroupCommitsInOrder),
			Message: "Congratulations! You have changed the order of some of your commits. You won a medal for manipulating your git history in advanced ways.",
		},
		{
			Fails:   commitsByDay.TimestampsDuplicated,
			Commits: commitsByDay.Group(GroupDuplicatesSubsequentOnly),
			Message: "Mistaken history manipulation. Multiple commits have the exact same timestamp. Likely, commits were pushed and amended and merged together.",
		},
		{
			// The previous head can vanish after a rebase; the earlier
			// submission's timestamp stands in as the lower bound, so
			// this warns rather than fails.
			Fails:   commitsByDay.MissingTailHash,
			Message: "Missing tail hash. The previous submission commit could not be found in the repository.",
		},
		{
			Fails:   commitsByDay.CommitsInPast && !commitsByDay.MissingTailHash,
			Message: "Some commits excluded. Commits authored before the previous phase submission were not counted.",
		},
	}

	// Keep the messages from the first pass so the student sees the
	// original complaints even after a recount excludes commits.
	if s.warnings == nil {
		s.warnings = evaluateConditions(warned, warningTerminator)
	}
	if s.errors == nil {
		s.errors = evaluateConditions(asserted, errorTerminator(job))
	}

	// A recount is only worthwhile when amended commits were found.
	s.expandExclude = commitsByDay.Group(GroupDuplicatesSubsequentOnly)
	return nil
}

func (s *defaultVerificationStrategy) ExtendExcludeSet() []string { return s.expandExclude }
func (s *defaultVerificationStrategy) Warnings() *EvalMessages    { return s.warnings }
func (s *defaultVerificationStrategy) Errors() *EvalMessages      { return s.errors }

func warningTerminator(messages []string) []string {
	return append(messages,
		"Grading will continue on this submission despite detecting Git warnings. "+
			"We recommend asking a TA to understand why these warnings appeared.")
}

func errorTerminator(job *GradingJob) func(messages []string) []string {
	return func(messages []string) []string {
		if !job.phase.RequiresStaffApprovalForCommits() {
			return messages
		}
		messages = append(messages,
			"Since you did not meet the prerequisites for commit frequency, "+
				"you will need to talk to a TA to receive a score. ")
		messages = append(messages,
			fmt.Sprintf("It may come with a %d%% penalty.", job.verificationConfig.CommitVerificationPenaltyPct))
		return messages
	}
}

// commitVerifier drives the verification state machine for one job:
// collect the history, evaluate it, recount at most once per newly
// excluded commit set, and produce the final report.
type commitVerifier struct {
	job      *GradingJob
	strategy CommitVerificationStrategy
	headHash string
}

func newCommitVerifier(job *GradingJob, strategy CommitVerificationStrategy) *commitVerifier {
	return &commitVerifier{job: job, strategy: strategy}
}

// verifyHistory is the entry point. It never fails the job outright:
// internal verification errors downgrade to a warning plus an
// unverified result so grading can continue.
func (v *commitVerifier) verifyHistory(repo *gitRepo) (*CommitVerificationReport, error) {
	if v.headHash == "" {
		return nil, fmt.Errorf("cannot verify history before the head hash is known")
	}

	v.job.observer.Update("Verifying commits...")

	if v.job.admin || !v.job.phase.VerifyCommits() {
		return v.skipVerification(true, ""), nil
	}

	report, err := v.verifyRequirements(repo)
	if err != nil {
		errorStr := "Internally failed to evaluate commit history: " + err.Error()
		v.job.observer.Warning(errorStr)
		log.Printf("failed to evaluate commit history for %s %s: %v", v.job.netID, v.job.phase, err)
		return v.skipVerification(false, errorStr), nil
	}

	for _, warning := range report.Result.WarningMessages {
		v.job.observer.Warning(warning)
	}
	return report, nil
}

func (v *commitVerifier) skipVerification(verified bool, failureMessage string) *CommitVerificationReport {
	return &CommitVerificationReport{
		Result: &CommitVerificationResult{
			Verified:       verified,
			FailureMessage: failureMessage,
			HeadHash:       v.headHash,
		},
	}
}

func (v *commitVerifier) verifyRequirements(repo *gitRepo) (*CommitVerificationReport, error) {
	if report, err := v.preserveOriginalVerification(); report != nil || err != nil {
		return report, err
	}

	// This could be the first passing submission, so the range has to
	// be computed from scratch.
	passing, err := v.job.submissions.AllPassing(v.job.netID)
	if err != nil {
		return nil, err
	}
	lower, err := v.mostRecentPassingThreshold(repo, passing)
	if err != nil {
		return nil, err
	}
	upper, err := v.currentThreshold()
	if err != nil {
		return nil, err
	}
	return v.verifyRegularCommits(repo, lower, upper)
}

// preserveOriginalVerification defers to the decision made on the
// first passing submission for this phase, if one exists. An earlier
// approval (with or without penalty) carries forward, and an earlier
// failure keeps requiring staff sign-off.
func (v *commitVerifier) preserveOriginalVerification() (*CommitVerificationReport, error) {
	first, err := v.job.submissions.FirstPassing(v.job.netID, v.job.phase)
	if err != nil {
		return nil, err
	}
	if first == nil || first.VerifiedStatus == "" {
		return nil, nil
	}

	verified := first.ScoreApproved()
	var message string
	switch {
	case !verified:
		message = "You have previously failed commit verification.\n" +
			"You still need to meet with a TA or a professor to gain credit for this phase."
	case first.PenaltyPct() <= 0:
		message = "You passed the commit verification on your first passing submission! You're good to go!"
	default:
		message = "Your commit verification was previously approved with a penalty. That penalty is being applied to this submission as well."
	}

	return &CommitVerificationReport{
		Result: &CommitVerificationResult{
			Verified:       verified,
			CachedResponse: true,
			PenaltyPct:     first.PenaltyPct(),
			FailureMessage: message,
			HeadHash:       v.headHash,
		},
	}, nil
}

func (v *commitVerifier) verifyRegularCommits(repo *gitRepo, lower, upper CommitThreshold) (*CommitVerificationReport, error) {
	commits, missingTail, err := repo.LogBetween(upper.HeadHash, lower.HeadHash)
	if err != nil {
		return nil, err
	}
	return v.verifyCountedCommits(commits, missingTail, lower, upper)
}

func (v *commitVerifier) verifyCountedCommits(commits []*RepoCommit, missingTail bool, lower, upper CommitThreshold) (*CommitVerificationReport, error) {
	minimumLines := v.job.verificationConfig.MinimumChangedLinesPerCommit
	excludeCommits := make(map[string]bool)

	for {
		commitsByDay := countCommitsByDay(commits, missingTail, lower, upper, excludeCommits, v.job.location)

		context := &CommitVerificationContext{
			Config:             v.job.verificationConfig,
			CommitsByDay:       commitsByDay,
			NumCommits:         commitsByDay.TotalCommits,
			DaysWithCommits:    commitsByDay.DaysWithCommits(),
			SignificantCommits: commitsByDay.SignificantCommits(minimumLines),
		}
		if err := v.strategy.Evaluate(context, v.job); err != nil {
			return nil, err
		}

		// Recount only when the strategy excludes commits it has not
		// already excluded; identical requests terminate the loop.
		grew := false
		for _, hash := range v.strategy.ExtendExcludeSet() {
			if !excludeCommits[hash] {
				excludeCommits[hash] = true
				grew = true
			}
		}
		if grew {
			continue
		}

		warnings := v.strategy.Warnings()
		errors := v.strategy.Errors()
		failureMessage := ""
		if !errors.Empty() {
			failureMessage = joinLines(errors.Messages)
		}

		result := &CommitVerificationResult{
			Verified:           errors.Empty(),
			TotalCommits:       context.NumCommits,
			SignificantCommits: context.SignificantCommits,
			NumDays:            context.DaysWithCommits,
			MissingTailHash:    commitsByDay.MissingTailHash,
			// Penalties are applied by staff upon approval of
			// unapproved submissions.
			PenaltyPct:      0,
			FailureMessage:  failureMessage,
			WarningMessages: warnings.Messages,
			MinThreshold:    lower.Timestamp,
			MaxThreshold:    upper.Timestamp,
			HeadHash:        upper.HeadHash,
			TailHash:        lower.HeadHash,
		}
		return &CommitVerificationReport{Context: context, Result: result}, nil
	}
}

// mostRecentPassingThreshold finds the lower bound of the commit
// range: the head commit of the newest passing submission among this
// and earlier graded phases. A pass recorded for a later phase never
// bounds an earlier one. When the bounding commit is gone (rebased
// away), the submission's own timestamp stands in for it.
func (v *commitVerifier) mostRecentPassingThreshold(repo *gitRepo, passing []*Submission) (CommitThreshold, error) {
	if len(passing) == 0 {
		return minCommitThreshold, nil
	}

	relevant := make(map[Phase]bool)
	for _, phase := range v.job.phase.PreviousGradedPhases() {
		relevant[phase] = true
	}

	var latest time.Time
	latestHash := ""
	found := false
	for _, sub := range passing {
		if !relevant[sub.Phase] {
			continue
		}
		found = true
		effective := sub.Timestamp
		if when, err := repo.CommitTime(sub.HeadHash); err == nil {
			effective = when
		}
		if latest.IsZero() || effective.After(latest) {
			latest = effective
			latestHash = sub.HeadHash
		}
	}
	if !found {
		return minCommitThreshold, nil
	}
	return CommitThreshold{Timestamp: latest, HeadHash: latestHash}, nil
}

// currentThreshold is the inclusive upper bound: the queue hand-in
// time padded with the clock-forgiveness window, plus the staged
// repo's head.
func (v *commitVerifier) currentThreshold() (CommitThreshold, error) {
	if v.job.handIn.IsZero() {
		return CommitThreshold{}, fmt.Errorf("current threshold cannot have a zero timestamp")
	}
	forgiveness := time.Duration(v.job.verificationConfig.ForgivenessMinutes) * time.Minute
	return CommitThreshold{
		Timestamp: v.job.handIn.Add(forgiveness),
		HeadHash:  v.headHash,
	}, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}
