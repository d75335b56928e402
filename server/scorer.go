package main

import (
	"fmt"
	"strconv"
	"time"

	. "github.com/russross/autograder/types"
)

// GradeBook is the course's external grade record. The one concrete
// implementation talks to Canvas; tests substitute a fake.
type GradeBook interface {
	// DueDate returns the student's due date for an assignment,
	// honoring any individual extension.
	DueDate(assignmentNum int, netID string) (time.Time, error)

	// CurrentScore returns the points currently recorded for the
	// student on an assignment, zero when ungraded.
	CurrentScore(assignmentNum int, netID string) (float64, error)

	// SubmitGrade records earned points with a per-category rubric
	// breakdown and a comment.
	SubmitGrade(assignmentNum int, netID string, earned float64, rubric *Rubric, config *RubricConfig, notes string) error
}

// scorer turns a graded rubric and a commit-verification verdict into
// a stored submission and, when allowed, a gradebook entry.
type scorer struct {
	job *GradingJob
}

// score is the final stage of the grading pipeline. Every path stores
// a submission row; only passing, approved submissions that improve
// the recorded score reach the gradebook.
func (s *scorer) score(rubric *Rubric, report *CommitVerificationReport) (*Submission, error) {
	rubricConfig, err := s.job.rubrics.RubricConfig(s.job.phase)
	if err != nil {
		return nil, err
	}
	if rubricConfig == nil {
		return nil, fmt.Errorf("no rubric configured for %s", s.job.phase)
	}
	if rubricConfig.TotalPossiblePoints() == 0 {
		return nil, fmt.Errorf("rubric for %s is worth no points", s.job.phase)
	}
	rubric.ConvertFractions(rubricConfig)

	// Admin runs and ungraded phases are recorded but never pushed.
	if s.job.admin || !s.job.phase.Graded() {
		sub, err := s.generateSubmission(rubric, report, "", rubric.ComputePassed(s.job.phase))
		if err != nil {
			return nil, err
		}
		return sub, s.saveSubmission(sub)
	}

	// The pass verdict comes from the pre-penalty scores. Lateness
	// reduces the score, never the verdict.
	passed := rubric.ComputePassed(s.job.phase)

	notes, err := s.applyLatePenalty(rubric)
	if err != nil {
		return nil, err
	}

	if !passed {
		sub, err := s.generateSubmission(rubric, report, notes, false)
		if err != nil {
			return nil, err
		}
		return sub, s.saveSubmission(sub)
	}

	if !report.Result.Verified {
		s.job.observer.Update("Submission passed, but the score is withheld pending commit approval")
		sub, err := s.generateSubmission(rubric, report, notes+report.Result.FailureMessage, true)
		if err != nil {
			return nil, err
		}
		return sub, s.saveSubmission(sub)
	}

	gradebookNotes, err := s.attemptSendToGradeBook(rubric, report, notes)
	if err != nil {
		return nil, err
	}
	sub, err := s.generateSubmission(rubric, report, gradebookNotes, true)
	if err != nil {
		return nil, err
	}
	return sub, s.saveSubmission(sub)
}

// applyLatePenalty rewrites every category score by the late
// multiplier, then lets an earlier, less-penalized passing submission
// donate its score category by category. A student who passed on time
// and resubmits late keeps the on-time credit for whatever did not
// regress.
func (s *scorer) applyLatePenalty(rubric *Rubric) (string, error) {
	daysLate := s.job.daysLate
	multiplier := 1 - float64(daysLate)*s.job.perDayLatePenalty
	if multiplier < 0 {
		multiplier = 0
	}

	for _, item := range rubric.Items {
		if item.Results == nil {
			continue
		}
		item.Results.RawScore = item.Results.Score
		item.Results.Score *= multiplier
	}

	if daysLate > 0 {
		if err := s.mergeResultsWithPrevious(rubric); err != nil {
			return "", err
		}
	}

	switch {
	case daysLate >= s.job.maxLateDays:
		return fmt.Sprintf("Late penalty maxed out: -%d%%\n", penaltyPercent(s.job.maxLateDays, s.job.perDayLatePenalty)), nil
	case daysLate > 0:
		return fmt.Sprintf("%d days late: -%d%%\n", daysLate, penaltyPercent(daysLate, s.job.perDayLatePenalty)), nil
	}
	return "", nil
}

func penaltyPercent(days int, perDay float64) int {
	return int(float64(days)*perDay*100 + 0.5)
}

// mergeResultsWithPrevious scans earlier passing submissions for this
// phase and keeps the higher penalized score wherever the earlier raw
// score was at least matched by the current attempt.
func (s *scorer) mergeResultsWithPrevious(rubric *Rubric) error {
	previous, err := s.job.submissions.ForPhase(s.job.netID, s.job.phase)
	if err != nil {
		return err
	}
	for _, prior := range previous {
		if !prior.Passed || prior.Rubric == nil {
			continue
		}
		for category, item := range rubric.Items {
			if item.Results == nil {
				continue
			}
			priorItem := prior.Rubric.Items[category]
			if priorItem == nil || priorItem.Results == nil {
				continue
			}
			if priorItem.Results.RawScore <= item.Results.RawScore && priorItem.Results.Score > item.Results.Score {
				item.Results.Score = priorItem.Results.Score
				item.Results.Notes = fmt.Sprintf("Deferring to less-penalized prior score of %s/%d\n%s",
					formatPoints(priorItem.Results.Score), int(priorItem.Results.PossiblePoints), priorItem.Results.Notes)
			}
		}
	}
	return nil
}

// attemptSendToGradeBook pushes the score unless it fails to beat the
// points already recorded. The score never goes down.
func (s *scorer) attemptSendToGradeBook(rubric *Rubric, report *CommitVerificationReport, notes string) (string, error) {
	rubricConfig, err := s.job.rubrics.RubricConfig(s.job.phase)
	if err != nil {
		return "", err
	}
	assignmentNum, err := configInt(s.job.config, ConfigAssignmentNumberKey(s.job.phase), 0)
	if err != nil {
		return "", err
	}
	if assignmentNum == 0 {
		return "", fmt.Errorf("no gradebook assignment configured for %s", s.job.phase)
	}

	earned := rubric.EarnedPoints()
	if report.Result.PenaltyPct > 0 {
		earned = ApplyPenaltyPct(earned, report.Result.PenaltyPct)
		notes += fmt.Sprintf("Commit history approved with a penalty of %d%%\n", report.Result.PenaltyPct)
	}

	existing, err := s.job.gradebook.CurrentScore(assignmentNum, s.job.netID)
	if err != nil {
		return "", err
	}
	if !s.job.phase.AlwaysSyncToGradeBook() && earned <= existing {
		notes += "Submission did not improve current score. Score not saved to Canvas.\n"
		return notes, nil
	}

	if err := s.job.gradebook.SubmitGrade(assignmentNum, s.job.netID, earned, rubric, rubricConfig, notes); err != nil {
		return "", fmt.Errorf("failed to record grade: %v", err)
	}
	return notes, nil
}

// generateSubmission builds the stored row. The stored score is a 0..1
// fraction of possible points so it survives rubric rescaling.
func (s *scorer) generateSubmission(rubric *Rubric, report *CommitVerificationReport, notes string, passed bool) (*Submission, error) {
	rubric.Passed = passed
	rubric.Notes = notes

	var status VerifiedStatus
	switch {
	case report.Result.CachedResponse:
		status = PreviouslyApproved
	case report.Result.Verified:
		status = ApprovedAutomatically
	default:
		status = Unapproved
	}

	score, err := s.fractionScore(rubric)
	if err != nil {
		return nil, err
	}
	var verification *ScoreVerification
	if report.Result.PenaltyPct > 0 {
		verification = &ScoreVerification{
			OriginalScore: score,
			PenaltyPct:    report.Result.PenaltyPct,
		}
		score = ApplyPenaltyPct(score, report.Result.PenaltyPct)
	}

	sub := &Submission{
		NetID:          s.job.netID,
		RepoURL:        s.job.repoURL,
		HeadHash:       report.Result.HeadHash,
		Timestamp:      s.job.handIn,
		Phase:          s.job.phase,
		Passed:         passed,
		Score:          score,
		RawScore:       s.rawFractionScore(rubric),
		Notes:          notes,
		Rubric:         rubric,
		Admin:          s.job.admin,
		VerifiedStatus: status,
		CommitContext:  report.Context,
		CommitResult:   report.Result,
		Verification:   verification,
	}
	return sub, nil
}

// fractionScore reduces earned points to a 0..1 fraction. A rubric
// with no possible points is a misconfiguration, and a score computed
// against it would be meaningless, so the run faults instead.
func (s *scorer) fractionScore(rubric *Rubric) (float64, error) {
	possible := s.possiblePoints(rubric)
	if possible == 0 {
		return 0, fmt.Errorf("total possible points for %s is 0", s.job.phase)
	}
	return rubric.EarnedPoints() / possible, nil
}

func (s *scorer) rawFractionScore(rubric *Rubric) float64 {
	possible := s.possiblePoints(rubric)
	if possible == 0 {
		return 0
	}
	total := 0.0
	for _, item := range rubric.Items {
		if item.Results != nil {
			total += item.Results.RawScore
		}
	}
	return total / possible
}

func (s *scorer) possiblePoints(rubric *Rubric) float64 {
	total := 0.0
	for _, item := range rubric.Items {
		if item.Results != nil {
			total += item.Results.PossiblePoints
		}
	}
	return total
}

// saveSubmission stores the result. Re-grading the same head for the
// same phase supersedes the earlier row instead of duplicating it.
func (s *scorer) saveSubmission(sub *Submission) error {
	if err := sub.Normalize(time.Now()); err != nil {
		return err
	}
	existing, err := s.job.submissions.ForPhase(sub.NetID, sub.Phase)
	if err != nil {
		return err
	}
	for _, prior := range existing {
		if prior.SameAttempt(sub) {
			sub.ID = prior.ID
			return s.job.submissions.Update(sub)
		}
	}
	return s.job.submissions.Insert(sub)
}

func formatPoints(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// approveSubmissions is the staff sign-off on a withheld score. Every
// passing submission for the phase is re-stamped with the decision so
// a later re-grade still sees the approval, and the best resulting
// score is pushed to the gradebook.
func approveSubmissions(submissions SubmissionStore, config ConfigStore, gradebook GradeBook, netID string, phase Phase, approval ScoreVerification) ([]*Submission, error) {
	subs, err := submissions.ForPhase(netID, phase)
	if err != nil {
		return nil, err
	}

	var updated []*Submission
	best := -1.0
	for _, sub := range subs {
		if !sub.Passed {
			continue
		}
		approved := sub.UpdateApproval(approval)
		if err := submissions.Update(approved); err != nil {
			return nil, err
		}
		updated = append(updated, approved)
		if approved.Score > best {
			best = approved.Score
		}
	}
	if len(updated) == 0 {
		return nil, fmt.Errorf("no passing submissions to approve for %s %s", netID, phase)
	}

	assignmentNum, err := configInt(config, ConfigAssignmentNumberKey(phase), 0)
	if err != nil {
		return nil, err
	}
	if assignmentNum == 0 || gradebook == nil {
		return updated, nil
	}

	// The approval penalty applies to points the same way it applied
	// to the stored fraction.
	for _, sub := range updated {
		if sub.Score != best || sub.Rubric == nil {
			continue
		}
		earned := ApplyPenaltyPct(sub.Rubric.EarnedPoints(), approval.PenaltyPct)
		notes := fmt.Sprintf("Commit history approved by %s", approval.ApprovingNetID)
		if approval.PenaltyPct > 0 {
			notes += fmt.Sprintf(" with a penalty of %d%%", approval.PenaltyPct)
		}
		if err := gradebook.SubmitGrade(assignmentNum, netID, earned, sub.Rubric, nil, notes); err != nil {
			return nil, fmt.Errorf("approved locally but failed to record grade: %v", err)
		}
		break
	}
	return updated, nil
}
