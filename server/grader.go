package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	. "github.com/russross/autograder/types"
)

// Observer receives progress messages for one grading run. The
// websocket observer streams them to the student's browser; batch
// contexts use discardObserver.
type Observer interface {
	Update(message string)
	Warning(message string)
	Error(message string)
}

type discardObserver struct{}

func (discardObserver) Update(string)  {}
func (discardObserver) Warning(string) {}
func (discardObserver) Error(string)   {}

// Runner executes the course's compile, test, and quality checks
// against a checked-out repo and reports a rubric.
type Runner interface {
	Grade(ctx context.Context, dir string, phase Phase) (*Rubric, error)
}

// GradingJob carries everything one grading run needs. Due dates and
// lateness are resolved up front so the calendar and the strategies
// stay pure.
type GradingJob struct {
	netID   string
	phase   Phase
	repoURL string
	admin   bool
	handIn  time.Time

	dueDate   time.Time
	daysLate  int
	daysEarly int

	maxLateDays       int
	perDayLatePenalty float64

	verificationConfig CommitVerificationConfig
	location           *time.Location

	submissions SubmissionStore
	config      ConfigStore
	rubrics     RubricStore
	gradebook   GradeBook
	calendar    *Calendar
	runner      Runner
	observer    Observer
}

func newGradingJob(item *QueueItem, admin bool, deps *graderDeps, observer Observer) (*GradingJob, error) {
	if observer == nil {
		observer = discardObserver{}
	}
	job := &GradingJob{
		netID:       item.NetID,
		phase:       item.Phase,
		repoURL:     item.RepoURL,
		admin:       admin,
		handIn:      item.TimeAdded,
		location:    deps.location,
		submissions: deps.store,
		config:      deps.store,
		rubrics:     deps.store,
		gradebook:   deps.gradebook,
		runner:      deps.runner,
		observer:    observer,
	}

	// The holiday list is runtime-tunable, so the calendar is rebuilt
	// for every job rather than cached for the process lifetime.
	var err error
	if job.calendar, err = loadCalendar(job.config, job.location); err != nil {
		return nil, err
	}
	if job.maxLateDays, err = configInt(job.config, ConfigMaxLateDaysToPenalize, 5); err != nil {
		return nil, err
	}
	if job.perDayLatePenalty, err = configFloat(job.config, ConfigPerDayLatePenalty, 0.1); err != nil {
		return nil, err
	}
	if job.verificationConfig, err = loadVerificationConfig(job.config, job.phase); err != nil {
		return nil, err
	}
	return job, nil
}

// graderDeps are the process-wide collaborators shared by every job.
type graderDeps struct {
	store     *storeSet
	gradebook GradeBook
	runner    Runner
	location  *time.Location
}

// storeSet bundles the store interfaces so one backend can satisfy all
// of them while tests mix and match.
type storeSet struct {
	QueueStore
	SubmissionStore
	ConfigStore
	RubricStore
}

// loadVerificationConfig resolves the commit requirements for a phase:
// fixed per-phase thresholds plus the runtime-tunable knobs.
func loadVerificationConfig(config ConfigStore, phase Phase) (CommitVerificationConfig, error) {
	commits, days := phase.CommitThresholds()
	out := CommitVerificationConfig{
		RequiredCommits:         commits,
		RequiredDaysWithCommits: days,
	}

	var err error
	if out.MinimumChangedLinesPerCommit, err = configInt(config, ConfigLinesPerCommitRequired, 5); err != nil {
		return out, err
	}
	if out.ForgivenessMinutes, err = configInt(config, ConfigClockForgivenessMinutes, 3); err != nil {
		return out, err
	}
	penalty, err := configFloat(config, ConfigGitCommitPenalty, 0.1)
	if err != nil {
		return out, err
	}
	out.CommitVerificationPenaltyPct = int(penalty*100 + 0.5)
	return out, nil
}

// run executes the whole pipeline for one queue item: resolve the due
// date, clone, verify the commit history, run the graders, and score.
func (job *GradingJob) run(ctx context.Context) (*Submission, error) {
	if err := job.resolveDueDate(); err != nil {
		return nil, err
	}

	job.observer.Update("Cloning repository...")
	dir, err := os.MkdirTemp("", "grading-"+job.netID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %v", err)
	}
	defer os.RemoveAll(dir)

	repo, err := cloneRepo(ctx, job.repoURL, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %v", job.repoURL, err)
	}
	headHash, err := repo.HeadHash()
	if err != nil {
		return nil, err
	}

	verifier := newCommitVerifier(job, &defaultVerificationStrategy{})
	verifier.headHash = headHash
	report, err := verifier.verifyHistory(repo)
	if err != nil {
		return nil, err
	}

	job.observer.Update("Running graders...")
	rubric, err := job.runner.Grade(ctx, dir, job.phase)
	if err != nil {
		return nil, err
	}

	job.observer.Update("Scoring...")
	sub, err := (&scorer{job: job}).score(rubric, report)
	if err != nil {
		return nil, err
	}
	log.Printf("graded %s %s: passed=%v score=%.3f status=%s",
		job.netID, job.phase, sub.Passed, sub.Score, sub.VerifiedStatus)
	return sub, nil
}

// resolveDueDate fetches the student's due date from the gradebook and
// derives lateness. Ungraded phases and phases without a configured
// assignment are never late.
func (job *GradingJob) resolveDueDate() error {
	job.daysLate, job.daysEarly = 0, 0
	if !job.phase.Graded() {
		return nil
	}

	assignmentNum, err := configInt(job.config, ConfigAssignmentNumberKey(job.phase), 0)
	if err != nil {
		return err
	}
	if assignmentNum == 0 {
		return nil
	}

	due, err := job.gradebook.DueDate(assignmentNum, job.netID)
	if err != nil {
		return fmt.Errorf("failed to look up due date: %v", err)
	}
	if due.IsZero() {
		return nil
	}
	job.dueDate = due
	job.daysLate = job.calendar.DaysLateCapped(job.handIn, due, job.maxLateDays)
	job.daysEarly = job.calendar.DaysEarly(job.handIn, due)
	if job.daysLate > 0 {
		job.observer.Update(fmt.Sprintf("Submission is %d business day(s) past the due date", job.daysLate))
	}
	return nil
}
