package types

import (
	"fmt"
	"strings"
)

// Phase identifies one graded unit of the course. Most phases are
// numbered project milestones; Quality and GitHub are standalone
// checks with their own rubrics.
type Phase string

const (
	Phase0       Phase = "Phase0"
	Phase1       Phase = "Phase1"
	Phase3       Phase = "Phase3"
	Phase4       Phase = "Phase4"
	Phase5       Phase = "Phase5"
	Phase6       Phase = "Phase6"
	PhaseQuality Phase = "Quality"
	PhaseGitHub  Phase = "GitHub"
)

var AllPhases = []Phase{Phase0, Phase1, Phase3, Phase4, Phase5, Phase6, PhaseQuality, PhaseGitHub}

func ParsePhase(s string) (Phase, error) {
	for _, elt := range AllPhases {
		if strings.EqualFold(string(elt), s) {
			return elt, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Graded reports whether a phase carries a gradebook assignment.
// Quality runs are informational only.
func (phase Phase) Graded() bool {
	return phase != PhaseQuality
}

// VerifyCommits reports whether grading this phase inspects the
// student's git history.
func (phase Phase) VerifyCommits() bool {
	return phase.Graded()
}

// RequiresStaffApprovalForCommits reports whether a commit-history
// failure on this phase withholds the score until course staff approve
// it with a penalty. Phases without staff sign-off fail quietly into a
// reduced git rubric score.
func (phase Phase) RequiresStaffApprovalForCommits() bool {
	switch phase {
	case Phase0, Phase1, Phase3, Phase4, Phase5, Phase6:
		return true
	}
	return false
}

// HasCommitPenalty reports whether the git rubric category is worth
// points on this phase.
func (phase Phase) HasCommitPenalty() bool {
	switch phase {
	case Phase0, Phase1, Phase3, Phase4, Phase5, Phase6:
		return true
	}
	return false
}

// AlwaysSyncToGradeBook marks phases whose scores are pushed even when
// they do not beat the recorded gradebook score.
func (phase Phase) AlwaysSyncToGradeBook() bool {
	return phase == PhaseGitHub
}

// CommitThresholds returns the required commit count and required
// distinct days with commits for a phase.
func (phase Phase) CommitThresholds() (commits, days int) {
	switch phase {
	case Phase0, Phase1, Phase4:
		return 8, 2
	case Phase3, Phase5, Phase6:
		return 12, 3
	case PhaseGitHub:
		return 2, 0
	}
	return 0, 0
}

// PreviousGradedPhases lists the graded phases at or before this one,
// newest first. Used to find the most recent passing submission that
// bounds a commit range.
func (phase Phase) PreviousGradedPhases() []Phase {
	order := []Phase{PhaseGitHub, Phase0, Phase1, Phase3, Phase4, Phase5, Phase6}
	pos := -1
	for i, elt := range order {
		if elt == phase {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}
	var out []Phase
	for i := pos; i >= 0; i-- {
		out = append(out, order[i])
	}
	return out
}
