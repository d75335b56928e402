package types

// Keys for the runtime configuration table. These are the knobs course
// staff tune during the semester without restarting the server.
const (
	ConfigStudentSubmissionsEnabled = "STUDENT_SUBMISSIONS_ENABLED"
	ConfigGraderShutdownDate        = "GRADER_SHUTDOWN_DATE"
	ConfigBannerMessage             = "BANNER_MESSAGE"
	ConfigBannerLink                = "BANNER_LINK"
	ConfigBannerColor               = "BANNER_COLOR"
	ConfigBannerExpiration          = "BANNER_EXPIRATION"
	ConfigMaxLateDaysToPenalize     = "MAX_LATE_DAYS_TO_PENALIZE"
	ConfigPerDayLatePenalty         = "PER_DAY_LATE_PENALTY"
	ConfigGitCommitPenalty          = "GIT_COMMIT_PENALTY"
	ConfigLinesPerCommitRequired    = "LINES_PER_COMMIT_REQUIRED"
	ConfigClockForgivenessMinutes   = "CLOCK_FORGIVENESS_MINUTES"
	ConfigHolidayList               = "HOLIDAY_LIST"
	ConfigCourseNumber              = "COURSE_NUMBER"
)

// ConfigAssignmentNumberKey returns the config key holding the
// gradebook assignment number for a phase.
func ConfigAssignmentNumberKey(phase Phase) string {
	switch phase {
	case Phase0:
		return "PHASE0_ASSIGNMENT_NUMBER"
	case Phase1:
		return "PHASE1_ASSIGNMENT_NUMBER"
	case Phase3:
		return "PHASE3_ASSIGNMENT_NUMBER"
	case Phase4:
		return "PHASE4_ASSIGNMENT_NUMBER"
	case Phase5:
		return "PHASE5_ASSIGNMENT_NUMBER"
	case Phase6:
		return "PHASE6_ASSIGNMENT_NUMBER"
	case PhaseGitHub:
		return "GITHUB_ASSIGNMENT_NUMBER"
	}
	return ""
}

// ConfigEntry is one row of the runtime configuration table.
type ConfigEntry struct {
	Key   string `json:"key" meddler:"key"`
	Value string `json:"value" meddler:"value"`
}
