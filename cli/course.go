package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	. "github.com/russross/autograder/types"
	"github.com/spf13/cobra"
	"gopkg.in/gcfg.v1"
)

// CourseConfigFile is the on-disk course definition. Rubric items are
// encoded one per line as "category|points|gradebook rubric id|criteria".
type CourseConfigFile struct {
	Course struct {
		Number            string
		MaxLateDays       int
		PerDayLatePenalty float64
		GitCommitPenalty  float64
		LinesPerCommit    int
		ClockForgiveness  int
	}
	Holidays struct {
		Date []string
	}
	Phase map[string]*struct {
		Assignment int
		Item       []string
	}
}

func CommandCourse(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 1 {
		log.Fatalf("Usage: %s course <course.cfg>", cmd.Root().Name())
	}

	var cfg CourseConfigFile
	if err := gcfg.ReadFileInto(&cfg, args[0]); err != nil {
		log.Fatalf("failed to read course config %s: %v", args[0], err)
	}

	entries := map[string]string{}
	if cfg.Course.Number != "" {
		entries[ConfigCourseNumber] = cfg.Course.Number
	}
	if cfg.Course.MaxLateDays > 0 {
		entries[ConfigMaxLateDaysToPenalize] = strconv.Itoa(cfg.Course.MaxLateDays)
	}
	if cfg.Course.PerDayLatePenalty > 0 {
		entries[ConfigPerDayLatePenalty] = strconv.FormatFloat(cfg.Course.PerDayLatePenalty, 'f', -1, 64)
	}
	if cfg.Course.GitCommitPenalty > 0 {
		entries[ConfigGitCommitPenalty] = strconv.FormatFloat(cfg.Course.GitCommitPenalty, 'f', -1, 64)
	}
	if cfg.Course.LinesPerCommit > 0 {
		entries[ConfigLinesPerCommitRequired] = strconv.Itoa(cfg.Course.LinesPerCommit)
	}
	if cfg.Course.ClockForgiveness > 0 {
		entries[ConfigClockForgivenessMinutes] = strconv.Itoa(cfg.Course.ClockForgiveness)
	}
	if len(cfg.Holidays.Date) > 0 {
		entries[ConfigHolidayList] = strings.Join(cfg.Holidays.Date, " ")
	}

	for name, section := range cfg.Phase {
		phase, err := ParsePhase(name)
		if err != nil {
			log.Fatalf("course config: %v", err)
		}
		if section.Assignment > 0 {
			entries[ConfigAssignmentNumberKey(phase)] = strconv.Itoa(section.Assignment)
		}
		if len(section.Item) > 0 {
			pushRubric(phase, section.Item)
		}
	}

	for key, value := range entries {
		entry := &ConfigEntry{Key: key, Value: value}
		mustPutObject("/config", nil, entry, entry)
		fmt.Printf("%s=%s\n", entry.Key, entry.Value)
	}
}

func pushRubric(phase Phase, items []string) {
	config := &RubricConfig{
		Phase: phase,
		Items: make(map[RubricCategory]*RubricConfigItem),
	}
	for _, line := range items {
		fields := strings.SplitN(line, "|", 4)
		if len(fields) != 4 {
			log.Fatalf("bad rubric item for %s: %q (want category|points|rubric id|criteria)", phase, line)
		}
		points, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			log.Fatalf("bad rubric points for %s: %q", phase, fields[1])
		}
		category := RubricCategory(strings.TrimSpace(fields[0]))
		config.Items[category] = &RubricConfigItem{
			Category:          category,
			Points:            points,
			GradeBookRubricID: strings.TrimSpace(fields[2]),
			Criteria:          strings.TrimSpace(fields[3]),
		}
	}

	mustPutObject("/rubrics", nil, config, config)
	fmt.Printf("pushed rubric for %s (%d items)\n", phase, len(config.Items))
}
