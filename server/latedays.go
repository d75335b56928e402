package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	. "github.com/russross/autograder/types"
)

// DefaultHolidayDateFormat accepts strings like "9/16/2024".
const DefaultHolidayDateFormat = "1/2/2006"

// Calendar answers late-day and early-day questions against a set of
// public holidays. The holiday set must be initialized before counting
// late days; counting without it is a programming error and panics
// rather than silently charging the wrong penalty.
type Calendar struct {
	holidays map[string]bool
	location *time.Location
}

func NewCalendar(location *time.Location) *Calendar {
	if location == nil {
		location = time.Local
	}
	return &Calendar{location: location}
}

// InitializeEmptyHolidays marks the holiday set as present but empty.
func (cal *Calendar) InitializeEmptyHolidays() {
	cal.holidays = make(map[string]bool)
}

// InitializeHolidays parses an encoded holiday list and installs it.
// The encoding is either a single line of dates separated by any mix
// of spaces, commas, and semicolons, or a multi-line block where only
// the first word of each line is read as a date and the rest of the
// line is a comment. Lines starting with # and words that fail to
// parse are skipped with a logged warning, not an error.
func (cal *Calendar) InitializeHolidays(encoded, dateFormat string, quietWarnings bool) map[string]bool {
	if dateFormat == "" {
		dateFormat = DefaultHolidayDateFormat
	}

	var words []string
	if strings.Contains(encoded, "\n") {
		for _, line := range strings.Split(encoded, "\n") {
			fields := strings.Fields(line)
			if len(fields) > 0 {
				words = append(words, fields[0])
			}
		}
	} else {
		words = strings.FieldsFunc(encoded, func(r rune) bool {
			return r == ' ' || r == ',' || r == ';'
		})
	}

	holidays := make(map[string]bool)
	for _, word := range words {
		if word == "" || word[0] == '#' {
			continue
		}
		when, err := time.ParseInLocation(dateFormat, word, cal.location)
		if err != nil {
			if !quietWarnings {
				log.Printf("skipping unrecognized holiday date string: %s", word)
			}
			continue
		}
		holidays[when.Format("2006-01-02")] = true
	}

	cal.holidays = holidays
	return holidays
}

// DaysLate counts the business days between the due date and the
// hand-in date. Saturdays, Sundays, and configured holidays do not
// count. When the due date itself lands on a holiday, no late day is
// charged until after the contiguous non-business days that follow it.
// Returns 0 when the submission is on time.
func (cal *Calendar) DaysLate(handIn, due time.Time) int {
	if cal.holidays == nil {
		panic("public holidays have not been initialized; call InitializeHolidays before counting late days")
	}

	daysLate := 0
	due = due.In(cal.location)
	for handIn.After(due) {
		if wd := due.Weekday(); wd != time.Saturday && wd != time.Sunday && !cal.isHoliday(due) {
			daysLate++
		}
		due = due.AddDate(0, 0, 1)
	}
	return daysLate
}

// DaysLateCapped applies the configured maximum to DaysLate.
func (cal *Calendar) DaysLateCapped(handIn, due time.Time, maxLateDays int) int {
	daysLate := cal.DaysLate(handIn, due)
	if daysLate > maxLateDays {
		return maxLateDays
	}
	return daysLate
}

// DaysEarly counts the number of full 24-hour periods between the
// hand-in date and the due date. Holidays are ignored here; any full
// day counts.
func (cal *Calendar) DaysEarly(handIn, due time.Time) int {
	if handIn.After(due) {
		return 0
	}
	return int(due.Sub(handIn).Hours() / 24)
}

func (cal *Calendar) isHoliday(when time.Time) bool {
	return cal.holidays[when.In(cal.location).Format("2006-01-02")]
}

// loadCalendar builds a Calendar from the runtime config table.
func loadCalendar(config ConfigStore, location *time.Location) (*Calendar, error) {
	cal := NewCalendar(location)
	encoded, err := config.GetString(ConfigHolidayList)
	if err != nil {
		return nil, fmt.Errorf("loading holiday list: %v", err)
	}
	cal.InitializeHolidays(encoded, DefaultHolidayDateFormat, false)
	return cal, nil
}
