package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/russross/autograder/types"
)

func testCalendar(t *testing.T, holidays string) *Calendar {
	t.Helper()
	cal := NewCalendar(time.UTC)
	if holidays == "" {
		cal.InitializeEmptyHolidays()
	} else {
		cal.InitializeHolidays(holidays, DefaultHolidayDateFormat, true)
	}
	return cal
}

func TestDaysLateOnTime(t *testing.T) {
	cal := testCalendar(t, "")
	due := time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC) // Friday
	handIn := due.Add(-2 * time.Hour)

	assert.Equal(t, 0, cal.DaysLate(handIn, due))
	assert.Equal(t, 0, cal.DaysLate(due, due))
}

func TestDaysLateSkipsWeekend(t *testing.T) {
	cal := testCalendar(t, "")
	due := time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC)    // Friday
	handIn := time.Date(2024, 9, 23, 10, 0, 0, 0, time.UTC) // Monday morning
	assert.Equal(t, 1, cal.DaysLate(handIn, due))

	handIn = time.Date(2024, 9, 24, 10, 0, 0, 0, time.UTC) // Tuesday morning
	assert.Equal(t, 2, cal.DaysLate(handIn, due))
}

func TestDaysLateHolidayDueDate(t *testing.T) {
	// Thanksgiving 2024: due on the holiday itself charges nothing
	// until the business days resume.
	cal := testCalendar(t, "11/28/2024 11/29/2024")
	due := time.Date(2024, 11, 28, 23, 59, 0, 0, time.UTC) // Thursday, holiday

	handIn := time.Date(2024, 11, 29, 12, 0, 0, 0, time.UTC) // Friday, holiday
	assert.Equal(t, 0, cal.DaysLate(handIn, due))

	handIn = time.Date(2024, 12, 2, 12, 0, 0, 0, time.UTC) // the following Monday
	assert.Equal(t, 0, cal.DaysLate(handIn, due))

	handIn = time.Date(2024, 12, 3, 12, 0, 0, 0, time.UTC) // Tuesday
	assert.Equal(t, 1, cal.DaysLate(handIn, due))
}

func TestDaysLateMonotonicAndCapped(t *testing.T) {
	cal := testCalendar(t, "")
	due := time.Date(2024, 9, 2, 17, 0, 0, 0, time.UTC) // Monday

	previous := 0
	for day := 1; day <= 30; day++ {
		handIn := due.AddDate(0, 0, day)
		late := cal.DaysLate(handIn, due)
		assert.GreaterOrEqual(t, late, previous, "lateness must never decrease as hand-in slips")
		previous = late
	}

	handIn := due.AddDate(0, 0, 60)
	assert.Equal(t, 10, cal.DaysLateCapped(handIn, due, 10))
}

func TestDaysEarly(t *testing.T) {
	cal := testCalendar(t, "")
	due := time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, cal.DaysEarly(due.Add(-49*time.Hour), due))
	assert.Equal(t, 0, cal.DaysEarly(due.Add(-23*time.Hour), due))
	assert.Equal(t, 0, cal.DaysEarly(due.Add(time.Hour), due))
}

func TestInitializeHolidaysSingleLine(t *testing.T) {
	cal := NewCalendar(time.UTC)
	holidays := cal.InitializeHolidays("9/16/2024, 11/28/2024;1/1/2025 garbage", "", true)

	require.Len(t, holidays, 3)
	assert.True(t, holidays["2024-09-16"])
	assert.True(t, holidays["2024-11-28"])
	assert.True(t, holidays["2025-01-01"])
}

func TestInitializeHolidaysMultiline(t *testing.T) {
	cal := NewCalendar(time.UTC)
	encoded := "9/16/2024 Labor Day observed\n" +
		"# a comment line\n" +
		"11/28/2024 Thanksgiving\n" +
		"\n" +
		"not-a-date something\n"
	holidays := cal.InitializeHolidays(encoded, "", true)

	require.Len(t, holidays, 2)
	assert.True(t, holidays["2024-09-16"])
	assert.True(t, holidays["2024-11-28"])
}

func TestLoadCalendarReadsConfiguredHolidays(t *testing.T) {
	mem := newMemoryStore()
	require.NoError(t, mem.SetValue(ConfigHolidayList, "11/28/2024 11/29/2024"))

	cal, err := loadCalendar(mem, time.UTC)
	require.NoError(t, err)

	due := time.Date(2024, 11, 27, 23, 59, 0, 0, time.UTC)  // Wednesday
	handIn := time.Date(2024, 12, 2, 12, 0, 0, 0, time.UTC) // the following Monday
	assert.Equal(t, 1, cal.DaysLate(handIn, due))
}

func TestDaysLatePanicsWithoutHolidays(t *testing.T) {
	cal := NewCalendar(time.UTC)
	due := time.Date(2024, 9, 20, 17, 0, 0, 0, time.UTC)

	assert.Panics(t, func() {
		cal.DaysLate(due.AddDate(0, 0, 1), due)
	})
}
