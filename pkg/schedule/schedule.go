package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next time a recurring dispatch or health-check
// activity should run, given the last time it ran.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule fires at a fixed interval.
type everySchedule struct {
	interval time.Duration
}

// Every returns a Schedule that fires every interval, measured from the
// last run. Used for the per-agent dispatch cadence and health-check
// cadence (§4.5, §4.7).
func Every(interval time.Duration) Schedule {
	return everySchedule{interval: interval}
}

func (s everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// dailySchedule fires once a day at a fixed hour/minute (UTC).
type dailySchedule struct {
	hour, minute int
}

// Daily returns a Schedule that fires once per day at hour:minute UTC.
func Daily(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

func (s dailySchedule) Next(from time.Time) time.Time {
	candidate := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// weeklySchedule fires once a week on a fixed weekday and time (UTC).
type weeklySchedule struct {
	weekday      time.Weekday
	hour, minute int
}

// Weekly returns a Schedule that fires once per week on weekday at hour:minute UTC.
func Weekly(weekday time.Weekday, hour, minute int) Schedule {
	return weeklySchedule{weekday: weekday, hour: hour, minute: minute}
}

func (s weeklySchedule) Next(from time.Time) time.Time {
	candidate := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	daysAhead := (int(s.weekday) - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, daysAhead)
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// cronSchedule wraps a github.com/robfig/cron/v3 expression.
type cronSchedule struct {
	spec cron.Schedule
}

// Cron returns a Schedule driven by a standard five-field cron expression
// or a descriptor such as "@hourly" or "@every 1m".
// Panics on a malformed expression, matching the teacher's fail-fast
// behavior for configuration errors discovered at startup.
func Cron(expr string) Schedule {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		panic("schedule: invalid cron expression: " + err.Error())
	}
	return cronSchedule{spec: spec}
}

func (s cronSchedule) Next(from time.Time) time.Time {
	return s.spec.Next(from)
}
