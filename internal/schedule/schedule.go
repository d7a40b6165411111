// Package schedule parses and evaluates chore schedules. The grammar is
// deliberately small:
//
//	daily
//	weekly:mo,we,fr
//	monthly:15
//
// Weekday codes are the two-letter English abbreviations. Monthly days
// past the end of a short month clamp to its last day, so monthly:31 is
// due on Feb 28.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Freq string

const (
	Daily   Freq = "daily"
	Weekly  Freq = "weekly"
	Monthly Freq = "monthly"
)

type Rule struct {
	Freq     Freq
	Weekdays []time.Weekday // weekly only
	MonthDay int            // monthly only, 1..31
}

var weekdayCodes = map[string]time.Weekday{
	"su": time.Sunday,
	"mo": time.Monday,
	"tu": time.Tuesday,
	"we": time.Wednesday,
	"th": time.Thursday,
	"fr": time.Friday,
	"sa": time.Saturday,
}

// Parse reads a schedule string. The empty string is not a valid rule;
// callers treat it as "one-off" before parsing.
func Parse(s string) (Rule, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	freq, arg, _ := strings.Cut(s, ":")

	switch Freq(freq) {
	case Daily:
		if arg != "" {
			return Rule{}, fmt.Errorf("daily takes no argument, got %q", arg)
		}
		return Rule{Freq: Daily}, nil

	case Weekly:
		if arg == "" {
			return Rule{}, fmt.Errorf("weekly needs at least one weekday")
		}
		var days []time.Weekday
		seen := make(map[time.Weekday]bool)
		for _, code := range strings.Split(arg, ",") {
			wd, ok := weekdayCodes[strings.TrimSpace(code)]
			if !ok {
				return Rule{}, fmt.Errorf("unknown weekday %q", code)
			}
			if !seen[wd] {
				seen[wd] = true
				days = append(days, wd)
			}
		}
		return Rule{Freq: Weekly, Weekdays: days}, nil

	case Monthly:
		day, err := strconv.Atoi(arg)
		if err != nil || day < 1 || day > 31 {
			return Rule{}, fmt.Errorf("monthly needs a day 1-31, got %q", arg)
		}
		return Rule{Freq: Monthly, MonthDay: day}, nil

	default:
		return Rule{}, fmt.Errorf("unknown schedule %q", s)
	}
}

// DueOn reports whether the rule has an occurrence on the given calendar
// day.
func (r Rule) DueOn(day time.Time) bool {
	switch r.Freq {
	case Daily:
		return true
	case Weekly:
		for _, wd := range r.Weekdays {
			if day.Weekday() == wd {
				return true
			}
		}
		return false
	case Monthly:
		return day.Day() == clampDay(r.MonthDay, day)
	}
	return false
}

// LastDue returns the most recent occurrence at or before t, at start of
// day in t's location. The zero time means no occurrence exists (an empty
// weekly rule).
func (r Rule) LastDue(t time.Time) time.Time {
	day := StartOfDay(t)
	switch r.Freq {
	case Daily:
		return day

	case Weekly:
		if len(r.Weekdays) == 0 {
			return time.Time{}
		}
		for i := 0; i < 7; i++ {
			if r.DueOn(day) {
				return day
			}
			day = day.AddDate(0, 0, -1)
		}
		return time.Time{}

	case Monthly:
		due := time.Date(day.Year(), day.Month(), clampDay(r.MonthDay, day), 0, 0, 0, 0, day.Location())
		if due.After(day) {
			prev := day.AddDate(0, -1, 0)
			due = time.Date(prev.Year(), prev.Month(), clampDay(r.MonthDay, prev), 0, 0, 0, 0, day.Location())
		}
		return due
	}
	return time.Time{}
}

// NextDue returns the first occurrence strictly after t, at start of day.
func (r Rule) NextDue(t time.Time) time.Time {
	day := StartOfDay(t).AddDate(0, 0, 1)
	switch r.Freq {
	case Daily:
		return day
	case Weekly:
		if len(r.Weekdays) == 0 {
			return time.Time{}
		}
		for i := 0; i < 7; i++ {
			if r.DueOn(day) {
				return day
			}
			day = day.AddDate(0, 0, 1)
		}
		return time.Time{}
	case Monthly:
		for i := 0; i < 32; i++ {
			if r.DueOn(day) {
				return day
			}
			day = day.AddDate(0, 0, 1)
		}
		return time.Time{}
	}
	return time.Time{}
}

// clampDay pulls an out-of-range month day back to the month's last day.
func clampDay(want int, in time.Time) int {
	last := time.Date(in.Year(), in.Month()+1, 0, 0, 0, 0, 0, in.Location()).Day()
	if want > last {
		return last
	}
	return want
}

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
