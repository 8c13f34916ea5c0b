// Package recurrence computes the next qualifying run instant for a series
// cadence: a set of target weekdays at a fixed local time in an IANA zone.
package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoWeekdays means the target set was empty: a 7-day forward scan found
// nothing, which is a caller bug rather than a scheduling condition.
var ErrNoWeekdays = errors.New("no target weekdays configured")

// Next returns the first UTC instant at or after now whose localized weekday
// is in weekdays and whose localized time-of-day equals timeOfDay.
//
// startDate ("YYYY-MM-DD") is a civil date in tz, not UTC midnight: parsing
// it as UTC and localizing afterwards would shift it a day west of Greenwich.
func Next(startDate string, weekdays []time.Weekday, timeOfDay, tz string, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	var year int
	var month time.Month
	var day int
	if _, err := fmt.Sscanf(startDate, "%d-%d-%d", &year, &month, &day); err != nil {
		return time.Time{}, fmt.Errorf("parse start date %q: %w", startDate, err)
	}

	target := make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		target[d] = true
	}

	nowLocal := now.In(loc)
	candidate := time.Date(year, month, day, hour, minute, 0, 0, loc)

	// Candidate start is max(startDate, today). If today's slot has already
	// elapsed, weekday matching begins tomorrow.
	if candidate.Before(nowLocal) {
		candidate = time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), hour, minute, 0, 0, loc)
		if !candidate.After(nowLocal) {
			candidate = addDay(candidate, hour, minute, loc)
		}
	}

	for i := 0; i < 7; i++ {
		if target[candidate.Weekday()] {
			return candidate.UTC(), nil
		}
		candidate = addDay(candidate, hour, minute, loc)
	}
	return time.Time{}, ErrNoWeekdays
}

// addDay advances one civil day, re-anchoring the wall time so DST
// transitions cannot drift the time-of-day.
func addDay(t time.Time, hour, minute int, loc *time.Location) time.Time {
	next := t.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, loc)
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", s)
	}
	return hour, minute, nil
}

// ValidTimeOfDay reports whether s is an acceptable HH:MM value.
func ValidTimeOfDay(s string) bool {
	_, _, err := parseTimeOfDay(s)
	return err == nil
}

// ValidTimezone reports whether tz names a loadable IANA zone.
func ValidTimezone(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}
