// Package window computes the date range requested from the provider on each sync.
package window

import (
	"time"

	"pickem/ingestion/internal/models"
)

// Policy describes the provider's competitive calendar and how far ahead it publishes
type Policy struct {
	// HorizonMonths is the absolute cap on how far past now a window may reach
	HorizonMonths int
	// SeasonStartMonth is the month a competitive cycle begins (August for the NFL)
	SeasonStartMonth time.Month
	// SeasonEndMonth is the last month of a cycle, in the following calendar
	// year when it precedes SeasonStartMonth
	SeasonEndMonth time.Month
}

// DefaultPolicy matches the NFL calendar: Aug through Feb, six months ahead at most
var DefaultPolicy = Policy{
	HorizonMonths:    6,
	SeasonStartMonth: time.August,
	SeasonEndMonth:   time.February,
}

// CycleYear returns the season year whose cycle contains t, or the most recent
// one to have started when t falls in the off-season
func (p Policy) CycleYear(t time.Time) int {
	if t.Month() >= p.SeasonStartMonth {
		return t.Year()
	}
	return t.Year() - 1
}

// CycleEnd returns the exclusive end of the cycle for season year S: the first
// day of the month after SeasonEndMonth
func (p Policy) CycleEnd(year int) time.Time {
	endYear := year
	if p.SeasonEndMonth < p.SeasonStartMonth {
		endYear++
	}
	return time.Date(endYear, p.SeasonEndMonth+1, 1, 0, 0, 0, 0, time.UTC)
}

// Horizon is the furthest date the provider is expected to have data for:
// the end of the next cycle, bounded by HorizonMonths from now
func (p Policy) Horizon(now time.Time) time.Time {
	now = now.UTC()
	nextCycleEnd := p.CycleEnd(p.CycleYear(now) + 1)

	months := p.HorizonMonths
	if months < 1 {
		months = DefaultPolicy.HorizonMonths
	}
	limit := truncateDay(now).AddDate(0, months, 0)

	if limit.Before(nextCycleEnd) {
		return limit
	}
	return nextCycleEnd
}

// Compute returns the [start, end) window for a sync run at now.
// Negative day counts are treated as zero.
func (p Policy) Compute(now time.Time, daysBack, daysForward int) models.SyncWindow {
	if daysBack < 0 {
		daysBack = 0
	}
	if daysForward < 0 {
		daysForward = 0
	}

	today := truncateDay(now.UTC())
	start := today.AddDate(0, 0, -daysBack)
	end := today.AddDate(0, 0, daysForward)

	if horizon := p.Horizon(now); end.After(horizon) {
		end = horizon
	}
	if end.Before(start) {
		end = start
	}

	return models.SyncWindow{Start: start, End: end}
}

// Clamp bounds an explicitly requested range to the provider horizon
func (p Policy) Clamp(now, start, end time.Time) models.SyncWindow {
	start = truncateDay(start.UTC())
	end = truncateDay(end.UTC())

	if horizon := p.Horizon(now); end.After(horizon) {
		end = horizon
	}
	if end.Before(start) {
		end = start
	}
	return models.SyncWindow{Start: start, End: end}
}

// Compute applies DefaultPolicy
func Compute(now time.Time, daysBack, daysForward int) models.SyncWindow {
	return DefaultPolicy.Compute(now, daysBack, daysForward)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
