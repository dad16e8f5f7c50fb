package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCompute_ClampsToHorizon(t *testing.T) {
	now := time.Date(2025, 7, 1, 15, 30, 0, 0, time.UTC)

	w := Compute(now, 7, 365)

	assert.Equal(t, date(2025, 6, 24), w.Start)
	assert.Equal(t, date(2026, 1, 1), w.End, "365 days forward must stop at the six month cap")
	assert.False(t, w.End.After(DefaultPolicy.Horizon(now)))
}

func TestCompute_HonorsSmallerWindow(t *testing.T) {
	now := date(2025, 9, 10)

	w := Compute(now, 0, 14)

	assert.Equal(t, date(2025, 9, 10), w.Start)
	assert.Equal(t, date(2025, 9, 24), w.End)
}

func TestHorizon_NextCycleEndBindsBeforeCap(t *testing.T) {
	p := Policy{HorizonMonths: 24, SeasonStartMonth: time.August, SeasonEndMonth: time.February}

	// In-season 2024: next cycle is the 2025 season, ending with February 2026
	assert.Equal(t, date(2026, 3, 1), p.Horizon(date(2024, 11, 3)))
	// Off-season before August 2025 still counts 2024 as the current cycle
	assert.Equal(t, date(2026, 3, 1), p.Horizon(date(2025, 5, 1)))
}

func TestCycleYear(t *testing.T) {
	assert.Equal(t, 2024, DefaultPolicy.CycleYear(date(2025, 2, 9)))
	assert.Equal(t, 2024, DefaultPolicy.CycleYear(date(2025, 7, 31)))
	assert.Equal(t, 2025, DefaultPolicy.CycleYear(date(2025, 8, 1)))
}

func TestCycleEnd_SingleCalendarYear(t *testing.T) {
	p := Policy{HorizonMonths: 6, SeasonStartMonth: time.March, SeasonEndMonth: time.October}
	assert.Equal(t, date(2025, 11, 1), p.CycleEnd(2025))

	dec := Policy{HorizonMonths: 6, SeasonStartMonth: time.January, SeasonEndMonth: time.December}
	assert.Equal(t, date(2026, 1, 1), dec.CycleEnd(2025))
}

func TestCompute_NegativeDaysAreZero(t *testing.T) {
	now := date(2025, 9, 10)

	w := Compute(now, -3, -3)

	assert.Equal(t, now, w.Start)
	assert.True(t, w.IsEmpty())
}

func TestClamp(t *testing.T) {
	now := date(2025, 7, 1)

	w := DefaultPolicy.Clamp(now, date(2025, 9, 1), date(2026, 9, 1))
	assert.Equal(t, date(2025, 9, 1), w.Start)
	assert.Equal(t, date(2026, 1, 1), w.End)

	past := DefaultPolicy.Clamp(now, date(2023, 9, 1), date(2024, 2, 1))
	assert.Equal(t, date(2024, 2, 1), past.End, "Historical ranges are left alone")
}
