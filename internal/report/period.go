package report

import (
	"fmt"
	"time"

	"registro/internal/core"
)

const (
	ModeMonth  Mode = "month"
	ModeCustom Mode = "custom"
	ModeCycle  Mode = "cycle"
)

// FallbackCycleStart is used when settings carry no billing cycle start at
// all (accounts created before the cycle feature existed).
const FallbackCycleStart core.Date = "2024-01-01"

type (
	Mode string

	// Selection is one of the three reporting windows, reduced to a date
	// predicate. Month matches a calendar month, custom an inclusive range,
	// cycle everything on or after the billing cycle start.
	Selection struct {
		Mode Mode

		// Month mode
		Year  int
		Month time.Month

		// Custom mode
		Start core.Date
		End   core.Date

		// Cycle mode
		CycleStart core.Date
	}
)

func (m Mode) Valid() bool {
	switch m {
	case ModeMonth, ModeCustom, ModeCycle:
		return true
	}
	return false
}

// MonthSelection selects one calendar month.
func MonthSelection(year int, month time.Month) Selection {
	return Selection{Mode: ModeMonth, Year: year, Month: month}
}

// CurrentMonth selects the month containing now.
func CurrentMonth(now time.Time) Selection {
	return MonthSelection(now.Year(), now.Month())
}

// Shift moves a month selection by delta months; other modes are returned
// unchanged.
func (s Selection) Shift(delta int) Selection {
	if s.Mode != ModeMonth {
		return s
	}
	t := time.Date(s.Year, s.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return MonthSelection(t.Year(), t.Month())
}

// CustomSelection selects the inclusive [start, end] range. An inverted
// range is legal and selects nothing.
func CustomSelection(start, end core.Date) Selection {
	return Selection{Mode: ModeCustom, Start: start, End: end}
}

// CycleSelection selects the open period since start, with no upper bound.
// An empty start falls back to FallbackCycleStart.
func CycleSelection(start core.Date) Selection {
	if start == "" {
		start = FallbackCycleStart
	}
	return Selection{Mode: ModeCycle, CycleStart: start}
}

// Includes is the date predicate the aggregation applies to every entry.
// Comparisons are on the raw ISO strings, which order chronologically.
func (s Selection) Includes(d core.Date) bool {
	switch s.Mode {
	case ModeMonth:
		return d.MonthKey() == fmt.Sprintf("%04d-%02d", s.Year, s.Month)
	case ModeCustom:
		// start > end selects nothing rather than erroring.
		return d >= s.Start && d <= s.End
	case ModeCycle:
		return d >= s.CycleStart
	}
	return false
}

// Label names the selected window for report headers.
func (s Selection) Label() string {
	switch s.Mode {
	case ModeMonth:
		return fmt.Sprintf("%s %d", s.Month, s.Year)
	case ModeCustom:
		return fmt.Sprintf("%s to %s", s.Start, s.End)
	case ModeCycle:
		return fmt.Sprintf("cycle since %s", s.CycleStart)
	}
	return ""
}
