package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"registro/internal/core"
)

type (
	// Stats is the derived financial summary for a selection. It is never
	// persisted; it is recomputed from the entry collections on demand.
	Stats struct {
		DaysWorked   float64         `json:"daysWorked"`
		DaysMissed   int             `json:"daysMissed"`
		FromDays     decimal.Decimal `json:"totalFromDays"`
		FromOvertime decimal.Decimal `json:"totalFromOvertime"`
		FromExtras   decimal.Decimal `json:"totalFromExtraServices"`
		Gross        decimal.Decimal `json:"grossTotal"`
		Advances     decimal.Decimal `json:"totalAdvances"`
		Net          decimal.Decimal `json:"finalTotal"`
	}

	// Report bundles the filtered entries (sorted ascending by date) with
	// their summary.
	Report struct {
		Label    string              `json:"label"`
		Work     []core.WorkEntry    `json:"workEntries"`
		Advances []core.AdvanceEntry `json:"advances"`
		Stats    Stats               `json:"stats"`
	}
)

var two = decimal.NewFromInt(2)

// Aggregate filters both collections by the selection and tallies the
// summary. It is a pure function: empty inputs yield zero stats, and the
// expense collection is deliberately not part of the computation.
//
// Per entry: worked counts a full day at the snapshot rate, half day counts
// half of both, missed counts a missed day with no money, day off counts
// nothing, and extra services add their price to the services total.
// Overtime is additive whatever the status carries. The net total is gross
// minus advances and may legitimately go negative.
func Aggregate(work []core.WorkEntry, advances []core.AdvanceEntry, sel Selection) Report {
	rep := Report{
		Label:    sel.Label(),
		Work:     make([]core.WorkEntry, 0, len(work)),
		Advances: make([]core.AdvanceEntry, 0, len(advances)),
	}

	for _, e := range work {
		if !sel.Includes(e.Date) {
			continue
		}
		rep.Work = append(rep.Work, e)

		switch e.Status {
		case core.Worked:
			rep.Stats.DaysWorked++
			rep.Stats.FromDays = rep.Stats.FromDays.Add(e.DailyRate)
		case core.HalfDay:
			rep.Stats.DaysWorked += 0.5
			rep.Stats.FromDays = rep.Stats.FromDays.Add(e.DailyRate.Div(two))
		case core.Missed:
			rep.Stats.DaysMissed++
		case core.DayOff:
			// Neither counter moves.
		case core.ExtraService:
			rep.Stats.FromExtras = rep.Stats.FromExtras.Add(e.DailyRate)
		}

		if e.Overtime != nil {
			rep.Stats.FromOvertime = rep.Stats.FromOvertime.Add(*e.Overtime)
		}
	}

	for _, a := range advances {
		if !sel.Includes(a.Date) {
			continue
		}
		rep.Advances = append(rep.Advances, a)
		rep.Stats.Advances = rep.Stats.Advances.Add(a.Amount)
	}

	rep.Stats.Gross = rep.Stats.FromDays.Add(rep.Stats.FromOvertime).Add(rep.Stats.FromExtras)
	rep.Stats.Net = rep.Stats.Gross.Sub(rep.Stats.Advances)

	sort.SliceStable(rep.Work, func(i, j int) bool {
		return rep.Work[i].Date < rep.Work[j].Date
	})
	sort.SliceStable(rep.Advances, func(i, j int) bool {
		return rep.Advances[i].Date < rep.Advances[j].Date
	})

	return rep
}
