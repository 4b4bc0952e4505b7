package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Worked       WorkStatus = "worked"
	HalfDay      WorkStatus = "half_day"
	Missed       WorkStatus = "missed"
	DayOff       WorkStatus = "day_off"
	ExtraService WorkStatus = "extra_service"
)

type (
	WorkStatus string

	// Date is a zero-padded ISO calendar date (YYYY-MM-DD). The format makes
	// lexicographic comparison equivalent to chronological comparison, which
	// the period filters rely on.
	Date string

	// WorkEntry is one claimed compensation event for a calendar date.
	// Day-slot statuses (worked, half day, missed, day off) are keyed by
	// their date, so a date holds at most one of them. Extra services carry
	// a generated id and any number may share a date.
	WorkEntry struct {
		ID           string           `json:"id"`
		Date         Date             `json:"date"`
		Status       WorkStatus       `json:"status"`
		DailyRate    decimal.Decimal  `json:"dailyRateSnapshot"`
		Overtime     *decimal.Decimal `json:"overtimeValue,omitempty"`
		Note         string           `json:"note,omitempty"`
		ServiceTitle string           `json:"serviceTitle,omitempty"`
	}

	// AdvanceEntry is cash handed to the worker ahead of settlement.
	AdvanceEntry struct {
		ID     string          `json:"id"`
		Date   Date            `json:"date"`
		Amount decimal.Decimal `json:"amount"`
		Note   string          `json:"note,omitempty"`
	}

	// ExpenseEntry mirrors AdvanceEntry but is bookkeeping only: it never
	// participates in period totals.
	ExpenseEntry struct {
		ID     string          `json:"id"`
		Date   Date            `json:"date"`
		Amount decimal.Decimal `json:"amount"`
		Note   string          `json:"note,omitempty"`
	}
)

var (
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidStatus  = errors.New("invalid work status")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrMissingTitle   = errors.New("empty service title")
	ErrMissingID      = errors.New("missing entry id")
	ErrNegativeAmount = errors.New("negative amount")
)

// DateOf formats a point in time as a Date, dropping the time component.
func DateOf(t time.Time) Date {
	return Date(t.Format("2006-01-02"))
}

// Today returns the current calendar date in local time.
func Today() Date {
	return DateOf(time.Now())
}

func (d Date) Validate() error {
	if _, err := time.Parse("2006-01-02", string(d)); err != nil {
		return ErrInvalidDate
	}
	return nil
}

// Time parses the date at midnight UTC. Invalid dates yield the zero time.
func (d Date) Time() time.Time {
	t, err := time.Parse("2006-01-02", string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// MonthKey returns the YYYY-MM prefix used for calendar-month matching.
func (d Date) MonthKey() string {
	if len(d) < 7 {
		return ""
	}
	return string(d[:7])
}

func (s WorkStatus) Valid() bool {
	switch s {
	case Worked, HalfDay, Missed, DayOff, ExtraService:
		return true
	}
	return false
}

// IsDaySlot reports whether the status occupies a date's single day slot.
func (s WorkStatus) IsDaySlot() bool {
	return s.Valid() && s != ExtraService
}

// NewDayEntry builds a day-slot entry. The id is the date itself, so saving
// twice for the same date overwrites rather than duplicates. rate is the
// settings daily rate captured at save time; later rate changes must not
// reach back into old entries.
func NewDayEntry(date Date, status WorkStatus, rate decimal.Decimal) WorkEntry {
	return WorkEntry{
		ID:        string(date),
		Date:      date,
		Status:    status,
		DailyRate: rate,
	}
}

// NewExtraService builds an extra-service entry with a generated id, so any
// number of services can share a date. price goes into the rate snapshot
// slot, matching how day entries carry their value.
func NewExtraService(date Date, title string, price decimal.Decimal) WorkEntry {
	return WorkEntry{
		ID:           uuid.NewString(),
		Date:         date,
		Status:       ExtraService,
		DailyRate:    price,
		ServiceTitle: title,
	}
}

// Key returns the upsert identity for the entry. Entries loaded from old
// payloads may miss the id; the day-slot convention reconstructs it.
func (e WorkEntry) Key() string {
	if e.ID != "" {
		return e.ID
	}
	if e.Status.IsDaySlot() {
		return string(e.Date)
	}
	return ""
}

func (e WorkEntry) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if !e.Status.Valid() {
		return ErrInvalidStatus
	}
	if e.DailyRate.IsNegative() {
		return ErrNegativeAmount
	}
	if e.Overtime != nil && e.Overtime.IsNegative() {
		return ErrNegativeAmount
	}
	if e.Status == ExtraService {
		if strings.TrimSpace(e.ServiceTitle) == "" {
			return ErrMissingTitle
		}
		// Day slots reconstruct a missing id from the date; extra
		// services cannot, and an empty key would append on every save.
		if e.ID == "" {
			return ErrMissingID
		}
	}
	return nil
}

// NewAdvance builds an advance entry; advances have no per-date uniqueness.
func NewAdvance(date Date, amount decimal.Decimal, note string) AdvanceEntry {
	return AdvanceEntry{ID: uuid.NewString(), Date: date, Amount: amount, Note: note}
}

func (a AdvanceEntry) Validate() error {
	if err := a.Date.Validate(); err != nil {
		return err
	}
	if !a.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// NewExpense builds an expense entry.
func NewExpense(date Date, amount decimal.Decimal, note string) ExpenseEntry {
	return ExpenseEntry{ID: uuid.NewString(), Date: date, Amount: amount, Note: note}
}

func (e ExpenseEntry) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
