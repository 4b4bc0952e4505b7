package core

import (
	"time"

	"dario.cat/mergo"
	"github.com/shopspring/decimal"
)

type (
	// Settings is the single per-account preferences record. It is replaced
	// wholesale on save; reads always pass through the defaults overlay so a
	// field introduced after an account stored its settings still has a
	// usable value.
	Settings struct {
		DailyRate           decimal.Decimal `json:"dailyRate"`
		WorkerName          string          `json:"workerName"`
		EmployerName        string          `json:"employerName"`
		Currency            string          `json:"currency"`
		Theme               string          `json:"theme"`
		NotificationEnabled bool            `json:"notificationEnabled"`
		NotificationTime    string          `json:"notificationTime"`
		BillingCycleStart   Date            `json:"billingCycleStartDate,omitempty"`
	}

	// SettingsPatch is the stored shape: every field optional, so payloads
	// written by older versions decode without losing the distinction
	// between "absent" and "zero".
	SettingsPatch struct {
		DailyRate           *decimal.Decimal `json:"dailyRate,omitempty"`
		WorkerName          *string          `json:"workerName,omitempty"`
		EmployerName        *string          `json:"employerName,omitempty"`
		Currency            *string          `json:"currency,omitempty"`
		Theme               *string          `json:"theme,omitempty"`
		NotificationEnabled *bool            `json:"notificationEnabled,omitempty"`
		NotificationTime    *string          `json:"notificationTime,omitempty"`
		BillingCycleStart   *Date            `json:"billingCycleStartDate,omitempty"`
	}
)

// DefaultSettings returns the hard-coded base record. The billing cycle
// start defaults to the first day of the month containing now.
func DefaultSettings(now time.Time) Settings {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Settings{
		DailyRate:           decimal.Zero,
		WorkerName:          "",
		EmployerName:        "",
		Currency:            "R$",
		Theme:               "light",
		NotificationEnabled: false,
		NotificationTime:    "18:00",
		BillingCycleStart:   DateOf(firstOfMonth),
	}
}

// Overlay resolves the patch against a base record: stored fields win,
// absent fields fall back to the base.
func (p SettingsPatch) Overlay(base Settings) Settings {
	full := base.patch()
	// WithoutDereference keeps set pointer fields intact, so a stored
	// empty string or false is an override and only nil falls back.
	if err := mergo.Merge(&p, full, mergo.WithoutDereference); err != nil {
		// Merge only fails on type mismatch, which the identical patch
		// shapes rule out. Fall back to the base rather than guessing.
		return base
	}
	return Settings{
		DailyRate:           *p.DailyRate,
		WorkerName:          *p.WorkerName,
		EmployerName:        *p.EmployerName,
		Currency:            *p.Currency,
		Theme:               *p.Theme,
		NotificationEnabled: *p.NotificationEnabled,
		NotificationTime:    *p.NotificationTime,
		BillingCycleStart:   *p.BillingCycleStart,
	}
}

// Patch converts a full record into its stored shape.
func (s Settings) Patch() SettingsPatch {
	return s.patch()
}

func (s Settings) patch() SettingsPatch {
	return SettingsPatch{
		DailyRate:           &s.DailyRate,
		WorkerName:          &s.WorkerName,
		EmployerName:        &s.EmployerName,
		Currency:            &s.Currency,
		Theme:               &s.Theme,
		NotificationEnabled: &s.NotificationEnabled,
		NotificationTime:    &s.NotificationTime,
		BillingCycleStart:   &s.BillingCycleStart,
	}
}
