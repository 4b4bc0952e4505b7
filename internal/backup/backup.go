// Package backup defines the transportable export/import document.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"registro/internal/core"
)

// AppVersion is stamped into exports so old documents can be recognized.
const AppVersion = "2.3.0"

// Document is the full-account backup. Settings travel in their stored
// (partial) shape so importing an old backup keeps the defaults overlay
// behavior for fields it predates.
type Document struct {
	WorkEntries []core.WorkEntry    `json:"workEntries"`
	Advances    []core.AdvanceEntry `json:"advances"`
	Expenses    []core.ExpenseEntry `json:"expenses"`
	Settings    core.SettingsPatch  `json:"settings"`
	ExportedAt  time.Time           `json:"exportedAt"`
	AppVersion  string              `json:"appVersion"`
}

// ErrInvalidDocument marks a backup that cannot be restored. The caller
// surfaces it; no local mutation may have happened by then.
var ErrInvalidDocument = errors.New("invalid backup document")

// Parse validates and decodes a backup. Work entries, advances, and
// settings are required; expenses default to empty, because backups written
// before the expenses feature carry none.
func Parse(data []byte) (Document, error) {
	var probe struct {
		WorkEntries *[]core.WorkEntry    `json:"workEntries"`
		Advances    *[]core.AdvanceEntry `json:"advances"`
		Expenses    *[]core.ExpenseEntry `json:"expenses"`
		Settings    *core.SettingsPatch  `json:"settings"`
		ExportedAt  time.Time            `json:"exportedAt"`
		AppVersion  string               `json:"appVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if probe.WorkEntries == nil || probe.Advances == nil || probe.Settings == nil {
		return Document{}, fmt.Errorf("%w: workEntries, advances, and settings are required", ErrInvalidDocument)
	}

	doc := Document{
		WorkEntries: *probe.WorkEntries,
		Advances:    *probe.Advances,
		Settings:    *probe.Settings,
		ExportedAt:  probe.ExportedAt,
		AppVersion:  probe.AppVersion,
	}
	if probe.Expenses != nil {
		doc.Expenses = *probe.Expenses
	} else {
		doc.Expenses = []core.ExpenseEntry{}
	}
	if doc.WorkEntries == nil {
		doc.WorkEntries = []core.WorkEntry{}
	}
	if doc.Advances == nil {
		doc.Advances = []core.AdvanceEntry{}
	}
	return doc, nil
}

// Encode serializes the document for download or transfer.
func (d Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
