// Package sheets mirrors collections into a Google spreadsheet: one row per
// (user, category) with the JSON payload and a timestamp. It exists for
// accounts whose "server" is a sheet they already own, and as a zero-infra
// alternative to the Postgres backend.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"registro/internal/remote"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ remote.Store = (*Client)(nil)

// NewFromEnv creates a Sheets client from environment variables.
// Required: SHEETS_SPREADSHEET_ID. Optional: SHEETS_SHEET_NAME (default
// "SyncRecords"). Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("SHEETS_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing SHEETS_SPREADSHEET_ID")
	}

	sheetName := strings.TrimSpace(os.Getenv("SHEETS_SHEET_NAME"))
	if sheetName == "" {
		sheetName = "SyncRecords"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Upsert finds the row keyed by (userID, category) and rewrites it in
// place, or appends a new row when the key is absent.
func (c *Client) Upsert(ctx context.Context, userID, category string, data json.RawMessage) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:B", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read key columns: %w", err)
	}

	row := 0
	for i, r := range resp.Values {
		if len(r) >= 2 && fmt.Sprint(r[0]) == userID && fmt.Sprint(r[1]) == category {
			row = i + 1 // sheet rows are 1-based
			break
		}
	}
	if row == 0 {
		row = len(resp.Values) + 1
	}

	target := fmt.Sprintf("%s!A%d:D%d", c.sheetName, row, row)
	vr := &gsheet.ValueRange{Values: [][]any{{
		userID, category, string(data), time.Now().UTC().Format(time.RFC3339),
	}}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, target, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func (c *Client) FetchAll(ctx context.Context, userID string) ([]remote.Record, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:D", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	var records []remote.Record
	for _, r := range resp.Values {
		if len(r) < 3 || fmt.Sprint(r[0]) != userID {
			continue
		}
		rec := remote.Record{
			Category: fmt.Sprint(r[1]),
			Data:     json.RawMessage(fmt.Sprint(r[2])),
		}
		if len(r) >= 4 {
			if ts, err := time.Parse(time.RFC3339, fmt.Sprint(r[3])); err == nil {
				rec.UpdatedAt = ts
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
