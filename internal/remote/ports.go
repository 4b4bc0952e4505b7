package remote

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one mirrored collection: the JSON payload a user pushed for a
// category, with the server-side timestamp of the last write.
type Record struct {
	Category  string
	Data      json.RawMessage
	UpdatedAt time.Time
}

// Store is the outbound port for the remote mirror. It is an opaque keyed
// store: one row per (user, category), last write wins. Callers treat every
// failure as advisory; local data is the source of truth until a pull
// concretely succeeds.
type Store interface {
	// Upsert replaces the payload stored for (userID, category).
	Upsert(ctx context.Context, userID, category string, data json.RawMessage) error

	// FetchAll returns every record belonging to userID. A user with no
	// remote rows yet fetches an empty slice, not an error.
	FetchAll(ctx context.Context, userID string) ([]Record, error)
}
