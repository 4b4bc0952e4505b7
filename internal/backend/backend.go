// Package backend selects and constructs the remote mirror adapter.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"registro/internal/remote"
	"registro/internal/remote/memory"
	"registro/internal/remote/postgres"
	"registro/internal/remote/sheets"
)

const (
	PostgresBackend Type = "postgres"
	SheetsBackend   Type = "sheets"
	MemoryBackend   Type = "memory"
)

type (
	Type string

	// CleanupFunc releases backend resources.
	CleanupFunc func() error

	// Result bundles the adapter with its cleanup.
	Result struct {
		Store   remote.Store
		Cleanup CleanupFunc
	}

	// Config holds what each adapter needs; only the selected type's fields
	// are consulted.
	Config struct {
		Type Type

		// Postgres
		PostgresDSN string

		// Sheets adapters read their spreadsheet id and credentials from
		// the environment, matching the deployment style of the rest of
		// the Google tooling.
	}
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case PostgresBackend, SheetsBackend, MemoryBackend:
		return true
	}
	return false
}

// Types returns every valid backend type.
func Types() []Type {
	return []Type{PostgresBackend, SheetsBackend, MemoryBackend}
}

// Create constructs the remote store named by the config.
func Create(ctx context.Context, cfg Config) (*Result, error) {
	if !cfg.Type.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.Type)
	}

	switch cfg.Type {
	case PostgresBackend:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		adapter, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres backend: %w", err)
		}
		slog.InfoContext(ctx, "Initialized postgres sync backend")
		return &Result{Store: adapter, Cleanup: adapter.Close}, nil

	case SheetsBackend:
		client, err := sheets.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize sheets backend: %w", err)
		}
		slog.InfoContext(ctx, "Initialized sheets sync backend")
		return &Result{Store: client, Cleanup: func() error { return nil }}, nil

	case MemoryBackend:
		slog.InfoContext(ctx, "Initialized in-memory sync backend")
		return &Result{Store: memory.New(), Cleanup: func() error { return nil }}, nil
	}

	return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
}
