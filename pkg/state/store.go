// Package state provides the persistent record of last-known-applied
// resources. Two backends exist: a single-document JSON file for simple
// setups, and SQLite for concurrent access and run history.
package state

import (
	"context"
	"strings"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// OpenStore opens the state backend for a URI. Supported forms:
//
//	file://path/to/state.json
//	sqlite://path/to/state.db
//	path/to/state.json  (treated as file://)
//
// The backend is created and migrated if it does not exist yet.
func OpenStore(ctx context.Context, uri string) (engine.StateStore, error) {
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		return OpenSQLiteStore(ctx, strings.TrimPrefix(uri, "sqlite://"))
	case strings.HasPrefix(uri, "file://"):
		return OpenFileStore(strings.TrimPrefix(uri, "file://"))
	case uri == "":
		return nil, engine.NewStateError("state store URI is empty", nil).
			WithCode(engine.ErrCodeStateIO)
	default:
		return OpenFileStore(uri)
	}
}
