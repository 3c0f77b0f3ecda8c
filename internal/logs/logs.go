// Package logs retrieves the raw log lines a worker emitted, from the log
// aggregation service the workers ship to.
package logs

import (
	"context"
	"errors"
)

// ErrNoCredentials means the log service keys are not configured. Callers
// surface this as a placeholder message, not a failure.
var ErrNoCredentials = errors.New("log search credentials not configured")

// Searcher finds the raw log lines tagged with one meeting id, ordered by
// time ascending, capped at limit entries.
type Searcher interface {
	Search(ctx context.Context, meetingID string, limit int) ([]string, error)
}
