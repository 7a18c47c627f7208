// Package ops implements the ledger operations exposed to pipeline
// collaborators and the operator surfaces (CLI, MCP).
package ops

import (
	"log/slog"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultErrorsLimit = 50
	MaxErrorsLimit     = 500
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies defaults and bounds to a requested page size.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// validateID checks a capture id supplied by a caller.
func validateID(id string) error {
	if id == "" {
		return errors.NewInvalidRequest("id is required")
	}
	return capture.ValidateID(id)
}

// logInvalidTransition reports illegal state moves. They indicate a caller
// defect and are always logged before being returned.
func logInvalidTransition(err error, id string, to capture.Status) {
	if errors.Is(err, errors.ErrInvalidTransition) {
		slog.Error("invalid capture transition", "id", id, "to", string(to), "error", err)
	}
}

// summaries converts captures to summaries, never returning nil.
func summaries(items []*capture.Capture) []capture.Summary {
	out := make([]capture.Summary, 0, len(items))
	for _, c := range items {
		out = append(out, c.Summary())
	}
	return out
}
