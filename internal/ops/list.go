package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Status capture.Status // required
	Limit  int            // default: 20, max: 100
	Offset int            // default: 0
}

// ListOutput contains the result of the List and Recent operations.
type ListOutput struct {
	Items      []capture.Summary `json:"items"`
	Pagination Pagination        `json:"pagination"`
	Sort       string            `json:"sort"`
}

// List retrieves captures in one status, oldest first. The export worker
// uses it to find transcribed captures.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	if !input.Status.Valid() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown status %q", input.Status))
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	total, err := db.CountByStatus(ctx, database, input.Status)
	if err != nil {
		return nil, err
	}
	items, err := db.ListByStatus(ctx, database, input.Status, limit, offset)
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items: summaries(items),
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_asc",
	}, nil
}

// RecentInput contains parameters for the Recent operation.
type RecentInput struct {
	Since  int64 // Unix ms, inclusive; 0 = unbounded
	Until  int64 // Unix ms, exclusive; 0 = unbounded
	Limit  int
	Offset int
}

// Recent retrieves captures by creation time across all statuses, oldest
// first. Used by recovery and backfill sweeps.
func Recent(ctx context.Context, database *sql.DB, input RecentInput) (*ListOutput, error) {
	if input.Since < 0 || input.Until < 0 {
		return nil, errors.NewInvalidRequest("since and until must not be negative")
	}
	if input.Until > 0 && input.Since >= input.Until {
		return nil, errors.NewInvalidRequest("since must be before until")
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	items, total, err := db.ListCreatedBetween(ctx, database, input.Since, input.Until, limit, offset)
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items: summaries(items),
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_asc",
	}, nil
}

// ShowOutput is a capture with its audit trail and diagnostics.
type ShowOutput struct {
	Capture *capture.Capture       `json:"capture"`
	Exports []capture.ExportRecord `json:"exports"`
	Errors  []capture.ErrorRecord  `json:"errors"`
}

// Show retrieves one capture with its export records and error records.
func Show(ctx context.Context, database *sql.DB, id string) (*ShowOutput, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	c, err := db.GetCapture(ctx, database, id)
	if err != nil {
		return nil, err
	}
	exports, err := db.ListExports(ctx, database, id)
	if err != nil {
		return nil, err
	}
	errs, err := db.ListErrors(ctx, database, db.ErrorFilter{CaptureID: id})
	if err != nil {
		return nil, err
	}
	if exports == nil {
		exports = []capture.ExportRecord{}
	}
	if errs == nil {
		errs = []capture.ErrorRecord{}
	}
	return &ShowOutput{Capture: c, Exports: exports, Errors: errs}, nil
}

// StatsOutput holds capture counts per status.
type StatsOutput struct {
	Counts map[capture.Status]int `json:"counts"`
	Total  int                    `json:"total"`
}

// Stats counts captures in every status.
func Stats(ctx context.Context, database *sql.DB) (*StatsOutput, error) {
	counts, err := db.StatusCounts(ctx, database)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return &StatsOutput{Counts: counts, Total: total}, nil
}
