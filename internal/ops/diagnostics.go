package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// ErrorsInput contains parameters for the Errors operation.
type ErrorsInput struct {
	CaptureID string
	Stage     capture.Stage
	Since     int64 // Unix ms
	Limit     int   // default: 50, max: 500
}

// ErrorsOutput contains the result of the Errors operation.
type ErrorsOutput struct {
	Items []capture.ErrorRecord `json:"items"`
}

// Errors lists diagnostic records, newest first.
func Errors(ctx context.Context, database *sql.DB, input ErrorsInput) (*ErrorsOutput, error) {
	if input.Stage != "" && !input.Stage.Valid() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown stage %q", input.Stage))
	}
	if input.CaptureID != "" {
		if err := capture.ValidateID(input.CaptureID); err != nil {
			return nil, err
		}
	}
	items, err := db.ListErrors(ctx, database, db.ErrorFilter{
		CaptureID: input.CaptureID,
		Stage:     input.Stage,
		Since:     input.Since,
		Limit:     clampLimit(input.Limit, DefaultErrorsLimit, MaxErrorsLimit),
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []capture.ErrorRecord{}
	}
	return &ErrorsOutput{Items: items}, nil
}

// GetCursor reads a poller checkpoint.
func GetCursor(ctx context.Context, database *sql.DB, key string) (*capture.SyncCursor, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.NewInvalidRequest("cursor key is required")
	}
	return db.GetCursor(ctx, database, key)
}

// PutCursor overwrites a poller checkpoint.
func PutCursor(ctx context.Context, database *sql.DB, key, value string) (*capture.SyncCursor, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.NewInvalidRequest("cursor key is required")
	}
	return db.PutCursor(ctx, database, key, value)
}
