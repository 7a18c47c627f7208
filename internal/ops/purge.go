package ops

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	OlderThanDays *int // optional, only purge if updated_at < (now - N days)
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently deletes captures in a terminal status. Their export
// records go with them; error records stay with capture_id cleared.
func Purge(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	cutoff := int64(math.MaxInt64)
	if input.OlderThanDays != nil {
		if *input.OlderThanDays < 0 {
			return nil, errors.NewInvalidRequest("older_than_days must not be negative")
		}
		cutoff = time.Now().Add(-time.Duration(*input.OlderThanDays) * 24 * time.Hour).UnixMilli()
	}

	count, err := db.PurgeTerminal(ctx, database, cutoff)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, olderThanDays *int) string {
	if count == 0 {
		return "No finished captures to purge"
	}

	captureWord := "capture"
	if count > 1 {
		captureWord = "captures"
	}

	msg := fmt.Sprintf("Permanently deleted %d finished %s", count, captureWord)

	if olderThanDays != nil {
		msg += fmt.Sprintf(" (last updated more than %d days ago)", *olderThanDays)
	}

	return msg
}
