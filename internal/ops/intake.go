package ops

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// IntakeOutcome describes what Intake did with an artifact.
type IntakeOutcome string

const (
	// IntakeAccepted means a new capture was staged.
	IntakeAccepted IntakeOutcome = "accepted"
	// IntakeDuplicateContent means a capture was staged but folded into an
	// existing one with the same content; it will export as a duplicate skip.
	IntakeDuplicateContent IntakeOutcome = "duplicate_content"
	// IntakeAlreadyStaged means the upstream item was seen before; nothing was written.
	IntakeAlreadyStaged IntakeOutcome = "already_staged"
)

// IntakeInput contains parameters for the Intake operation.
type IntakeInput struct {
	Source  capture.Source // required
	Content string
	Meta    capture.Meta

	// Final marks Content as finalized (e.g. an email body) so the content
	// hash is computed now. Voice captures are hashed at transcription.
	Final bool
}

// IntakeOutput contains the result of the Intake operation.
type IntakeOutput struct {
	ID          string         `json:"id"`
	Outcome     IntakeOutcome  `json:"outcome"`
	Status      capture.Status `json:"status"`
	DuplicateOf string         `json:"duplicate_of,omitempty"`
}

// Intake stages an artifact observed by a poller. The two dedup keys are
// enforced independently by the store:
//   - same (channel, channel_native_id): the item was re-delivered; the
//     call is a no-op returning the existing capture.
//   - same content hash: a new row is staged with duplicate_of pointing at
//     the capture that owns the hash.
func Intake(ctx context.Context, database *sql.DB, cfg *config.Config, input IntakeInput) (*IntakeOutput, error) {
	if !input.Source.Valid() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("source must be one of voice, email (got %q)", input.Source))
	}
	input.Meta.Channel = strings.TrimSpace(input.Meta.Channel)
	input.Meta.ChannelNativeID = strings.TrimSpace(input.Meta.ChannelNativeID)

	id, err := capture.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().UnixMilli()
	c := &capture.Capture{
		ID:         id,
		Source:     input.Source,
		RawContent: input.Content,
		Status:     capture.StatusStaged,
		Meta:       input.Meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if input.Final {
		hash := capture.ContentHash(input.Content)
		c.ContentHash = &hash
	}

	err = db.InsertCapture(ctx, database, c)
	switch {
	case err == nil:
		return &IntakeOutput{ID: c.ID, Outcome: IntakeAccepted, Status: c.Status}, nil
	case errors.Is(err, errors.ErrDuplicateSource):
		return alreadyStaged(ctx, database, cfg, input.Meta)
	case errors.Is(err, errors.ErrDuplicateContent):
		// handled below
	default:
		return nil, err
	}

	owner, err := db.FindByContentHash(ctx, database, *c.ContentHash)
	if err != nil {
		return nil, err
	}
	c.ContentHash = nil
	c.DuplicateOf = &owner.ID
	if err := db.InsertCapture(ctx, database, c); err != nil {
		if errors.Is(err, errors.ErrDuplicateSource) {
			return alreadyStaged(ctx, database, cfg, input.Meta)
		}
		return nil, err
	}
	slog.Debug("intake folded duplicate content", "id", c.ID, "duplicate_of", owner.ID)
	return &IntakeOutput{ID: c.ID, Outcome: IntakeDuplicateContent, Status: c.Status, DuplicateOf: owner.ID}, nil
}

// alreadyStaged resolves a source-key collision to the existing capture.
// Re-deliveries beyond the replay window are recorded at the poll stage.
func alreadyStaged(ctx context.Context, database *sql.DB, cfg *config.Config, meta capture.Meta) (*IntakeOutput, error) {
	existing, err := db.FindBySourceKey(ctx, database, meta.Channel, meta.ChannelNativeID)
	if err != nil {
		return nil, err
	}

	window := config.DefaultConfig().ReplayWindow()
	if cfg != nil {
		window = cfg.ReplayWindow()
	}
	age := time.Since(time.UnixMilli(existing.CreatedAt))
	if window > 0 && age > window {
		msg := fmt.Sprintf("%s/%s re-delivered %s after first intake", meta.Channel, meta.ChannelNativeID, age.Round(time.Second))
		if err := db.InsertError(ctx, database, &capture.ErrorRecord{
			CaptureID: &existing.ID,
			Stage:     capture.StagePoll,
			Message:   msg,
		}); err != nil {
			return nil, err
		}
		slog.Warn("late re-delivery", "id", existing.ID, "channel", meta.Channel, "channel_native_id", meta.ChannelNativeID, "age", age)
	}

	return &IntakeOutput{ID: existing.ID, Outcome: IntakeAlreadyStaged, Status: existing.Status}, nil
}
