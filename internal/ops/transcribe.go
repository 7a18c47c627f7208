package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
)

// TranscribeInput contains parameters for the Transcribe operation.
type TranscribeInput struct {
	ID      string // required
	Content string // finalized transcript
}

// TranscribeOutput contains the result of the Transcribe operation.
type TranscribeOutput struct {
	Capture     capture.Summary `json:"capture"`
	DuplicateOf string          `json:"duplicate_of,omitempty"`
}

// Transcribe records finalized content for a staged capture and moves it to
// transcribed. If the content hash already belongs to another capture, the
// row is folded: its hash stays empty and duplicate_of names the owner.
// Unique content clears any fold left over from intake.
func Transcribe(ctx context.Context, database *sql.DB, input TranscribeInput) (*TranscribeOutput, error) {
	if err := validateID(input.ID); err != nil {
		return nil, err
	}

	content := input.Content
	hash := capture.ContentHash(content)
	c, err := db.UpdateStatus(ctx, database, input.ID, capture.StatusTranscribed, db.StatusFields{
		RawContent:       &content,
		ContentHash:      &hash,
		ClearDuplicateOf: true,
	})
	if err == nil {
		return &TranscribeOutput{Capture: c.Summary()}, nil
	}
	if !errors.Is(err, errors.ErrDuplicateContent) {
		logInvalidTransition(err, input.ID, capture.StatusTranscribed)
		return nil, err
	}

	owner, err := db.FindByContentHash(ctx, database, hash)
	if err != nil {
		return nil, err
	}
	c, err = db.UpdateStatus(ctx, database, input.ID, capture.StatusTranscribed, db.StatusFields{
		RawContent:       &content,
		DuplicateOf:      &owner.ID,
		ClearContentHash: true,
	})
	if err != nil {
		logInvalidTransition(err, input.ID, capture.StatusTranscribed)
		return nil, err
	}
	return &TranscribeOutput{Capture: c.Summary(), DuplicateOf: owner.ID}, nil
}

// FailTranscriptionInput contains parameters for the FailTranscription operation.
type FailTranscriptionInput struct {
	ID     string // required
	Reason string // required
}

// FailTranscription moves a staged capture to failed_transcription and
// records the reason at the transcribe stage, in one transaction.
// failed_transcription is terminal: a retry needs a fresh intake.
func FailTranscription(ctx context.Context, database *sql.DB, input FailTranscriptionInput) (*capture.Summary, error) {
	if err := validateID(input.ID); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, errors.NewInvalidRequest("reason is required")
	}

	var updated *capture.Capture
	err := db.RunTx(ctx, database, func(tx *sql.Tx) error {
		c, err := db.UpdateStatusTx(ctx, tx, input.ID, capture.StatusFailedTranscription, db.StatusFields{})
		if err != nil {
			return err
		}
		updated = c
		return db.InsertError(ctx, tx, &capture.ErrorRecord{
			CaptureID: &c.ID,
			Stage:     capture.StageTranscribe,
			Message:   reason,
		})
	})
	if err != nil {
		logInvalidTransition(err, input.ID, capture.StatusFailedTranscription)
		return nil, err
	}
	s := updated.Summary()
	return &s, nil
}
