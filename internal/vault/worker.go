package vault

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/render"
)

// DefaultBatchSize is the number of transcribed captures taken per pass.
const DefaultBatchSize = 50

// Worker is the sequential export loop: it takes transcribed captures oldest
// first, renders them and publishes them through a Writer. A Worker is safe
// for concurrent use; passes and single exports run one at a time.
type Worker struct {
	db        *sql.DB
	writer    *Writer
	batchSize int
	render    func(*capture.Capture) ([]byte, error)
	logger    *slog.Logger

	mu sync.Mutex // serializes passes and single exports
}

// NewWorker creates a Worker. batchSize <= 0 uses DefaultBatchSize.
func NewWorker(database *sql.DB, writer *Writer, batchSize int, logger *slog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		db:        database,
		writer:    writer,
		batchSize: batchSize,
		render:    render.Render,
		logger:    logger,
	}
}

// RunSummary counts the outcomes of one pass.
type RunSummary struct {
	Processed    int    `json:"processed"`
	Exported     int    `json:"exported"`
	Duplicates   int    `json:"duplicates"`
	Placeholders int    `json:"placeholders"`
	Failed       int    `json:"failed"`
	Halted       bool   `json:"halted"`
	HaltReason   string `json:"halt_reason,omitempty"`
}

// RunOnce exports up to one batch. Captures are taken oldest first; a
// capture that fails stays transcribed and the pass pages past it, so a run
// of failing captures cannot hold back newer ones. Per-capture failures are
// counted and the pass continues; a fatal storage failure or a halted writer
// stops the pass and is returned as the error. Passes on one Worker do not
// overlap.
func (w *Worker) RunOnce(ctx context.Context) (*RunSummary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	summary := &RunSummary{}
	if halted, reason := w.writer.Halted(); halted {
		summary.Halted, summary.HaltReason = true, reason
		return summary, errors.NewExportHalted(reason)
	}

	// failed captures are still transcribed, so they shift the next page
	skip := 0
	for published := 0; published < w.batchSize; {
		batch, err := db.ListByStatus(ctx, w.db, capture.StatusTranscribed, w.batchSize-published, skip)
		if err != nil {
			return summary, err
		}
		if len(batch) == 0 {
			break
		}

		for _, c := range batch {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Processed++

			res, err := w.publish(ctx, c)
			if err != nil {
				summary.Failed++
				skip++
				if errors.Is(err, errors.ErrFatalIO) || errors.Is(err, errors.ErrExportHalted) {
					summary.Halted = true
					_, summary.HaltReason = w.writer.Halted()
					return summary, err
				}
				continue
			}

			published++
			switch res.Mode {
			case capture.ExportModeInitial:
				summary.Exported++
			case capture.ExportModeDuplicateSkip:
				summary.Duplicates++
			case capture.ExportModePlaceholder:
				summary.Placeholders++
			}
		}
	}

	if summary.Processed > 0 {
		w.logger.Info("export pass complete",
			"processed", summary.Processed,
			"exported", summary.Exported,
			"duplicates", summary.Duplicates,
			"placeholders", summary.Placeholders,
			"failed", summary.Failed)
	}
	return summary, nil
}

// publish renders and publishes one capture from a pass. Render failures are
// recorded at the export stage.
func (w *Worker) publish(ctx context.Context, c *capture.Capture) (*PublishResult, error) {
	rendered, err := w.render(c)
	if err != nil {
		w.logger.Error("render failed", "id", c.ID, "error", err)
		if err := db.InsertError(ctx, w.db, &capture.ErrorRecord{
			CaptureID: &c.ID,
			Stage:     capture.StageExport,
			Message:   fmt.Sprintf("render: %v", err),
		}); err != nil {
			w.logger.Error("failed to record render error", "id", c.ID, "error", err)
		}
		return nil, err
	}

	res, err := w.writer.Publish(ctx, c.ID, rendered)
	if err != nil {
		w.logger.Warn("publish failed", "id", c.ID, "error", err)
		return nil, err
	}
	return res, nil
}

// ExportOne renders and publishes a single capture by id.
func (w *Worker) ExportOne(ctx context.Context, id string) (*PublishResult, error) {
	if err := capture.ValidateID(id); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	c, err := db.GetCapture(ctx, w.db, id)
	if err != nil {
		return nil, err
	}
	rendered, err := w.render(c)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("render: %w", err))
	}
	return w.writer.Publish(ctx, id, rendered)
}

// Writer returns the worker's writer.
func (w *Worker) Writer() *Writer {
	return w.writer
}

// Run calls RunOnce every interval until ctx is done. While the writer is
// halted passes are skipped; Resume lets the next tick proceed.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, errors.ErrExportHalted) || errors.Is(err, errors.ErrFatalIO) {
				w.logger.Warn("export paused", "error", err)
			} else {
				w.logger.Error("export pass failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
