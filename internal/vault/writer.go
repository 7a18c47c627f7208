package vault

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sync"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/retry"
)

// HaltKey is the sync_state key holding the reason a writer halted.
const HaltKey = "export.halted"

// Writer publishes rendered captures into the vault. A Writer halts after a
// fatal storage failure and refuses further publishes until Resume is called.
// The halt is stored in sync_state, so it outlives the process and is seen by
// every Writer on the same ledger. Publishes on one Writer run one at a time.
type Writer struct {
	db     *sql.DB
	paths  Paths
	policy retry.Policy
	logger *slog.Logger
	fs     fileSystem

	publishMu sync.Mutex

	// in-memory copy of the halt, for when the ledger write fails too
	mu         sync.Mutex
	halted     bool
	haltReason string
}

// Option configures a Writer.
type Option func(*Writer)

// WithPolicy sets the retry policy for filesystem steps.
func WithPolicy(p retry.Policy) Option {
	return func(w *Writer) { w.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

func withFS(f fileSystem) Option {
	return func(w *Writer) { w.fs = f }
}

// NewWriter creates a Writer for the vault at root.
func NewWriter(database *sql.DB, root string, opts ...Option) *Writer {
	w := &Writer{
		db:     database,
		paths:  Paths{Root: root},
		logger: slog.Default(),
		fs:     osFS{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.policy.Logger == nil {
		w.policy.Logger = w.logger
	}
	return w
}

// PublishResult describes a completed publish.
type PublishResult struct {
	CaptureID string             `json:"capture_id"`
	Path      string             `json:"path"`       // absolute path of the note
	VaultPath string             `json:"vault_path"` // relative to the vault root
	Mode      capture.ExportMode `json:"mode"`
	Status    capture.Status     `json:"status"`
	Hash      string             `json:"hash,omitempty"` // content hash recorded in the audit row
}

// Root returns the vault root.
func (w *Writer) Root() string {
	return w.paths.Root
}

// Halted reports whether the writer is halted and why.
func (w *Writer) Halted() (bool, string) {
	w.mu.Lock()
	halted, reason := w.halted, w.haltReason
	w.mu.Unlock()
	if halted {
		return true, reason
	}

	cur, err := db.GetCursor(context.Background(), w.db, HaltKey)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			w.logger.Warn("failed to read halt state", "error", err)
		}
		return false, ""
	}
	return true, cur.Value
}

// Resume clears a halt after the operator fixed the underlying problem.
func (w *Writer) Resume(ctx context.Context) error {
	wasHalted, _ := w.Halted()
	if err := db.DeleteCursor(ctx, w.db, HaltKey); err != nil {
		return err
	}
	w.mu.Lock()
	w.halted, w.haltReason = false, ""
	w.mu.Unlock()
	if wasHalted {
		w.logger.Info("export writer resumed")
	}
	return nil
}

func (w *Writer) halt(reason string) {
	w.mu.Lock()
	w.halted, w.haltReason = true, reason
	w.mu.Unlock()
	w.logger.Error("export writer halted", "reason", reason)

	if _, err := db.PutCursor(context.Background(), w.db, HaltKey, reason); err != nil {
		w.logger.Error("failed to persist halt", "error", err)
	}
}

// Publish writes rendered to <root>/inbox/<id>.md and records the outcome.
//
// The id is validated before any path is built. Content is written to
// <root>/.trash/<id>.tmp, synced, closed and renamed into place, so the
// destination is either absent or complete. When the destination already
// exists, identical bytes produce a duplicate_skip record and different bytes
// produce a placeholder record plus an integrity error; the existing note is
// never overwritten, including when it appears between the check and the
// rename. A capture folded into another by content hash is recorded as
// duplicate_skip without writing. The audit row carries the capture's content
// hash, or the owner's for a folded capture.
//
// Once started, filesystem steps and the ledger update are not interrupted
// by ctx cancellation.
func (w *Writer) Publish(ctx context.Context, id string, rendered []byte) (*PublishResult, error) {
	if err := capture.ValidateID(id); err != nil {
		return nil, err
	}
	w.publishMu.Lock()
	defer w.publishMu.Unlock()

	if halted, reason := w.Halted(); halted {
		return nil, errors.NewExportHalted(reason)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	c, err := db.GetCapture(ctx, w.db, id)
	if err != nil {
		return nil, err
	}
	if c.Status != capture.StatusTranscribed && !c.Status.IsExported() {
		err := errors.NewInvalidTransition(id, string(c.Status), string(capture.StatusExported))
		w.logger.Error("publish rejected", "id", id, "status", string(c.Status), "error", err)
		return nil, err
	}

	hash, err := w.contentHash(ctx, c)
	if err != nil {
		return nil, err
	}

	if c.DuplicateOf != nil {
		return w.record(ctx, c, &capture.ExportRecord{
			VaultPath:    RelDest(*c.DuplicateOf),
			HashAtExport: hash,
			Mode:         capture.ExportModeDuplicateSkip,
		}, capture.StatusExportedDuplicate)
	}

	if err := w.step(ctx, c, "prepare vault directories", func() error {
		if err := w.fs.MkdirAll(w.paths.Inbox(), 0700); err != nil {
			return err
		}
		return w.fs.MkdirAll(w.paths.Trash(), 0700)
	}); err != nil {
		return nil, err
	}

	existing, exists, err := w.readDest(ctx, c)
	if err != nil {
		return nil, err
	}
	if exists {
		return w.settleExisting(ctx, c, existing, rendered, hash)
	}

	staging := w.paths.Staging(id)
	if err := w.step(ctx, c, "write staging file", func() error {
		return w.writeFile(staging, rendered)
	}); err != nil {
		w.discard(staging)
		return nil, err
	}
	var taken bool
	if err := w.step(ctx, c, "rename into inbox", func() error {
		err := w.fs.Rename(staging, w.paths.Dest(id))
		if stderrors.Is(err, fs.ErrExist) {
			taken = true
			return nil
		}
		return err
	}); err != nil {
		w.discard(staging)
		return nil, err
	}

	if taken {
		w.discard(staging)
		w.logger.Warn("destination appeared before rename", "id", id)
		existing, _, err := w.readDest(ctx, c)
		if err != nil {
			return nil, err
		}
		return w.settleExisting(ctx, c, existing, rendered, hash)
	}

	if err := w.fs.SyncDir(w.paths.Inbox()); err != nil {
		w.logger.Warn("inbox directory sync failed", "id", id, "error", err)
	}

	return w.record(ctx, c, &capture.ExportRecord{
		VaultPath:    RelDest(id),
		HashAtExport: hash,
		Mode:         capture.ExportModeInitial,
	}, capture.StatusExported)
}

// contentHash returns the hash recorded with an export: the capture's own
// content hash, or its owner's when the capture is folded.
func (w *Writer) contentHash(ctx context.Context, c *capture.Capture) (*string, error) {
	if c.DuplicateOf == nil {
		return c.ContentHash, nil
	}
	owner, err := db.GetCapture(ctx, w.db, *c.DuplicateOf)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return owner.ContentHash, nil
}

// readDest reads the note at the capture's destination, if any.
func (w *Writer) readDest(ctx context.Context, c *capture.Capture) ([]byte, bool, error) {
	var (
		existing []byte
		exists   bool
	)
	err := w.step(ctx, c, "check destination", func() error {
		b, err := w.fs.ReadFile(w.paths.Dest(c.ID))
		if stderrors.Is(err, fs.ErrNotExist) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		existing, exists = b, true
		return nil
	})
	return existing, exists, err
}

// settleExisting resolves a destination that already holds a note: the same
// bytes are a duplicate_skip, anything else is a placeholder.
func (w *Writer) settleExisting(ctx context.Context, c *capture.Capture, existing, rendered []byte, hash *string) (*PublishResult, error) {
	if capture.HashBytes(existing) != capture.HashBytes(rendered) {
		return w.placeholder(ctx, c, rendered)
	}
	return w.record(ctx, c, &capture.ExportRecord{
		VaultPath:    RelDest(c.ID),
		HashAtExport: hash,
		Mode:         capture.ExportModeDuplicateSkip,
	}, capture.StatusExportedDuplicate)
}

// writeFile creates path, writes data and syncs it before closing.
func (w *Writer) writeFile(path string, data []byte) error {
	f, err := w.fs.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// discard removes a staging file after a failed publish.
func (w *Writer) discard(path string) {
	if err := w.fs.Remove(path); err != nil {
		w.logger.Warn("failed to remove staging file", "path", path, "error", err)
	}
}

// step runs one filesystem step under the retry policy. Failures are
// recorded at the export stage; fatal ones halt the writer.
func (w *Writer) step(ctx context.Context, c *capture.Capture, name string, fn func() error) error {
	res := w.policy.Do(ctx, fn)
	if res.OK() {
		return nil
	}

	var (
		msg string
		out error
	)
	switch res.Outcome {
	case retry.Fatal:
		msg = fmt.Sprintf("%s: %v", name, res.Err)
		w.halt(msg)
		out = errors.NewFatalIO(fmt.Errorf("%s: %w", name, res.Err))
	case retry.Exhausted:
		msg = fmt.Sprintf("%s: gave up after %d attempts: %v", name, res.Attempts, res.Err)
		w.logger.Warn("export step exhausted retries", "id", c.ID, "step", name, "attempts", res.Attempts, "error", res.Err)
		out = errors.NewTransientIO(res.Attempts, fmt.Errorf("%s: %w", name, res.Err))
	default:
		msg = fmt.Sprintf("%s: %v", name, res.Err)
		w.logger.Error("export step failed", "id", c.ID, "step", name, "error", res.Err)
		var se *errors.StashError
		if stderrors.As(res.Err, &se) {
			out = se
		} else {
			out = errors.NewInternal(fmt.Errorf("%s: %w", name, res.Err))
		}
	}

	if err := db.InsertError(ctx, w.db, &capture.ErrorRecord{
		CaptureID: &c.ID,
		Stage:     capture.StageExport,
		Message:   msg,
	}); err != nil {
		w.logger.Error("failed to record export error", "id", c.ID, "error", err)
	}
	return out
}

// record writes the audit row and, for a transcribed capture, moves it to
// next in the same transaction. Already exported captures keep their status.
func (w *Writer) record(ctx context.Context, c *capture.Capture, rec *capture.ExportRecord, next capture.Status) (*PublishResult, error) {
	rec.CaptureID = c.ID
	status := c.Status
	var target capture.Status
	if c.Status == capture.StatusTranscribed {
		target, status = next, next
	}
	if err := db.RecordExportOutcome(ctx, w.db, rec, target); err != nil {
		if errors.Is(err, errors.ErrInvalidTransition) {
			w.logger.Error("export outcome rejected", "id", c.ID, "to", string(target), "error", err)
		}
		return nil, err
	}

	w.logger.Info("capture published", "id", c.ID, "mode", string(rec.Mode), "path", rec.VaultPath, "status", string(status))
	res := &PublishResult{
		CaptureID: c.ID,
		Path:      w.paths.Dest(c.ID),
		VaultPath: rec.VaultPath,
		Mode:      rec.Mode,
		Status:    status,
	}
	if rec.HashAtExport != nil {
		res.Hash = *rec.HashAtExport
	}
	if c.DuplicateOf != nil {
		res.Path = w.paths.Dest(*c.DuplicateOf)
	}
	return res, nil
}

// placeholder handles a destination holding different bytes. The existing
// note is left alone, the rendered content goes to .trash/<id>.conflict, and
// an integrity error is recorded with a placeholder audit row.
func (w *Writer) placeholder(ctx context.Context, c *capture.Capture, rendered []byte) (*PublishResult, error) {
	conflict := w.paths.Conflict(c.ID)
	if err := w.step(ctx, c, "write conflict file", func() error {
		return w.writeFile(conflict, rendered)
	}); err != nil {
		return nil, err
	}

	violation := errors.NewIntegrityViolation(c.ID, RelDest(c.ID))
	msg := fmt.Sprintf("%s; rendered content kept at %s", violation.Message, path.Join(TrashDir, c.ID+".conflict"))
	rec := &capture.ExportRecord{
		CaptureID: c.ID,
		VaultPath: RelDest(c.ID),
		Mode:      capture.ExportModePlaceholder,
		ErrorFlag: true,
	}

	status := c.Status
	err := db.RunTx(ctx, w.db, func(tx *sql.Tx) error {
		if c.Status == capture.StatusTranscribed {
			if _, err := db.UpdateStatusTx(ctx, tx, c.ID, capture.StatusExportedPlaceholder, db.StatusFields{}); err != nil {
				return err
			}
			status = capture.StatusExportedPlaceholder
		}
		if err := db.InsertError(ctx, tx, &capture.ErrorRecord{
			CaptureID: &c.ID,
			Stage:     capture.StageIntegrity,
			Message:   msg,
		}); err != nil {
			return err
		}
		return db.InsertExport(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}

	w.logger.Error("vault integrity violation", "id", c.ID, "path", rec.VaultPath, "conflict", conflict)
	return &PublishResult{
		CaptureID: c.ID,
		Path:      w.paths.Dest(c.ID),
		VaultPath: rec.VaultPath,
		Mode:      capture.ExportModePlaceholder,
		Status:    status,
	}, nil
}
