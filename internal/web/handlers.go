package web

import (
	"database/sql"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/ops"
	"github.com/hpungsan/stash/internal/render"
	"github.com/hpungsan/stash/internal/vault"
)

// Handlers contains HTTP route handlers for the operator dashboard.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	worker   *vault.Worker
	renderer *Renderer
}

// HandleList handles GET /captures. With ?status= it lists one status oldest
// first; without, it lists all captures by creation time.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := parseIntParam(r, "limit", ops.DefaultListLimit)
	offset := parseIntParam(r, "offset", 0)

	var (
		result *ops.ListOutput
		err    error
	)
	if status != "" {
		result, err = ops.List(r.Context(), h.db, ops.ListInput{
			Status: capture.Status(status),
			Limit:  limit,
			Offset: offset,
		})
	} else {
		result, err = ops.Recent(r.Context(), h.db, ops.RecentInput{
			Limit:  limit,
			Offset: offset,
		})
	}
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	stats, err := ops.Stats(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	halted, reason := h.worker.Writer().Halted()

	h.renderer.renderPage(w, "list", ListPageData{
		PageData: PageData{
			Title:   "Captures",
			Version: h.renderer.version,
			Nav:     "captures",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Status:     status,
		Statuses:   capture.AllStatuses,
		Counts:     stats.Counts,
		Halted:     halted,
		HaltReason: reason,
		Notice:     r.URL.Query().Get("notice"),
	})
}

// HandleDetail handles GET /captures/{id}: the capture, its transcript
// rendered as HTML, and its export and error history.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("capture ID is required"))
		return
	}

	result, err := ops.Show(r.Context(), h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{
			Title:   shortID(result.Capture.ID),
			Version: h.renderer.version,
			Nav:     "captures",
		},
		Capture:      result.Capture,
		Exports:      result.Exports,
		Errors:       result.Errors,
		RenderedHTML: renderMarkdown(result.Capture.RawContent),
		NoteTitle:    render.Title(result.Capture),
	})
}

// HandleErrors handles GET /errors, optionally filtered by ?stage=.
func (h *Handlers) HandleErrors(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")

	result, err := ops.Errors(r.Context(), h.db, ops.ErrorsInput{
		Stage: capture.Stage(stage),
		Limit: parseIntParam(r, "limit", ops.DefaultErrorsLimit),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "errors", ErrorsPageData{
		PageData: PageData{
			Title:   "Errors",
			Version: h.renderer.version,
			Nav:     "errors",
		},
		Items:  result.Items,
		Stage:  stage,
		Stages: capture.AllStages,
	})
}

// HandleExport handles POST /export: one export pass over transcribed captures.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	summary, err := h.worker.RunOnce(r.Context())
	if err != nil && summary.Processed == 0 {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, summary)
		return
	}
	http.Redirect(w, r, "/captures", http.StatusFound)
}

// HandleResume handles POST /export/resume: clears a halted writer.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	writer := h.worker.Writer()
	halted, reason := writer.Halted()
	if err := writer.Resume(r.Context()); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"was_halted": halted,
			"reason":     reason,
		})
		return
	}
	http.Redirect(w, r, "/captures", http.StatusFound)
}

// HandlePurge handles POST /captures/purge: permanently delete finished captures.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	if r.FormValue("confirm") != "true" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	input := ops.PurgeInput{}
	if days := r.FormValue("older_than_days"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("older_than_days must be an integer"))
			return
		}
		input.OlderThanDays = &d
	}

	result, err := ops.Purge(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"purged":  result.Purged,
			"message": result.Message,
		})
		return
	}

	http.Redirect(w, r, "/captures?notice="+url.QueryEscape(result.Message), http.StatusFound)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
