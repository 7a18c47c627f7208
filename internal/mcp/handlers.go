package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/ops"
	"github.com/hpungsan/stash/internal/vault"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	worker *vault.Worker
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, worker *vault.Worker) *Handlers {
	return &Handlers{db: db, cfg: cfg, worker: worker}
}

// Request types for each tool

// ListRequest represents the arguments for capture_list.
type ListRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RecentRequest represents the arguments for capture_recent.
type RecentRequest struct {
	Since  int64 `json:"since,omitempty"`
	Until  int64 `json:"until,omitempty"`
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
}

// ShowRequest represents the arguments for capture_show.
type ShowRequest struct {
	ID string `json:"id"`
}

// ErrorsRequest represents the arguments for capture_errors.
type ErrorsRequest struct {
	CaptureID string `json:"capture_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Since     int64  `json:"since,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ExportRequest represents the arguments for capture_export.
type ExportRequest struct {
	ID string `json:"id,omitempty"`
}

// PurgeRequest represents the arguments for capture_purge.
type PurgeRequest struct {
	OlderThanDays *int `json:"older_than_days,omitempty"`
}

// StatsResult is returned by capture_stats.
type StatsResult struct {
	*ops.StatsOutput
	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`
}

// ResumeResult is returned by capture_resume.
type ResumeResult struct {
	WasHalted bool   `json:"was_halted"`
	Reason    string `json:"reason,omitempty"`
}

// Handler implementations

// HandleList handles the capture_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := bindArgs[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.List(ctx, h.db, ops.ListInput{
		Status: capture.Status(input.Status),
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRecent handles the capture_recent tool call.
func (h *Handlers) HandleRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := bindArgs[RecentRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Recent(ctx, h.db, ops.RecentInput{
		Since:  input.Since,
		Until:  input.Until,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleShow handles the capture_show tool call.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := bindArgs[ShowRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Show(ctx, h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleErrors handles the capture_errors tool call.
func (h *Handlers) HandleErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := bindArgs[ErrorsRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Errors(ctx, h.db, ops.ErrorsInput{
		CaptureID: input.CaptureID,
		Stage:     capture.Stage(input.Stage),
		Since:     input.Since,
		Limit:     input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStats handles the capture_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := ops.Stats(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}

	halted, reason := h.worker.Writer().Halted()
	return successResult(StatsResult{StatsOutput: stats, Halted: halted, HaltReason: reason})
}

// HandleExport handles the capture_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := bindArgs[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if input.ID != "" {
		result, err := h.worker.ExportOne(ctx, input.ID)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}

	summary, err := h.worker.RunOnce(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(summary)
}

// HandleResume handles the capture_resume tool call.
func (h *Handlers) HandleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	w := h.worker.Writer()
	halted, reason := w.Halted()
	if err := w.Resume(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(ResumeResult{WasHalted: halted, Reason: reason})
}

// HandlePurge handles the capture_purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := bindArgs[PurgeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Purge(ctx, h.db, ops.PurgeInput{
		OlderThanDays: input.OlderThanDays,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// bindArgs copies a tool call's arguments into a request struct by way of
// JSON. A malformed argument is an INVALID_REQUEST.
func bindArgs[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, errors.NewInvalidRequest(fmt.Sprintf("arguments: %v", err))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.NewInvalidRequest(fmt.Sprintf("arguments: %v", err))
	}
	return out, nil
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if stashErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    stashErr.Code,
			"message": stashErr.Message,
			"status":  stashErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// file paths or SQL errors
		if stashErr.Code != errors.ErrInternal && stashErr.Details != nil {
			errorObj["details"] = stashErr.Details
		}
		if stashErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
