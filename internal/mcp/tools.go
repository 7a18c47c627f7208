package mcp

import "github.com/mark3labs/mcp-go/mcp"

var statusEnum = mcp.Enum(
	"staged", "transcribed", "failed_transcription",
	"exported", "exported_duplicate", "exported_placeholder",
)

var listToolDef = mcp.NewTool("capture_list",
	mcp.WithDescription("List captures in one status, oldest first. Returns summaries without raw content."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("status", mcp.Required(), mcp.Description("Capture status"), statusEnum),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var recentToolDef = mcp.NewTool("capture_recent",
	mcp.WithDescription("List captures by creation time across all statuses, oldest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("since", mcp.Description("Inclusive lower bound, Unix milliseconds")),
	mcp.WithNumber("until", mcp.Description("Exclusive upper bound, Unix milliseconds")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var showToolDef = mcp.NewTool("capture_show",
	mcp.WithDescription("Show one capture with its export audit trail and error records."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture id (26-character ULID)")),
)

var errorsToolDef = mcp.NewTool("capture_errors",
	mcp.WithDescription("List pipeline error records, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("capture_id", mcp.Description("Only errors for this capture")),
	mcp.WithString("stage", mcp.Description("Pipeline stage"), mcp.Enum("poll", "transcribe", "export", "backup", "integrity")),
	mcp.WithNumber("since", mcp.Description("Only errors at or after this Unix millisecond time")),
	mcp.WithNumber("limit", mcp.Description("Maximum records (default 50, max 500)")),
)

var statsToolDef = mcp.NewTool("capture_stats",
	mcp.WithDescription("Count captures in every status and report whether the export writer is halted."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var exportToolDef = mcp.NewTool("capture_export",
	mcp.WithDescription("Publish transcribed captures to the vault. With id, publishes that capture; without, runs one export pass."),
	mcp.WithString("id", mcp.Description("Capture id to publish")),
)

var resumeToolDef = mcp.NewTool("capture_resume",
	mcp.WithDescription("Clear a halted export writer after the storage problem was fixed."),
)

var purgeToolDef = mcp.NewTool("capture_purge",
	mcp.WithDescription("Permanently delete finished captures (failed or exported). Error records are kept."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithNumber("older_than_days", mcp.Description("Only purge captures last updated more than N days ago")),
)
