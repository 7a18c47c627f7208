package capture

import "slices"

// ExportMode records how an export attempt concluded.
type ExportMode string

const (
	ExportModeInitial       ExportMode = "initial"
	ExportModeDuplicateSkip ExportMode = "duplicate_skip"
	ExportModePlaceholder   ExportMode = "placeholder"
)

// ExportRecord is an append-only audit entry, one per export outcome.
type ExportRecord struct {
	ID           string     `json:"id"`
	CaptureID    string     `json:"capture_id"`
	VaultPath    string     `json:"vault_path"` // relative to the vault root
	HashAtExport *string    `json:"hash_at_export,omitempty"`
	ExportedAt   int64      `json:"exported_at"`
	Mode         ExportMode `json:"mode"`
	ErrorFlag    bool       `json:"error_flag"`
}

// Stage names the pipeline step that produced an ErrorRecord.
type Stage string

const (
	StagePoll       Stage = "poll"
	StageTranscribe Stage = "transcribe"
	StageExport     Stage = "export"
	StageBackup     Stage = "backup"
	StageIntegrity  Stage = "integrity"
)

// AllStages lists every pipeline stage in pipeline order.
var AllStages = []Stage{StagePoll, StageTranscribe, StageExport, StageBackup, StageIntegrity}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return slices.Contains(AllStages, s)
}

// ErrorRecord is a diagnostic entry. CaptureID is a weak reference and is
// cleared when the owning capture is deleted.
type ErrorRecord struct {
	ID        string  `json:"id"`
	CaptureID *string `json:"capture_id,omitempty"`
	Stage     Stage   `json:"stage"`
	Message   string  `json:"message"`
	CreatedAt int64   `json:"created_at"`
}

// SyncCursor is a poller-owned key/value checkpoint.
type SyncCursor struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}
