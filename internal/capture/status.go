package capture

import (
	"fmt"

	"github.com/hpungsan/stash/internal/errors"
)

// Status is a capture's position in the state machine.
type Status string

const (
	StatusStaged              Status = "staged"
	StatusTranscribed         Status = "transcribed"
	StatusFailedTranscription Status = "failed_transcription"
	StatusExported            Status = "exported"
	StatusExportedDuplicate   Status = "exported_duplicate"
	StatusExportedPlaceholder Status = "exported_placeholder"
)

// transitions lists the legal forward moves. States absent as keys are terminal.
var transitions = map[Status][]Status{
	StatusStaged:      {StatusTranscribed, StatusFailedTranscription},
	StatusTranscribed: {StatusExported, StatusExportedDuplicate, StatusExportedPlaceholder},
}

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{
	StatusStaged,
	StatusTranscribed,
	StatusFailedTranscription,
	StatusExported,
	StatusExportedDuplicate,
	StatusExportedPlaceholder,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// IsExported reports whether s is one of the three export outcomes.
func (s Status) IsExported() bool {
	return s == StatusExported || s == StatusExportedDuplicate || s == StatusExportedPlaceholder
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an INVALID_TRANSITION error if the move is illegal.
func ValidateTransition(id string, from, to Status) error {
	if !CanTransition(from, to) {
		return errors.NewInvalidTransition(id, string(from), string(to))
	}
	return nil
}
