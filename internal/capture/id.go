package capture

import (
	"crypto/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/stash/internal/errors"
)

// IDLength is the fixed length of a capture id.
const IDLength = ulid.EncodedSize

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a time-ordered capture id.
// IDs generated within the same millisecond are strictly increasing.
func NewID() (string, error) {
	return newIDAt(time.Now())
}

func newIDAt(t time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRecordID generates an id for audit and error rows (UUIDv7).
func NewRecordID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidateID checks a capture id before it is used to build a path.
// Accepted ids are exactly 26 upper-case Crockford base32 characters
// (no I, L, O, U) whose timestamp does not overflow.
func ValidateID(id string) error {
	if id == "" {
		return errors.NewInvalidIdentifier(id, "empty")
	}
	if strings.ContainsRune(id, 0) {
		return errors.NewInvalidIdentifier(id, "contains null byte")
	}
	if strings.ContainsAny(id, `/\`) {
		return errors.NewInvalidIdentifier(id, "contains path separator")
	}
	if id == "." || strings.Contains(id, "..") {
		return errors.NewInvalidIdentifier(id, "contains relative path segment")
	}
	if filepath.IsAbs(id) || hasDrivePrefix(id) {
		return errors.NewInvalidIdentifier(id, "absolute path")
	}
	if len(id) != IDLength {
		return errors.NewInvalidIdentifier(id, "wrong length")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if strings.IndexByte(ulid.Encoding, c) >= 0 {
			continue
		}
		switch {
		case c >= 'a' && c <= 'z':
			return errors.NewInvalidIdentifier(id, "lowercase characters not allowed")
		case c == 'I' || c == 'L' || c == 'O' || c == 'U':
			return errors.NewInvalidIdentifier(id, "excluded character "+string(c))
		default:
			return errors.NewInvalidIdentifier(id, "invalid character")
		}
	}
	if _, err := ulid.ParseStrict(id); err != nil {
		return errors.NewInvalidIdentifier(id, err.Error())
	}
	return nil
}

// hasDrivePrefix reports whether s starts with a Windows drive letter ("C:").
func hasDrivePrefix(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0] | 0x20
	return c >= 'a' && c <= 'z'
}
