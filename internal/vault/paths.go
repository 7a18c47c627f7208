// Package vault publishes rendered captures into the flat-file vault with a
// crash-safe temp-then-rename write.
package vault

import (
	"path"
	"path/filepath"
)

// Vault layout under the root.
const (
	InboxDir = "inbox"
	TrashDir = ".trash"
)

// Paths resolves vault file locations for a validated capture id.
// Callers must run capture.ValidateID first; Paths does no checking.
type Paths struct {
	Root string
}

// Dest is the published note: <root>/inbox/<id>.md.
func (p Paths) Dest(id string) string {
	return filepath.Join(p.Root, InboxDir, id+".md")
}

// Staging is the temp file renamed onto Dest: <root>/.trash/<id>.tmp.
func (p Paths) Staging(id string) string {
	return filepath.Join(p.Root, TrashDir, id+".tmp")
}

// Conflict holds rendered content that could not be published because Dest
// already held different bytes: <root>/.trash/<id>.conflict.
func (p Paths) Conflict(id string) string {
	return filepath.Join(p.Root, TrashDir, id+".conflict")
}

// Inbox is the destination directory.
func (p Paths) Inbox() string {
	return filepath.Join(p.Root, InboxDir)
}

// Trash is the staging directory.
func (p Paths) Trash() string {
	return filepath.Join(p.Root, TrashDir)
}

// RelDest is Dest relative to the root with forward slashes, as recorded in
// exports_audit.vault_path.
func RelDest(id string) string {
	return path.Join(InboxDir, id+".md")
}
