package capture

// Source identifies which intake channel family produced a capture.
type Source string

const (
	SourceVoice Source = "voice"
	SourceEmail Source = "email"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceVoice || s == SourceEmail
}

// Meta holds structured attributes of a capture.
// Channel and ChannelNativeID form the source dedup key; Extra carries
// source-specific fields (subject, sender, audio path, duration...).
type Meta struct {
	// Channel is the upstream system the item came from (e.g. "gmail", "voice-memos")
	Channel string `json:"channel,omitempty"`

	// ChannelNativeID is the upstream system's own identifier for the item
	ChannelNativeID string `json:"channel_native_id,omitempty"`

	// Extra is an open map of source-specific attributes
	Extra map[string]string `json:"extra,omitempty"`
}

// HasSourceKey reports whether both halves of the source dedup key are present.
func (m Meta) HasSourceKey() bool {
	return m.Channel != "" && m.ChannelNativeID != ""
}

// Capture is one staged artifact.
type Capture struct {
	// ID is a ULID assigned at intake; it is the vault filename stem
	ID string `json:"id"`

	// Source is voice or email
	Source Source `json:"source"`

	// RawContent is the transcript or email body
	RawContent string `json:"raw_content"`

	// ContentHash is the SHA-256 hex digest of the finalized content (nullable)
	ContentHash *string `json:"content_hash,omitempty"`

	// Status is the current state machine position
	Status Status `json:"status"`

	// Meta holds channel identity and source-specific attributes
	Meta Meta `json:"meta"`

	// DuplicateOf points at the capture that already owns this content hash (nullable)
	DuplicateOf *string `json:"duplicate_of,omitempty"`

	// CreatedAt is the Unix millisecond timestamp of intake
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix millisecond timestamp of the last mutation
	UpdatedAt int64 `json:"updated_at"`
}

// Summary returns the capture's metadata without the raw content.
func (c *Capture) Summary() Summary {
	return Summary{
		ID:              c.ID,
		Source:          c.Source,
		Status:          c.Status,
		Channel:         c.Meta.Channel,
		ChannelNativeID: c.Meta.ChannelNativeID,
		ContentHash:     c.ContentHash,
		DuplicateOf:     c.DuplicateOf,
		ContentChars:    CountChars(c.RawContent),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// Summary is a capture without its raw content.
// Used for browse operations (list, recent) to reduce data transfer.
type Summary struct {
	ID              string  `json:"id"`
	Source          Source  `json:"source"`
	Status          Status  `json:"status"`
	Channel         string  `json:"channel,omitempty"`
	ChannelNativeID string  `json:"channel_native_id,omitempty"`
	ContentHash     *string `json:"content_hash,omitempty"`
	DuplicateOf     *string `json:"duplicate_of,omitempty"`
	ContentChars    int     `json:"content_chars"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}
