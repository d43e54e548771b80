package domain

import "time"

// Message is one chat message flowing through the ingest pipeline.
// (TS, ChannelID) is the natural key; the store's upsert discards
// duplicates on it, so redelivery is harmless.
type Message struct {
	// TS is the platform timestamp string, e.g. "1712345678.000100".
	// It is kept verbatim because fractional digits are part of the key.
	TS        string
	ChannelID string
	UserID    string
	Text      string

	// Cost is the token count of Text, computed once at read time and
	// used by the batcher to bound flush sizes.
	Cost int

	// SearchableContent is derived from Text plus attachment metadata.
	// Nil until the backfill (or the live path) computes it.
	SearchableContent *string

	// Embedding is the enrichment vector. Nil until embedded.
	Embedding []float32

	// Raw is the original payload, passed through to the store's
	// insert function unmodified apart from null-byte scrubbing and
	// the channel stamp.
	Raw map[string]any
}

// Attachment carries the subset of attachment fields that contribute
// to searchable content.
type Attachment struct {
	Title    string            `json:"title,omitempty"`
	Text     string            `json:"text,omitempty"`
	Fallback string            `json:"fallback,omitempty"`
	Fields   []AttachmentField `json:"fields,omitempty"`
}

type AttachmentField struct {
	Title string `json:"title,omitempty"`
	Value string `json:"value,omitempty"`
}

// SchemaVersion is the single bookkeeping row mutated only by the
// migration runner.
type SchemaVersion struct {
	Version   string
	AppliedAt time.Time
}
