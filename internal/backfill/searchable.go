package backfill

import (
	"fmt"
	"strings"

	"github.com/chatvault/ingest/internal/domain"
)

// BuildSearchableContent derives the searchable text for a message:
// the message text followed by one block per attachment with its title,
// text, field titles/values, and fallback.
func BuildSearchableContent(text string, attachments []domain.Attachment) string {
	var b strings.Builder
	b.WriteString(text)

	for i, att := range attachments {
		fmt.Fprintf(&b, "\n\nAttachment %d", i+1)
		if att.Title != "" {
			b.WriteString("\n" + att.Title)
		}
		if att.Text != "" {
			b.WriteString("\n" + att.Text)
		}
		for _, f := range att.Fields {
			if f.Title != "" || f.Value != "" {
				b.WriteString("\n" + f.Title + "\n" + f.Value)
			}
		}
		if att.Fallback != "" {
			b.WriteString("\n" + att.Fallback)
		}
	}
	return b.String()
}
