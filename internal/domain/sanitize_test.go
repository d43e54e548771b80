package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubNestedStructure(t *testing.T) {
	in := map[string]any{
		"text": "hel\x00lo",
		"user": map[string]any{"name": "a\x00b"},
		"attachments": []any{
			map[string]any{"title": "\x00start"},
			"plain\x00",
		},
		"count": float64(3),
		"ok":    true,
		"none":  nil,
	}

	out := ScrubMap(in)

	assert.Equal(t, "hello", out["text"])
	assert.Equal(t, "ab", out["user"].(map[string]any)["name"])
	atts := out["attachments"].([]any)
	assert.Equal(t, "start", atts[0].(map[string]any)["title"])
	assert.Equal(t, "plain", atts[1])
	assert.Equal(t, float64(3), out["count"])
	assert.Equal(t, true, out["ok"])
	assert.Nil(t, out["none"])
}

func TestScrubLeavesCleanStringsAlone(t *testing.T) {
	assert.Equal(t, "no nulls here", Scrub("no nulls here"))
}
