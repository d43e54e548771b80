// Package events routes live chat-platform events to store mutations.
// The wire protocol itself belongs to an external gateway; the boundary
// here is a decoded envelope with a kind and an optional subtype, routed
// through an explicit table rather than ad-hoc string matching.
package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Envelope is one decoded event. Raw holds the full payload for the store
// functions, which consume the original structure.
type Envelope struct {
	Kind    string
	Subtype string
	Raw     map[string]any
}

// Parse decodes an event payload into an Envelope.
func Parse(data []byte) (Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	env := Envelope{Raw: raw}
	if k, ok := raw["type"].(string); ok {
		env.Kind = k
	}
	if s, ok := raw["subtype"].(string); ok {
		env.Subtype = s
	}
	return env, nil
}

// EventStore is the mutation surface events dispatch to.
type EventStore interface {
	InsertMessageEvent(ctx context.Context, event map[string]any) error
	UpdateMessage(ctx context.Context, event map[string]any) error
	DeleteMessage(ctx context.Context, event map[string]any) error
	UpsertUser(ctx context.Context, user map[string]any) error
	UpsertChannel(ctx context.Context, channel map[string]any) error
	AddReaction(ctx context.Context, event map[string]any) error
	RemoveReaction(ctx context.Context, event map[string]any) error
	InsertRawEvent(ctx context.Context, event map[string]any, reason string) error
}
