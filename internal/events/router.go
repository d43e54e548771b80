package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type routeKey struct {
	kind    string
	subtype string
}

// Handler mutates the store for one event variant.
type Handler func(ctx context.Context, raw map[string]any) error

// Router dispatches envelopes through a closed routing table keyed by
// (kind, subtype). Unrouted events are logged and archived, never dropped
// silently.
type Router struct {
	routes map[routeKey]Handler
	store  EventStore
	logger *zap.Logger
}

func NewRouter(st EventStore, logger *zap.Logger) *Router {
	r := &Router{
		routes: make(map[routeKey]Handler),
		store:  st,
		logger: logger,
	}

	insert := func(ctx context.Context, raw map[string]any) error {
		return st.InsertMessageEvent(ctx, raw)
	}
	for _, sub := range []string{"", "bot_message", "thread_broadcast", "file_share"} {
		r.routes[routeKey{"message", sub}] = insert
	}
	r.routes[routeKey{"message", "message_changed"}] = st.UpdateMessage
	r.routes[routeKey{"message", "message_deleted"}] = st.DeleteMessage

	// Directory events carry the record nested under "user"/"channel";
	// the store methods expect the bare record, as the SQL merge
	// functions re-wrap it themselves.
	for _, kind := range []string{"channel_created", "channel_rename"} {
		r.routes[routeKey{kind, ""}] = unwrap("channel", st.UpsertChannel)
	}
	for _, kind := range []string{"user_change", "user_profile_changed", "team_join"} {
		r.routes[routeKey{kind, ""}] = unwrap("user", st.UpsertUser)
	}
	r.routes[routeKey{"reaction_added", ""}] = st.AddReaction
	r.routes[routeKey{"reaction_removed", ""}] = st.RemoveReaction

	return r
}

// unwrap extracts the nested object at key before calling fn. An event
// without the object is malformed; the error propagates to the caller like
// any handler failure.
func unwrap(key string, fn Handler) Handler {
	return func(ctx context.Context, raw map[string]any) error {
		obj, ok := raw[key].(map[string]any)
		if !ok {
			return fmt.Errorf("event has no %q object", key)
		}
		return fn(ctx, obj)
	}
}

// Dispatch routes one envelope. A miss is recorded as a raw event with the
// reason "unrouted"; handler failures are returned to the caller, which
// decides whether the event source acknowledges or redelivers.
func (r *Router) Dispatch(ctx context.Context, env Envelope) error {
	h, ok := r.routes[routeKey{env.Kind, env.Subtype}]
	if !ok {
		r.logger.Warn("unrouted event",
			zap.String("kind", env.Kind), zap.String("subtype", env.Subtype))
		return r.store.InsertRawEvent(ctx, env.Raw, "unrouted")
	}
	return h(ctx, env.Raw)
}
