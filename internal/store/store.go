// Package store is the PostgreSQL repository. Row merge semantics live in
// SQL functions installed by the migrations (chat.insert_message and
// friends); this package supplies transactions, locking, and the claim
// queries the backfill cursor runs on.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatvault/ingest/internal/domain"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ChannelIDsByName returns the channel_name -> id mapping used to resolve
// export directory names.
func (s *Store) ChannelIDsByName(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT channel_name, id FROM chat.channel`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		m[name] = id
	}
	return m, rows.Err()
}

// InsertMessages writes one batch atomically through chat.insert_message,
// which discards rows that collide on the (ts, channel_id) natural key
// instead of erroring. Passing the whole batch as a single jsonb array
// keeps it one statement and one transaction.
func (s *Store) InsertMessages(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	raws := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		raws[i] = m.Raw
	}
	payload, err := json.Marshal(raws)
	if err != nil {
		return fmt.Errorf("marshal message batch: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`SELECT chat.insert_message($1::jsonb)`, string(payload)); err != nil {
		return fmt.Errorf("insert message batch: %w", err)
	}
	return nil
}

func (s *Store) UpsertUser(ctx context.Context, user map[string]any) error {
	return s.execJSON(ctx, `SELECT chat.upsert_user($1::jsonb)`,
		map[string]any{"user": domain.ScrubMap(user)})
}

func (s *Store) UpsertChannel(ctx context.Context, channel map[string]any) error {
	return s.execJSON(ctx, `SELECT chat.upsert_channel($1::jsonb)`,
		map[string]any{"channel": domain.ScrubMap(channel)})
}

// The live-event mutations mirror the routing table in internal/events.

func (s *Store) InsertMessageEvent(ctx context.Context, event map[string]any) error {
	return s.execJSON(ctx, `SELECT chat.insert_message($1::jsonb)`, domain.ScrubMap(event))
}

func (s *Store) UpdateMessage(ctx context.Context, event map[string]any) error {
	return s.execJSON(ctx, `SELECT chat.update_message($1::jsonb)`, domain.ScrubMap(event))
}

func (s *Store) DeleteMessage(ctx context.Context, event map[string]any) error {
	return s.execJSON(ctx, `SELECT chat.delete_message($1::jsonb)`, event)
}

func (s *Store) AddReaction(ctx context.Context, event map[string]any) error {
	return s.execJSON(ctx, `SELECT chat.add_reaction($1::jsonb)`, event)
}

func (s *Store) RemoveReaction(ctx context.Context, event map[string]any) error {
	return s.execJSON(ctx, `SELECT chat.remove_reaction($1::jsonb)`, event)
}

// InsertRawEvent records an event that could not be routed, together with
// the reason, for later inspection.
func (s *Store) InsertRawEvent(ctx context.Context, event map[string]any, reason string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal raw event: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`SELECT chat.insert_event($1::jsonb, $2)`, string(payload), reason); err != nil {
		return fmt.Errorf("insert raw event: %w", err)
	}
	return nil
}

func (s *Store) execJSON(ctx context.Context, sql string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql, string(payload)); err != nil {
		return fmt.Errorf("exec %q: %w", sql, err)
	}
	return nil
}

// WithJobLock runs fn inside a transaction holding the transaction-scoped
// advisory lock identified by key, if the lock is free. It returns
// (false, nil) without calling fn when another process holds the lock;
// periodic jobs use this to ensure a single runner across the cluster.
func (s *Store) WithJobLock(ctx context.Context, key int64, fn func(ctx context.Context, tx pgx.Tx) error) (bool, error) {
	acquired := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock($1::bigint)`, key).Scan(&locked); err != nil {
			return fmt.Errorf("try advisory lock: %w", err)
		}
		if !locked {
			return nil
		}
		acquired = true
		return fn(ctx, tx)
	})
	return acquired, err
}
