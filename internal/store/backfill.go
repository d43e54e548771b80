package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/chatvault/ingest/internal/domain"
)

// PendingRow is one claimed message still missing searchable content.
type PendingRow struct {
	TS          time.Time
	ChannelID   string
	Text        string
	Attachments []domain.Attachment
}

// RowUpdate carries the writeback for one claimed row. A nil Embedding
// leaves the stored embedding untouched.
type RowUpdate struct {
	TS                time.Time
	ChannelID         string
	SearchableContent string
	Embedding         []float32
}

// BackfillStore is the claim surface the backfill cursor drives. The
// in-database implementation below relies on row locks; tests substitute
// an in-memory implementation with the same claim-exclusion semantics.
type BackfillStore interface {
	// PendingCounts reports (total rows missing searchable content,
	// rows among them without attachments).
	PendingCounts(ctx context.Context) (total, fastOnly int64, err error)

	// FastFill sets searchable_content = text for up to limit rows without
	// attachments, entirely in the database, skipping rows locked by other
	// claimers. Returns the number of rows updated.
	FastFill(ctx context.Context, limit int) (int64, error)

	// ClaimEnrich locks up to limit pending rows with attachments, hands
	// them to enrich, applies the returned updates, and commits, all in
	// one transaction. Any error from enrich or the writeback rolls the
	// whole claim back, returning the rows to the unprocessed state.
	// Returns the number of rows claimed (0 = backlog drained).
	ClaimEnrich(ctx context.Context, limit int,
		enrich func(ctx context.Context, rows []PendingRow) ([]RowUpdate, error)) (int, error)
}

const pendingPredicate = `searchable_content IS NULL`
const hasAttachments = `attachments IS NOT NULL AND jsonb_array_length(attachments) > 0`

func (s *Store) PendingCounts(ctx context.Context) (int64, int64, error) {
	var total, fastOnly int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE NOT (`+hasAttachments+`))
		FROM chat.message
		WHERE `+pendingPredicate).Scan(&total, &fastOnly)
	if err != nil {
		return 0, 0, fmt.Errorf("count pending rows: %w", err)
	}
	return total, fastOnly, nil
}

func (s *Store) FastFill(ctx context.Context, limit int) (int64, error) {
	var updated int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE chat.message
			SET searchable_content = text
			WHERE (ts, channel_id) IN (
				SELECT ts, channel_id
				FROM chat.message
				WHERE `+pendingPredicate+`
				  AND NOT (`+hasAttachments+`)
				ORDER BY channel_id, ts
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)`, limit)
		if err != nil {
			return fmt.Errorf("fast-path update: %w", err)
		}
		updated = tag.RowsAffected()
		return nil
	})
	return updated, err
}

func (s *Store) ClaimEnrich(ctx context.Context, limit int,
	enrich func(ctx context.Context, rows []PendingRow) ([]RowUpdate, error)) (int, error) {

	claimed := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT ts, channel_id, text, attachments
			FROM chat.message
			WHERE `+pendingPredicate+`
			  AND `+hasAttachments+`
			ORDER BY channel_id, ts
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("claim pending rows: %w", err)
		}

		var pending []PendingRow
		for rows.Next() {
			var (
				r      PendingRow
				rawAtt []byte
			)
			if err := rows.Scan(&r.TS, &r.ChannelID, &r.Text, &rawAtt); err != nil {
				rows.Close()
				return err
			}
			if len(rawAtt) > 0 {
				if err := json.Unmarshal(rawAtt, &r.Attachments); err != nil {
					rows.Close()
					return fmt.Errorf("decode attachments: %w", err)
				}
			}
			pending = append(pending, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		// The claim transaction deliberately stays open across the
		// enrichment round-trip: commit releases the row locks at the
		// same instant the rows leave the unprocessed predicate.
		updates, err := enrich(ctx, pending)
		if err != nil {
			return err
		}

		var b pgx.Batch
		for _, u := range updates {
			var vec *pgvector.Vector
			if u.Embedding != nil {
				v := pgvector.NewVector(u.Embedding)
				vec = &v
			}
			b.Queue(`
				UPDATE chat.message
				SET searchable_content = $1,
				    embedding = COALESCE($2, embedding)
				WHERE ts = $3 AND channel_id = $4`,
				u.SearchableContent, vec, u.TS, u.ChannelID)
		}
		if err := tx.SendBatch(ctx, &b).Close(); err != nil {
			return fmt.Errorf("write back enriched rows: %w", err)
		}
		claimed = len(pending)
		return nil
	})
	return claimed, err
}

var _ BackfillStore = (*Store)(nil)
