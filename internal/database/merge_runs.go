package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/scribe-engine/internal/merge"
)

// MergeRunRow is the input for inserting a merge run with its segments.
type MergeRunRow struct {
	ID           string
	Source       string
	Name         string
	SegmentCount int
	UnknownCount int
	Speakers     []string
	TalkTimeMs   map[string]int64
	DurationMs   int64
	Segments     []merge.MergedSegment
}

// MergeRunAPI is the merge run representation for API responses.
type MergeRunAPI struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	Name         string           `json:"name,omitempty"`
	SegmentCount int              `json:"segment_count"`
	UnknownCount int              `json:"unknown_count"`
	Speakers     []string         `json:"speakers"`
	TalkTimeMs   map[string]int64 `json:"talk_time_ms"`
	DurationMs   int64            `json:"duration_ms"`
	CreatedAt    time.Time        `json:"created_at"`
}

// MergeRunFilter specifies filters for listing merge runs.
type MergeRunFilter struct {
	Source string
	Limit  int
	Offset int
}

const mergeRunColumns = `id, source, name, segment_count, unknown_count,
	speakers, talk_time_ms, duration_ms, created_at`

// InsertMergeRun stores a run and bulk-copies its segments in one transaction.
// Inserting an ID that already exists is a no-op.
func (db *DB) InsertMergeRun(ctx context.Context, row *MergeRunRow) error {
	speakers := row.Speakers
	if speakers == nil {
		speakers = []string{}
	}
	talkTime := row.TalkTimeMs
	if talkTime == nil {
		talkTime = map[string]int64{}
	}
	talkTimeJSON, err := json.Marshal(talkTime)
	if err != nil {
		return fmt.Errorf("marshal talk time: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO merge_runs (
			id, source, name, segment_count, unknown_count,
			speakers, talk_time_ms, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`,
		row.ID, row.Source, row.Name, row.SegmentCount, row.UnknownCount,
		speakers, json.RawMessage(talkTimeJSON), row.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert merge run: %w", err)
	}
	// Same ID means same inputs; the stored run already has these segments.
	if tag.RowsAffected() == 0 {
		db.log.Debug().Str("run_id", row.ID).Msg("merge run already stored, skipping")
		return nil
	}

	if len(row.Segments) > 0 {
		copyRows := make([][]any, len(row.Segments))
		for i, s := range row.Segments {
			copyRows[i] = []any{row.ID, i, s.StartMs, s.EndMs, s.Speaker, s.Text}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"merged_segments"},
			[]string{"run_id", "idx", "start_ms", "end_ms", "speaker", "text"},
			pgx.CopyFromRows(copyRows),
		)
		if err != nil {
			return fmt.Errorf("copy merged segments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetMergeRun returns a single run by ID, or ErrNotFound.
func (db *DB) GetMergeRun(ctx context.Context, id string) (*MergeRunAPI, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+mergeRunColumns+` FROM merge_runs WHERE id = $1`, id)
	r, err := scanMergeRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListMergeRuns returns runs newest first along with the unpaginated total.
func (db *DB) ListMergeRuns(ctx context.Context, q MergeRunFilter) ([]MergeRunAPI, int, error) {
	var f filter
	if q.Source != "" {
		f.eq("source", q.Source)
	}

	var total int
	if err := db.Pool.QueryRow(ctx, "SELECT count(*) FROM merge_runs"+f.where(), f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count merge runs: %w", err)
	}

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	where := f.where()
	paging := f.page(limit, max(q.Offset, 0))

	rows, err := db.Pool.Query(ctx,
		"SELECT "+mergeRunColumns+" FROM merge_runs"+where+" ORDER BY created_at DESC, id"+paging,
		f.args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list merge runs: %w", err)
	}
	defer rows.Close()

	runs := []MergeRunAPI{}
	for rows.Next() {
		r, err := scanMergeRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *r)
	}
	return runs, total, rows.Err()
}

// ListMergedSegments returns a run's segments in transcript order. An empty
// speaker returns all of them.
func (db *DB) ListMergedSegments(ctx context.Context, runID, speaker string) ([]merge.MergedSegment, error) {
	var f filter
	f.eq("run_id", runID)
	if speaker != "" {
		f.eq("speaker", speaker)
	}

	rows, err := db.Pool.Query(ctx,
		"SELECT start_ms, end_ms, text, speaker FROM merged_segments"+f.where()+" ORDER BY idx",
		f.args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segs := []merge.MergedSegment{}
	for rows.Next() {
		var s merge.MergedSegment
		if err := rows.Scan(&s.StartMs, &s.EndMs, &s.Text, &s.Speaker); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

func scanMergeRun(row pgx.Row) (*MergeRunAPI, error) {
	var r MergeRunAPI
	var talkTime []byte
	if err := row.Scan(
		&r.ID, &r.Source, &r.Name, &r.SegmentCount, &r.UnknownCount,
		&r.Speakers, &talkTime, &r.DurationMs, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(talkTime) > 0 {
		if err := json.Unmarshal(talkTime, &r.TalkTimeMs); err != nil {
			return nil, fmt.Errorf("decode talk time: %w", err)
		}
	}
	if r.Speakers == nil {
		r.Speakers = []string{}
	}
	if r.TalkTimeMs == nil {
		r.TalkTimeMs = map[string]int64{}
	}
	return &r, nil
}
