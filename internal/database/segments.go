package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Segment is one row of the video_segments table.
type Segment struct {
	SegmentID        string    `json:"segment_id"`
	VideoID          string    `json:"video_id"`
	VideoTitle       string    `json:"video_title"`
	StartTimeSeconds float64   `json:"start_time_seconds"`
	EndTimeSeconds   float64   `json:"end_time_seconds"`
	StartTimeInt     int       `json:"start_time_int"`
	DurationSeconds  float64   `json:"duration_seconds"`
	Transcript       string    `json:"transcript"`
	SlideText        string    `json:"slide_text"`
	CombinedText     string    `json:"combined_text"`
	Keywords         []string  `json:"keywords"`
	Topics           []string  `json:"topics"`
	SpeakerTag       int       `json:"speaker_tag"`
	WordCount        int       `json:"word_count"`
	CharCount        int       `json:"char_count"`
	VideoURI         string    `json:"video_uri"`
	TranscriptURI    string    `json:"transcript_uri"`
	IndexedAt        time.Time `json:"indexed_at"`
}

// SegmentHit is a search result with its score. Score is ts_rank for text
// search and cosine similarity for nearest-neighbour search.
type SegmentHit struct {
	Segment
	Score float64 `json:"score"`
}

// SegmentFilter narrows segment queries. Zero values are ignored.
type SegmentFilter struct {
	VideoID string
	Topic   string
	Keyword string
	Speaker *int
	Limit   int
	Offset  int
}

func (f SegmentFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	if f.Limit > 500 {
		return 500
	}
	return f.Limit
}

const segmentColumns = `s.segment_id, s.video_id, s.video_title, s.start_time_seconds, s.end_time_seconds,
	s.start_time_int, coalesce(s.duration_seconds, 0), coalesce(s.transcript, ''), coalesce(s.slide_text, ''),
	coalesce(s.combined_text, ''), s.keywords, s.topics, s.speaker_tag, coalesce(s.word_count, 0),
	coalesce(s.char_count, 0), s.video_uri, s.transcript_uri, s.indexed_at`

func scanSegment(row pgx.Row, extra ...any) (Segment, error) {
	var s Segment
	dest := []any{&s.SegmentID, &s.VideoID, &s.VideoTitle, &s.StartTimeSeconds, &s.EndTimeSeconds,
		&s.StartTimeInt, &s.DurationSeconds, &s.Transcript, &s.SlideText,
		&s.CombinedText, &s.Keywords, &s.Topics, &s.SpeakerTag, &s.WordCount,
		&s.CharCount, &s.VideoURI, &s.TranscriptURI, &s.IndexedAt}
	err := row.Scan(append(dest, extra...)...)
	return s, err
}

// filterClause appends the shared filter predicates. Parameters start at
// len(args)+1 so callers can bind their own arguments first.
func filterClause(f SegmentFilter, args []any) (string, []any) {
	n := len(args)
	clause := fmt.Sprintf(`($%d::text IS NULL OR s.video_id = $%d)
		AND ($%d::text IS NULL OR $%d = ANY(s.topics))
		AND ($%d::text IS NULL OR $%d = ANY(s.keywords))
		AND ($%d::int IS NULL OR s.speaker_tag = $%d)`,
		n+1, n+1, n+2, n+2, n+3, n+3, n+4, n+4)
	var speaker any
	if f.Speaker != nil {
		speaker = *f.Speaker
	}
	args = append(args, pqString(f.VideoID), pqString(f.Topic), pqString(strings.ToLower(f.Keyword)), speaker)
	return clause, args
}

// buildListQuery returns the SQL and arguments for ListSegments.
func buildListQuery(f SegmentFilter) (string, []any) {
	where, args := filterClause(f, nil)
	args = append(args, f.limit(), f.Offset)
	sql := `SELECT ` + segmentColumns + ` FROM video_segments s WHERE ` + where +
		fmt.Sprintf(` ORDER BY s.video_id, s.start_time_seconds LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return sql, args
}

// buildSearchQuery returns the SQL and arguments for SearchSegments.
func buildSearchQuery(query string, f SegmentFilter) (string, []any) {
	where, args := filterClause(f, []any{query})
	args = append(args, f.limit(), f.Offset)
	sql := `SELECT ` + segmentColumns + `,
		ts_rank(to_tsvector('english', coalesce(s.combined_text, '')), websearch_to_tsquery('english', $1)) AS score
		FROM video_segments s
		WHERE to_tsvector('english', coalesce(s.combined_text, '')) @@ websearch_to_tsquery('english', $1)
		AND ` + where +
		fmt.Sprintf(` ORDER BY score DESC, s.segment_id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return sql, args
}

// buildNearestQuery returns the SQL and arguments for NearestSegments.
func buildNearestQuery(embedding []float32, f SegmentFilter) (string, []any) {
	where, args := filterClause(f, []any{pgvector.NewVector(embedding)})
	args = append(args, f.limit())
	sql := `SELECT ` + segmentColumns + `, 1 - (s.embedding <=> $1) AS score
		FROM video_segments s
		WHERE s.embedding IS NOT NULL AND ` + where +
		fmt.Sprintf(` ORDER BY s.embedding <=> $1 LIMIT $%d`, len(args))
	return sql, args
}

// UpsertSegments writes segments in one batch, replacing rows with the same
// segment_id. Embeddings already stored for a segment are kept.
func (db *DB) UpsertSegments(ctx context.Context, segs []Segment) error {
	if len(segs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range segs {
		batch.Queue(`
			INSERT INTO video_segments (segment_id, video_id, video_title, start_time_seconds, end_time_seconds,
				start_time_int, duration_seconds, transcript, slide_text, combined_text, keywords, topics,
				speaker_tag, word_count, char_count, video_uri, transcript_uri, indexed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
			ON CONFLICT (segment_id) DO UPDATE SET
				video_id = EXCLUDED.video_id,
				video_title = EXCLUDED.video_title,
				start_time_seconds = EXCLUDED.start_time_seconds,
				end_time_seconds = EXCLUDED.end_time_seconds,
				start_time_int = EXCLUDED.start_time_int,
				duration_seconds = EXCLUDED.duration_seconds,
				transcript = EXCLUDED.transcript,
				slide_text = EXCLUDED.slide_text,
				combined_text = EXCLUDED.combined_text,
				keywords = EXCLUDED.keywords,
				topics = EXCLUDED.topics,
				speaker_tag = EXCLUDED.speaker_tag,
				word_count = EXCLUDED.word_count,
				char_count = EXCLUDED.char_count,
				video_uri = EXCLUDED.video_uri,
				transcript_uri = EXCLUDED.transcript_uri,
				indexed_at = now()`,
			s.SegmentID, s.VideoID, s.VideoTitle, s.StartTimeSeconds, s.EndTimeSeconds,
			s.StartTimeInt, s.DurationSeconds, s.Transcript, s.SlideText, s.CombinedText,
			nonNil(s.Keywords), nonNil(s.Topics), s.SpeakerTag, s.WordCount, s.CharCount,
			s.VideoURI, s.TranscriptURI,
		)
	}
	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range segs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert segment %s: %w", segs[i].SegmentID, err)
		}
	}
	return br.Close()
}

// DeleteStaleSegments removes segments of videoID not in keep, so a
// re-indexed video with fewer segments leaves no orphans.
func (db *DB) DeleteStaleSegments(ctx context.Context, videoID string, keep []string) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM video_segments WHERE video_id = $1 AND NOT (segment_id = ANY($2))`,
		videoID, nonNil(keep))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *DB) ListSegments(ctx context.Context, f SegmentFilter) ([]Segment, error) {
	sql, args := buildListQuery(f)
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segs := []Segment{}
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

// SearchSegments ranks segments by full-text match of query against their
// combined text. query accepts web search syntax ("quoted phrases", -excluded, or).
func (db *DB) SearchSegments(ctx context.Context, query string, f SegmentFilter) ([]SegmentHit, error) {
	sql, args := buildSearchQuery(query, f)
	return db.queryHits(ctx, sql, args)
}

// NearestSegments returns the segments whose embeddings are closest to
// embedding by cosine distance.
func (db *DB) NearestSegments(ctx context.Context, embedding []float32, f SegmentFilter) ([]SegmentHit, error) {
	sql, args := buildNearestQuery(embedding, f)
	return db.queryHits(ctx, sql, args)
}

func (db *DB) queryHits(ctx context.Context, sql string, args []any) ([]SegmentHit, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []SegmentHit{}
	for rows.Next() {
		var score float64
		s, err := scanSegment(rows, &score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, SegmentHit{Segment: s, Score: score})
	}
	return hits, rows.Err()
}

// SetEmbeddings stores one embedding per segment id.
func (db *DB) SetEmbeddings(ctx context.Context, ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("set embeddings: %d ids for %d embeddings", len(ids), len(embeddings))
	}
	if len(ids) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, id := range ids {
		batch.Queue(`UPDATE video_segments SET embedding = $2 WHERE segment_id = $1`,
			id, pgvector.NewVector(embeddings[i]))
	}
	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, id := range ids {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("set embedding %s: %w", id, err)
		}
	}
	return br.Close()
}

// EmbeddingStats reports how many segments have an embedding.
func (db *DB) EmbeddingStats(ctx context.Context) (total, embedded int, err error) {
	err = db.Pool.QueryRow(ctx,
		`SELECT count(*), count(embedding) FROM video_segments`).Scan(&total, &embedded)
	return total, embedded, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
