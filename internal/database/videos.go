package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Video is one row of the videos table.
type Video struct {
	VideoID         string    `json:"video_id"`
	Title           string    `json:"video_title"`
	VideoURI        string    `json:"video_uri"`
	AudioURI        string    `json:"audio_uri,omitempty"`
	TranscriptURI   string    `json:"transcript_uri"`
	DurationSeconds float64   `json:"duration_seconds"`
	TotalSegments   int       `json:"total_segments"`
	TotalSpeakers   int       `json:"total_speakers"`
	HasDiarization  bool      `json:"has_diarization"`
	HasOCR          bool      `json:"has_ocr"`
	ProcessedAt     time.Time `json:"processed_at"`
}

const videoColumns = `video_id, video_title, video_uri, coalesce(audio_uri, ''), transcript_uri,
	coalesce(duration_seconds, 0), coalesce(total_segments, 0), coalesce(total_speakers, 0),
	has_diarization, has_ocr, processed_at`

func scanVideo(row pgx.Row) (Video, error) {
	var v Video
	err := row.Scan(&v.VideoID, &v.Title, &v.VideoURI, &v.AudioURI, &v.TranscriptURI,
		&v.DurationSeconds, &v.TotalSegments, &v.TotalSpeakers,
		&v.HasDiarization, &v.HasOCR, &v.ProcessedAt)
	return v, err
}

// UpsertVideo inserts or replaces the metadata row for a video.
func (db *DB) UpsertVideo(ctx context.Context, v Video) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO videos (video_id, video_title, video_uri, audio_uri, transcript_uri,
			duration_seconds, total_segments, total_speakers, has_diarization, has_ocr, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (video_id) DO UPDATE SET
			video_title = EXCLUDED.video_title,
			video_uri = EXCLUDED.video_uri,
			audio_uri = EXCLUDED.audio_uri,
			transcript_uri = EXCLUDED.transcript_uri,
			duration_seconds = EXCLUDED.duration_seconds,
			total_segments = EXCLUDED.total_segments,
			total_speakers = EXCLUDED.total_speakers,
			has_diarization = EXCLUDED.has_diarization,
			has_ocr = EXCLUDED.has_ocr,
			processed_at = now()`,
		v.VideoID, v.Title, v.VideoURI, pqString(v.AudioURI), v.TranscriptURI,
		v.DurationSeconds, v.TotalSegments, v.TotalSpeakers, v.HasDiarization, v.HasOCR,
	)
	return err
}

func (db *DB) GetVideo(ctx context.Context, videoID string) (*Video, error) {
	v, err := scanVideo(db.Pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE video_id = $1`, videoID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVideos returns indexed videos, most recently processed first.
func (db *DB) ListVideos(ctx context.Context, limit, offset int) ([]Video, int, error) {
	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM videos`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY processed_at DESC, video_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	videos := []Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, 0, err
		}
		videos = append(videos, v)
	}
	return videos, total, rows.Err()
}
