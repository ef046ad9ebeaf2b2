package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidsearch/internal/database"
	"github.com/snarg/vidsearch/internal/index"
)

// IndexReader serves the read side of the index; *database.DB implements it.
type IndexReader interface {
	ListVideos(ctx context.Context, limit, offset int) ([]database.Video, int, error)
	GetVideo(ctx context.Context, videoID string) (*database.Video, error)
	ListSegments(ctx context.Context, f database.SegmentFilter) ([]database.Segment, error)
	SearchSegments(ctx context.Context, query string, f database.SegmentFilter) ([]database.SegmentHit, error)
	NearestSegments(ctx context.Context, embedding []float32, f database.SegmentFilter) ([]database.SegmentHit, error)
}

type SegmentsHandler struct {
	db       IndexReader
	embedder index.Embedder // nil disables text similarity search
}

func NewSegmentsHandler(db IndexReader, embedder index.Embedder) *SegmentsHandler {
	return &SegmentsHandler{db: db, embedder: embedder}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (h *SegmentsHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	videos, total, err := h.db.ListVideos(r.Context(), p.Limit, p.Offset)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list videos")
		WriteError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	WriteJSON(w, http.StatusOK, listResponse[database.Video]{Items: videos, Total: total, Limit: p.Limit, Offset: p.Offset})
}

func (h *SegmentsHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	v, err := h.db.GetVideo(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to get video")
		WriteError(w, http.StatusInternalServerError, "failed to get video")
		return
	}
	WriteJSON(w, http.StatusOK, v)
}

// segmentFilter reads video_id, topic, keyword, speaker, limit and offset.
func segmentFilter(r *http.Request) (database.SegmentFilter, error) {
	p, err := ParsePagination(r)
	if err != nil {
		return database.SegmentFilter{}, err
	}
	f := database.SegmentFilter{Limit: p.Limit, Offset: p.Offset}
	f.VideoID, _ = QueryString(r, "video_id")
	f.Topic, _ = QueryString(r, "topic")
	f.Keyword, _ = QueryString(r, "keyword")
	if n, ok := QueryInt(r, "speaker"); ok {
		f.Speaker = &n
	}
	return f, nil
}

func (h *SegmentsHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	f, err := segmentFilter(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	segs, err := h.db.ListSegments(r.Context(), f)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list segments")
		WriteError(w, http.StatusInternalServerError, "failed to list segments")
		return
	}
	WriteJSON(w, http.StatusOK, listResponse[database.Segment]{Items: segs, Limit: f.Limit, Offset: f.Offset})
}

// SearchSegments runs a full-text search: GET /segments/search?q=...
func (h *SegmentsHandler) SearchSegments(w http.ResponseWriter, r *http.Request) {
	q, ok := QueryString(r, "q")
	if !ok {
		WriteError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	f, err := segmentFilter(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	hits, err := h.db.SearchSegments(r.Context(), q, f)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("q", q).Msg("segment search failed")
		WriteError(w, http.StatusInternalServerError, "search failed")
		return
	}
	WriteJSON(w, http.StatusOK, listResponse[database.SegmentHit]{Items: hits, Limit: f.Limit, Offset: f.Offset})
}

type nearestRequest struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	VideoID   string    `json:"video_id"`
	Topic     string    `json:"topic"`
	Limit     int       `json:"limit"`
}

// NearestSegments finds segments similar to a text or a raw embedding.
func (h *SegmentsHandler) NearestSegments(w http.ResponseWriter, r *http.Request) {
	var req nearestRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	vec := req.Embedding
	if len(vec) == 0 {
		if req.Text == "" {
			WriteError(w, http.StatusBadRequest, "text or embedding is required")
			return
		}
		if h.embedder == nil {
			WriteError(w, http.StatusServiceUnavailable, "embeddings not configured")
			return
		}
		vecs, err := h.embedder.Embed(r.Context(), []string{req.Text})
		if err != nil || len(vecs) != 1 {
			hlog.FromRequest(r).Error().Err(err).Msg("embedding query text failed")
			WriteError(w, http.StatusBadGateway, "failed to embed text")
			return
		}
		vec = vecs[0]
	}

	f := database.SegmentFilter{VideoID: req.VideoID, Topic: req.Topic, Limit: req.Limit}
	hits, err := h.db.NearestSegments(r.Context(), vec, f)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("nearest segment search failed")
		WriteError(w, http.StatusInternalServerError, "search failed")
		return
	}
	WriteJSON(w, http.StatusOK, listResponse[database.SegmentHit]{Items: hits, Limit: len(hits)})
}

func (h *SegmentsHandler) Routes(r chi.Router) {
	r.Get("/videos", h.ListVideos)
	r.Get("/videos/{id}", h.GetVideo)
	r.Get("/segments", h.ListSegments)
	r.Get("/segments/search", h.SearchSegments)
	r.Post("/segments/nearest", h.NearestSegments)
}
