package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidsearch/internal/database"
	"github.com/snarg/vidsearch/internal/quiz"
)

// QuizGenerator builds and stores a quiz; *quiz.Generator implements it.
type QuizGenerator interface {
	Generate(ctx context.Context, req quiz.Request) (*quiz.Result, error)
}

// SegmentSearcher fetches quiz material when a request names a query
// instead of segments.
type SegmentSearcher interface {
	SearchSegments(ctx context.Context, query string, f database.SegmentFilter) ([]database.SegmentHit, error)
}

type QuizHandler struct {
	gen    QuizGenerator
	search SegmentSearcher // may be nil
}

func NewQuizHandler(gen QuizGenerator, search SegmentSearcher) *QuizHandler {
	return &QuizHandler{gen: gen, search: search}
}

type quizRequest struct {
	quiz.Request
	// Query selects segments by full-text search when Segments is empty.
	Query   string `json:"query"`
	VideoID string `json:"video_id"`
}

func (h *QuizHandler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req quizRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Segments) == 0 && req.Query != "" {
		if h.search == nil {
			WriteError(w, http.StatusServiceUnavailable, "segment search not configured")
			return
		}
		hits, err := h.search.SearchSegments(r.Context(), req.Query, database.SegmentFilter{VideoID: req.VideoID, Limit: 30})
		if err != nil {
			log.Error().Err(err).Str("query", req.Query).Msg("quiz segment search failed")
			WriteError(w, http.StatusInternalServerError, "search failed")
			return
		}
		req.Segments = segmentInputs(hits)
	}

	res, err := h.gen.Generate(r.Context(), req.Request)
	switch {
	case errors.Is(err, quiz.ErrInvalidRequest):
		WriteErrorDetail(w, http.StatusBadRequest, "invalid quiz request", err.Error())
		return
	case errors.Is(err, quiz.ErrGeneration):
		log.Warn().Err(err).Msg("quiz generation failed")
		WriteErrorDetail(w, http.StatusBadGateway, "quiz generation failed", err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("quiz failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "quiz failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

func segmentInputs(hits []database.SegmentHit) []quiz.SegmentInput {
	out := make([]quiz.SegmentInput, 0, len(hits))
	for _, h := range hits {
		speaker := h.SpeakerTag
		out = append(out, quiz.SegmentInput{
			VideoTitle:       h.VideoTitle,
			SpeakerTag:       &speaker,
			StartTimeSeconds: h.StartTimeInt,
			Transcript:       h.Transcript,
			VideoLink:        h.VideoURI,
		})
	}
	return out
}

func (h *QuizHandler) Routes(r chi.Router) {
	r.Post("/quizzes", h.CreateQuiz)
}
