package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	content string
	err     error
	req     openai.ChatCompletionRequest
	calls   int
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func intp(i int) *int    { return &i }
func boolp(b bool) *bool { return &b }

func sampleQuiz() Quiz {
	return Quiz{
		Topic:      "Vector indexes",
		Difficulty: "medium",
		Questions: []Question{
			{
				ID: "q1", Type: "mcq", Stem: "What speeds up search?",
				Options:     []string{"An index", "A cache", "A queue", "A lock"},
				AnswerIndex: intp(0), Rationale: "The speaker says an index speeds up search.",
				Reference: "Video: talk.mp4 | Time: 01:15", Link: "https://v/talk.mp4#t=65",
			},
			{ID: "q2", Type: "truefalse", Stem: "Indexes slow down search.", AnswerBoolean: boolp(false)},
		},
	}
}

func newTestGenerator(t *testing.T, chat ChatClient) (*Generator, *storage.LocalStore) {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir())
	g := NewGenerator(Options{
		Client: chat,
		Model:  "gpt-4o-mini",
		Store:  store,
		Bucket: paths.Ref{Scheme: "gs", Bucket: "media"},
		Log:    zerolog.Nop(),
	})
	g.newID = func() string { return "abcd1234" }
	return g, store
}

func TestGenerate(t *testing.T) {
	content, err := json.Marshal(sampleQuiz())
	require.NoError(t, err)
	chat := &fakeChat{content: string(content)}
	g, store := newTestGenerator(t, chat)

	req := validRequest()
	req.UseTimestampLinks = true
	req.Segments[0].VideoLink = "https://v/talk.mp4"
	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "abcd1234", res.ID)
	assert.Equal(t, "gs://media/quizzes/quiz_abcd1234.json", res.JSON)
	assert.Equal(t, "gs://media/quizzes/quiz_abcd1234.md", res.Markdown)
	assert.Len(t, res.Quiz.Questions, 2)

	assert.Equal(t, "gpt-4o-mini", chat.req.Model)
	require.NotNil(t, chat.req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, chat.req.ResponseFormat.Type)
	require.Len(t, chat.req.Messages, 2)
	var sent prompt
	require.NoError(t, json.Unmarshal([]byte(chat.req.Messages[1].Content), &sent))
	assert.Equal(t, "medium", sent.Difficulty)
	assert.Equal(t, "mcq", sent.Style)
	require.Len(t, sent.Segments, 1)
	assert.Equal(t, "https://v/talk.mp4#t=65", *sent.Segments[0].Link)

	md, err := storage.ReadAll(context.Background(), store, paths.Ref{Scheme: "gs", Bucket: "media", Key: "quizzes/quiz_abcd1234.md"})
	require.NoError(t, err)
	assert.Contains(t, string(md), "## Answer Key")

	data, err := storage.ReadAll(context.Background(), store, paths.Ref{Scheme: "gs", Bucket: "media", Key: "quizzes/quiz_abcd1234.json"})
	require.NoError(t, err)
	var saved Quiz
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, sampleQuiz(), saved)
}

func TestGenerateInvalidRequestMakesNoCall(t *testing.T) {
	chat := &fakeChat{}
	g, _ := newTestGenerator(t, chat)
	req := validRequest()
	req.NumQuestions = 50

	_, err := g.Generate(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, chat.calls)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name    string
		chat    *fakeChat
		wantMsg string
	}{
		{"api_error", &fakeChat{err: errors.New("rate limited")}, "rate limited"},
		{"not_json", &fakeChat{content: "here is your quiz"}, "decode response"},
		{"no_questions", &fakeChat{content: `{"topic":"x","questions":[]}`}, "no questions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, store := newTestGenerator(t, tt.chat)
			_, err := g.Generate(context.Background(), validRequest())
			require.ErrorIs(t, err, ErrGeneration)
			assert.Contains(t, err.Error(), tt.wantMsg)

			objs, err := store.List(context.Background(), paths.Ref{Scheme: "gs", Bucket: "media", Key: "quizzes/"})
			require.NoError(t, err)
			assert.Empty(t, objs)
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	want := `# Quiz: Vector indexes (medium)

**Q1. What speeds up search?**
- A. An index
- B. A cache
- C. A queue
- D. A lock
_Reference: Video: talk.mp4 | Time: 01:15_
[Watch clip](https://v/talk.mp4#t=65)

**Q2. Indexes slow down search.**
- True
- False

---
## Answer Key
- Q1: A
  - Rationale: The speaker says an index speeds up search.
- Q2: False`
	assert.Equal(t, want, RenderMarkdown(sampleQuiz(), "medium"))
}

func TestOpenAIClientRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

		content, _ := json.Marshal(sampleQuiz())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": string(content)}}},
		})
	}))
	defer srv.Close()

	g, _ := newTestGenerator(t, NewOpenAIClient("test-key", srv.URL))
	res, err := g.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "Vector indexes", res.Quiz.Topic)
}
