package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/storage"
)

// ErrGeneration is wrapped when the model call fails or returns an unusable quiz.
var ErrGeneration = errors.New("quiz generation failed")

const quizDir = "quizzes/"

const systemInstruction = `You are an expert quiz author. Create clear, unambiguous questions from the provided transcript snippets.
Rules:
1) Build questions strictly from the supplied content; do not invent facts.
2) Prefer comprehension/recall; avoid vague wording and double negatives.
3) For MCQ, write 1 correct option + 3 plausible distractors.
4) Keep stems concise.
5) If a reference and link are provided, keep them as-is.
6) If rationales are requested, include one sentence explaining correctness.
Respond with a single JSON object of the form:
{"topic": string, "difficulty": string, "questions": [{"id": string, "type": "mcq" | "truefalse", "stem": string,
"options": [string] | null, "answer_index": int | null, "answer_boolean": bool | null,
"rationale": string | null, "reference": string | null, "link": string | null}]}`

// Question is one generated quiz question.
type Question struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Stem          string   `json:"stem"`
	Options       []string `json:"options,omitempty"`
	AnswerIndex   *int     `json:"answer_index,omitempty"`
	AnswerBoolean *bool    `json:"answer_boolean,omitempty"`
	Rationale     string   `json:"rationale,omitempty"`
	Reference     string   `json:"reference,omitempty"`
	Link          string   `json:"link,omitempty"`
}

// Quiz is the model output as persisted.
type Quiz struct {
	Topic      string     `json:"topic"`
	Difficulty string     `json:"difficulty"`
	Questions  []Question `json:"questions"`
}

// Result names the persisted artifacts of one generated quiz.
type Result struct {
	ID       string `json:"id"`
	JSON     string `json:"quiz_json_artifact"`
	Markdown string `json:"quiz_markdown_artifact"`
	Quiz     Quiz   `json:"quiz_preview"`
}

// ChatClient is the chat completion call the generator needs; *openai.Client
// implements it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	Client ChatClient
	Model  string
	Store  storage.BlobStore
	// Bucket receives quizzes/quiz_<id>.json and .md.
	Bucket paths.Ref
	Log    zerolog.Logger
}

type Generator struct {
	client ChatClient
	model  string
	store  storage.BlobStore
	bucket paths.Ref
	log    zerolog.Logger
	newID  func() string
}

func NewGenerator(opts Options) *Generator {
	return &Generator{
		client: opts.Client,
		model:  opts.Model,
		store:  opts.Store,
		bucket: opts.Bucket,
		log:    opts.Log.With().Str("component", "quiz").Logger(),
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// NewOpenAIClient builds the chat client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

type prompt struct {
	Topic             string           `json:"topic"`
	NumQuestions      int              `json:"num_questions"`
	Difficulty        string           `json:"difficulty"`
	Style             string           `json:"style"`
	IncludeRationales bool             `json:"include_rationales"`
	Segments          []ContextSegment `json:"segments"`
}

// Generate validates req, asks the model for a quiz and persists it as JSON
// and markdown.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	q, err := g.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	id := g.newID()
	jsonRef := g.bucket.Child(quizDir + "quiz_" + id + ".json")
	mdRef := g.bucket.Child(quizDir + "quiz_" + id + ".md")

	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode quiz: %w", err)
	}
	if err := g.store.Save(ctx, jsonRef, data, "application/json"); err != nil {
		return nil, fmt.Errorf("saving artifacts failed: %w", err)
	}
	if err := g.store.Save(ctx, mdRef, []byte(RenderMarkdown(q, req.Difficulty)), "text/markdown"); err != nil {
		return nil, fmt.Errorf("saving artifacts failed: %w", err)
	}

	g.log.Info().
		Str("quiz_id", id).
		Str("topic", req.Topic).
		Int("questions", len(q.Questions)).
		Int("segments", len(req.Segments)).
		Dur("elapsed", time.Since(start)).
		Msg("quiz generated")

	return &Result{ID: id, JSON: jsonRef.String(), Markdown: mdRef.String(), Quiz: q}, nil
}

func (g *Generator) complete(ctx context.Context, req Request) (Quiz, error) {
	body, err := json.Marshal(prompt{
		Topic:             req.Topic,
		NumQuestions:      req.NumQuestions,
		Difficulty:        req.Difficulty,
		Style:             req.Style,
		IncludeRationales: req.IncludeRationales,
		Segments:          Condense(req.Segments, req.UseTimestampLinks),
	})
	if err != nil {
		return Quiz{}, fmt.Errorf("encode prompt: %w", err)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
	})
	if err != nil {
		return Quiz{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return Quiz{}, fmt.Errorf("%w: empty response", ErrGeneration)
	}

	var q Quiz
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &q); err != nil {
		return Quiz{}, fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	if len(q.Questions) == 0 {
		return Quiz{}, fmt.Errorf("%w: no questions returned", ErrGeneration)
	}
	if q.Topic == "" {
		q.Topic = req.Topic
	}
	if q.Difficulty == "" {
		q.Difficulty = req.Difficulty
	}
	return q, nil
}

// RenderMarkdown formats q with the questions first and an answer key after.
func RenderMarkdown(q Quiz, difficulty string) string {
	lines := []string{fmt.Sprintf("# Quiz: %s (%s)", q.Topic, difficulty), ""}
	for i, qu := range q.Questions {
		lines = append(lines, fmt.Sprintf("**Q%d. %s**", i+1, qu.Stem))
		switch {
		case qu.Type == "mcq" && len(qu.Options) > 0:
			for idx, opt := range qu.Options {
				label := fmt.Sprintf("Option %d", idx+1)
				if idx < 4 {
					label = string(rune('A' + idx))
				}
				lines = append(lines, fmt.Sprintf("- %s. %s", label, opt))
			}
		case qu.Type == "truefalse":
			lines = append(lines, "- True", "- False")
		}
		if qu.Reference != "" {
			lines = append(lines, fmt.Sprintf("_Reference: %s_", qu.Reference))
		}
		if qu.Link != "" {
			lines = append(lines, fmt.Sprintf("[Watch clip](%s)", qu.Link))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "---", "## Answer Key")
	for i, qu := range q.Questions {
		switch {
		case qu.Type == "mcq" && qu.AnswerIndex != nil && len(qu.Options) > 0:
			lines = append(lines, fmt.Sprintf("- Q%d: %c", i+1, rune('A'+*qu.AnswerIndex)))
		case qu.Type == "truefalse" && qu.AnswerBoolean != nil:
			answer := "False"
			if *qu.AnswerBoolean {
				answer = "True"
			}
			lines = append(lines, fmt.Sprintf("- Q%d: %s", i+1, answer))
		}
		if qu.Rationale != "" {
			lines = append(lines, "  - Rationale: "+qu.Rationale)
		}
	}
	return strings.Join(lines, "\n")
}
