package transcribe

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/snarg/vidsearch/internal/lro"
	"github.com/snarg/vidsearch/internal/segments"
)

// recognitionOutput is the speech-to-text v2 results document, used both for
// result files written to the blob store and for inline transcripts.
type recognitionOutput struct {
	Results []recognitionResult `json:"results"`
}

type recognitionResult struct {
	Alternatives []alternative `json:"alternatives"`
	LanguageCode string        `json:"languageCode,omitempty"`
}

type alternative struct {
	Transcript string     `json:"transcript"`
	Confidence float64    `json:"confidence,omitempty"`
	Words      []wordInfo `json:"words,omitempty"`
}

type wordInfo struct {
	Word        string `json:"word"`
	StartOffset string `json:"startOffset,omitempty"`
	EndOffset   string `json:"endOffset,omitempty"`
}

// ParseResults decodes a results document into groups, one per result chunk,
// keeping only the top alternative. Chunks without alternatives are skipped.
func ParseResults(data []byte) ([]segments.Group, error) {
	var out recognitionOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return out.groups()
}

func (o recognitionOutput) groups() ([]segments.Group, error) {
	groups := make([]segments.Group, 0, len(o.Results))
	for _, r := range o.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		top := r.Alternatives[0]
		g := segments.Group{Transcript: top.Transcript}
		for _, w := range top.Words {
			start, err := lro.ParseDuration(w.StartOffset)
			if err != nil {
				return nil, fmt.Errorf("word %q: %w", w.Word, err)
			}
			end, err := lro.ParseDuration(w.EndOffset)
			if err != nil {
				return nil, fmt.Errorf("word %q: %w", w.Word, err)
			}
			g.Words = append(g.Words, segments.Word{Text: w.Word, Start: start, End: end})
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// EncodeResults writes groups in the results document format.
func EncodeResults(groups []segments.Group) ([]byte, error) {
	out := recognitionOutput{Results: make([]recognitionResult, 0, len(groups))}
	for _, g := range groups {
		alt := alternative{Transcript: g.Transcript}
		for _, w := range g.Words {
			alt.Words = append(alt.Words, wordInfo{
				Word:        w.Text,
				StartOffset: strconv.FormatFloat(w.Start.Seconds(), 'f', -1, 64) + "s",
				EndOffset:   strconv.FormatFloat(w.End.Seconds(), 'f', -1, 64) + "s",
			})
		}
		out.Results = append(out.Results, recognitionResult{Alternatives: []alternative{alt}})
	}
	return json.Marshal(out)
}
