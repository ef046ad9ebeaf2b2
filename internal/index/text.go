package index

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxKeywords = 20
	maxTopics   = 10

	maxTranscriptChars = 10000
	maxSlideChars      = 5000
	maxCombinedChars   = 15000
)

var wordPattern = regexp.MustCompile(`\b[a-zA-Z0-9]+\b`)

var stopWords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by", "from",
	"as", "is", "was", "are", "were", "been", "be", "have", "has", "had", "do", "does", "did",
	"will", "would", "could", "should", "may", "might", "must", "can", "this", "that", "these",
	"those", "i", "you", "he", "she", "it", "we", "they", "what", "which", "who", "when", "where",
	"why", "how", "all", "each", "every", "both", "few", "more", "most", "other", "some", "such",
	"only", "own", "same", "so", "than", "too", "very", "just", "there", "here", "then", "now",
	"also", "well", "even", "back", "still", "way", "our", "their", "them", "about", "out", "up",
	"down", "over", "under", "after", "before", "into", "through", "during", "against", "between",
	"above", "below", "any", "because", "being", "doing", "having", "get", "got", "getting",
)

// topicPatterns tags a segment with a topic when any pattern occurs as a
// substring of its lowercased text. Order is the output order.
var topicPatterns = []struct {
	topic    string
	patterns []string
}{
	{"migration", []string{"migrate", "migration", "migrating", "transfer", "moving"}},
	{"synth", []string{"synth", "polysynth", "synthesis"}},
	{"ui_ux", []string{"ui", "ux", "interface", "user experience", "design"}},
	{"agent_development", []string{"agent", "adk", "agent development", "build agent", "create agent"}},
	{"machine_learning", []string{"machine learning", "ml", "neural", "model", "training", "inference"}},
	{"ai", []string{"artificial intelligence", "ai", "llm", "large language", "gpt", "gemini"}},
	{"api", []string{"api", "endpoint", "rest", "graphql", "webhook", "integration"}},
	{"cloud", []string{"cloud", "gcp", "google cloud", "aws", "azure", "deployment"}},
	{"data", []string{"data", "dataset", "database", "query", "sql", "bigquery"}},
	{"development", []string{"development", "coding", "programming", "software", "code"}},
	{"testing", []string{"test", "testing", "debug", "qa", "quality"}},
	{"documentation", []string{"documentation", "docs", "readme", "guide", "tutorial"}},
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Keywords returns up to 20 of the most frequent words in text. Words of two
// characters or fewer, stop words and pure numbers are dropped. Ties keep
// first-occurrence order.
func Keywords(text string) []string {
	counts := make(map[string]int)
	var order []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) <= 2 || isDigits(w) {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	if order == nil {
		return []string{}
	}
	return order
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Topics returns the topic tags whose patterns occur in text, at most 10.
func Topics(text string) []string {
	lower := strings.ToLower(text)
	topics := []string{}
	for _, tp := range topicPatterns {
		for _, p := range tp.patterns {
			if strings.Contains(lower, p) {
				topics = append(topics, tp.topic)
				break
			}
		}
		if len(topics) == maxTopics {
			break
		}
	}
	return topics
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
