// Package summarizer condenses a chunk of text to its most representative
// sentences for display.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"ragindex/internal/chunker"
)

var wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// Summarizer ranks sentences by the normalized frequency of their words.
type Summarizer struct {
	stopwords map[string]struct{}
}

// New returns a summarizer with an English stopword list.
func New() *Summarizer {
	return &Summarizer{stopwords: defaultStopwords()}
}

// Sentences splits text into sentences the same way the sentence chunker does.
func Sentences(text string) []string { return chunker.Sentences(text) }

// Summarize keeps the maxSentences highest scoring sentences in their
// original order.
func (s *Summarizer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	sentences := Sentences(text)
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " ")
	}

	freq := map[string]float64{}
	maxF := 0.0
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		sum := 0.0
		for _, tok := range toks {
			sum += freq[tok] / maxF
		}
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{i, sum}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	keep := make([]int, maxSentences)
	for i := range keep {
		keep[i] = ranked[i].idx
	}
	sort.Ints(keep)
	out := make([]string, len(keep))
	for i, idx := range keep {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

// BestSentence returns the index of the sentence sharing the most distinct
// words with query, or -1 when query has no words.
func (s *Summarizer) BestSentence(sentences []string, query string) int {
	q := make(map[string]struct{})
	for _, tok := range s.tokens(query) {
		q[tok] = struct{}{}
	}
	if len(q) == 0 {
		return -1
	}
	best, bestScore := 0, -1
	for i, sent := range sentences {
		seen := make(map[string]struct{})
		score := 0
		for _, tok := range s.tokens(sent) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if _, ok := q[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func (s *Summarizer) tokens(text string) []string {
	raw := wordRe.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
