package chunker

import (
	"iter"
	"regexp"
	"strings"
)

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// Sentences splits text on terminal punctuation and returns the trimmed,
// non-empty sentences. Trailing text without a terminator is the last
// sentence.
func Sentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[loc[0]:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if tail := strings.TrimSpace(text[last:]); strings.Trim(tail, ".!?") != "" {
		out = append(out, tail)
	}
	return out
}

// SentenceChunker groups sentences into chunks with a sentence overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	maxInput          int
}

// NewSentenceChunker builds a sentence splitter. maxInput caps the document
// length in characters; zero disables the cap.
func NewSentenceChunker(sentencesPerChunk, overlapSentences, maxInput int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		maxInput:          maxInput,
	}
}

// MaxInput implements Splitter.
func (c *SentenceChunker) MaxInput() int { return c.maxInput }

// Split implements Splitter.
func (c *SentenceChunker) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		sentences := Sentences(text)
		if len(sentences) == 0 {
			return
		}
		step := c.sentencesPerChunk - c.overlapSentences
		for i := 0; i < len(sentences); i += step {
			end := min(i+c.sentencesPerChunk, len(sentences))
			chunk := strings.TrimSpace(strings.Join(sentences[i:end], " "))
			if chunk != "" && !yield(chunk) {
				return
			}
			if end == len(sentences) {
				return
			}
		}
	}
}
