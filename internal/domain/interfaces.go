package domain

import (
	"context"
	"strings"
	"time"
)

// Source values recorded on every chunk.
const (
	SourceSite = "site"
	SourceDoc  = "doc"
)

// Document represents a single text source handed to the indexer.
type Document struct {
	Title string
	URL   string
	Text  string
}

// SourceOf classifies a document URL: web pages are "site", everything else "doc".
func SourceOf(url string) string {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return SourceSite
	}
	return SourceDoc
}

// Record is the persisted metadata of one chunk. Its position in the store
// matches the position of its vector.
type Record struct {
	ChunkID     string    `json:"chunk_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Tenant      string    `json:"tenant"`
	CreatedAt   time.Time `json:"created_at"`
	ContentHash string    `json:"content_hash"`
	Text        string    `json:"text"`
}

// SearchResult represents a matching chunk with its raw cosine similarity.
type SearchResult struct {
	Record Record
	Score  float64
}

// Embedder converts texts into dense vectors. Results are the same length and
// order as the input.
type Embedder interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
