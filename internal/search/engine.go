// Package search answers text queries against a loaded vector store.
package search

import (
	"context"
	"fmt"
	"math"
	"strings"

	"ragindex/internal/domain"
	"ragindex/internal/embedding"
	"ragindex/internal/vectorstore"
)

// Hit is one ranked chunk as shown to callers. Score is a percentage.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

// Health is the health-check response.
type Health struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

// Engine embeds queries and ranks stored chunks against them. It is safe for
// concurrent use once the store is loaded.
type Engine struct {
	embedder domain.Embedder
	store    *vectorstore.Store
}

// NewEngine returns an engine over store.
func NewEngine(embedder domain.Embedder, store *vectorstore.Store) *Engine {
	return &Engine{embedder: embedder, store: store}
}

// Search returns up to topK hits for query. A blank query returns no hits
// without calling the embedder. topK <= 0 uses vectorstore.DefaultTopK.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	if e.store.Len() == 0 {
		return []Hit{}, nil
	}
	vec, err := embedding.EmbedOne(ctx, e.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := e.store.Search(vec, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ChunkID: r.Record.ChunkID,
			Title:   r.Record.Title,
			URL:     r.Record.URL,
			Score:   Percent(r.Score),
			Text:    r.Record.Text,
		}
	}
	return hits, nil
}

// Health reports the number of searchable chunks.
func (e *Engine) Health() Health {
	return Health{Status: "ok", Chunks: e.store.Len()}
}

// Percent maps a cosine similarity in [-1, 1] to [0, 100], rounded to two
// decimals.
func Percent(cos float64) float64 {
	return math.Round((cos+1)/2*100*100) / 100
}
