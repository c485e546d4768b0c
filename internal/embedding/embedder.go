package embedding

import (
	"context"
	"errors"
	"fmt"

	"ragindex/internal/domain"
)

// Embedder converts free text into dense vectors. Results have the same length
// and order as the input texts.
type Embedder = domain.Embedder

// EmbedOne embeds a single text through e.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%s: expected 1 embedding, got %d", e.Name(), len(vecs))
	}
	if len(vecs[0]) == 0 {
		return nil, errors.New(e.Name() + ": empty embedding")
	}
	return vecs[0], nil
}
