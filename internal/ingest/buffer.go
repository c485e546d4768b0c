package ingest

import (
	"context"
	"fmt"
	"strconv"

	"ragindex/internal/domain"
	"ragindex/internal/vectorstore"
)

// DefaultEmbedBatchSize bounds the texts sent in one embedding call.
const DefaultEmbedBatchSize = 32

// Buffer holds chunks that are not embedded yet. Flush embeds them in
// batches and appends the result to the store.
type Buffer struct {
	embedder  domain.Embedder
	store     *vectorstore.Store
	batchSize int
	drafts    []domain.Record
}

// NewBuffer returns an empty buffer flushing into store.
func NewBuffer(embedder domain.Embedder, store *vectorstore.Store, batchSize int) *Buffer {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &Buffer{embedder: embedder, store: store, batchSize: batchSize}
}

// Add queues a draft record. Its Text is what gets embedded; its ChunkID is
// assigned on flush.
func (b *Buffer) Add(draft domain.Record) {
	b.drafts = append(b.drafts, draft)
}

// Len returns the number of queued chunks.
func (b *Buffer) Len() int { return len(b.drafts) }

// Flush embeds every queued chunk and appends them to the store in queue
// order. The buffer is empty afterwards whether or not the flush succeeded.
// Chunk ids continue from the store length at append time.
func (b *Buffer) Flush(ctx context.Context) (int, error) {
	drafts := b.drafts
	b.drafts = nil
	if len(drafts) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, 0, len(drafts))
	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Text
	}
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		vecs, err := b.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return 0, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return 0, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end-1, len(vecs))
		}
		vectors = append(vectors, vecs...)
	}

	base := b.store.Len()
	for i := range drafts {
		drafts[i].ChunkID = strconv.Itoa(base + i)
	}
	if err := b.store.Append(drafts, vectors); err != nil {
		return 0, err
	}
	return len(drafts), nil
}
