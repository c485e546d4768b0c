// Package ingest turns documents into chunks, embeds them and appends them
// to a vector store.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ragindex/internal/chunker"
	"ragindex/internal/domain"
	"ragindex/internal/vectorstore"
)

// Mode decides what happens to an existing store.
type Mode string

const (
	// ModeRebuild starts from an empty store and replaces what is on disk.
	ModeRebuild Mode = "rebuild"
	// ModeAppend continues the persisted store.
	ModeAppend Mode = "append"
)

// DefaultFlushThreshold is the buffered chunk count that triggers a flush
// while streaming.
const DefaultFlushThreshold = 64

// Options tunes a build run.
type Options struct {
	Dir            string
	Mode           Mode
	Tenant         string
	Streaming      bool
	FlushThreshold int
	EmbedBatchSize int
	// SafeMode flushes after every chunk.
	SafeMode bool
	// MaxChunks caps prior plus new chunks. Zero means unlimited.
	MaxChunks int
	Progress  Progress
}

// Report summarizes a build run.
type Report struct {
	RunID             string
	RequestedMode     Mode
	EffectiveMode     Mode
	FellBackToRebuild bool
	FallbackReason    string
	Documents         int
	PriorChunks       int
	ChunksProcessed   int
	ChunksAdded       int
	TotalChunks       int
	Truncated         int
	Capped            bool
	Interrupted       bool
	FlushFailures     int
	ChunksDropped     int
}

// Builder runs the per-document ingestion loop.
type Builder struct {
	embedder domain.Embedder
	splitter chunker.Splitter
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewBuilder validates opts and fills in defaults.
func NewBuilder(embedder domain.Embedder, splitter chunker.Splitter, opts Options, logger *slog.Logger) (*Builder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder is required")
	}
	if splitter == nil {
		return nil, fmt.Errorf("ingest: splitter is required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("ingest: store dir is required")
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeRebuild
	case ModeRebuild, ModeAppend:
	default:
		return nil, fmt.Errorf("ingest: unknown mode %q", opts.Mode)
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if opts.Progress == nil {
		opts.Progress = noProgress{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{embedder: embedder, splitter: splitter, opts: opts, logger: logger, now: time.Now}, nil
}

// Build ingests docs. Cancelling ctx stops the loop at the next document or
// chunk boundary; whatever is buffered is still flushed and the report is
// marked interrupted. Flush failures are logged and counted, not returned.
func (b *Builder) Build(ctx context.Context, docs []domain.Document) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), RequestedMode: b.opts.Mode, EffectiveMode: b.opts.Mode}
	log := b.logger.With("run", rep.RunID)

	store, err := b.openStore(rep, log)
	if err != nil {
		return nil, err
	}
	rep.PriorChunks = store.Len()

	// Embedding calls are never interrupted midway.
	flushCtx := context.WithoutCancel(ctx)
	buf := NewBuffer(b.embedder, store, b.opts.EmbedBatchSize)
	flush := func(reason string) {
		n := buf.Len()
		if n == 0 {
			return
		}
		added, err := buf.Flush(flushCtx)
		if err != nil {
			rep.FlushFailures++
			rep.ChunksDropped += n
			log.Warn("flush failed, buffered chunks dropped", "reason", reason, "chunks", n, "err", err)
			return
		}
		rep.ChunksAdded += added
		log.Debug("flushed", "reason", reason, "chunks", added, "total", store.Len())
	}

	b.opts.Progress.Start(len(docs))
	b.loop(ctx, docs, buf, flush, rep, log)
	b.opts.Progress.Finish()

	if rep.Interrupted {
		log.Warn("build interrupted, flushing partial buffer", "buffered", buf.Len())
		flush("interrupted")
	} else {
		flush("final")
	}

	if rep.EffectiveMode == ModeRebuild && store.Len() == 0 {
		if err := store.Persist(); err != nil {
			return rep, err
		}
	}
	rep.TotalChunks = store.Len()
	log.Info("build finished",
		"mode", rep.EffectiveMode,
		"documents", rep.Documents,
		"added", rep.ChunksAdded,
		"total", rep.TotalChunks,
		"dropped", rep.ChunksDropped,
		"interrupted", rep.Interrupted)
	return rep, nil
}

func (b *Builder) openStore(rep *Report, log *slog.Logger) (*vectorstore.Store, error) {
	if b.opts.Mode == ModeRebuild {
		return vectorstore.New(b.opts.Dir, log), nil
	}
	store, status := vectorstore.Load(b.opts.Dir, log)
	if !status.Complete {
		rep.EffectiveMode = ModeRebuild
		rep.FellBackToRebuild = true
		rep.FallbackReason = status.Reason
		log.Warn("append requested but no complete store found, rebuilding", "dir", b.opts.Dir, "reason", status.Reason)
	}
	return store, nil
}

func (b *Builder) loop(ctx context.Context, docs []domain.Document, buf *Buffer, flush func(string), rep *Report, log *slog.Logger) {
	for _, doc := range docs {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return
		}
		if b.capReached(rep) {
			b.markCapped(rep, log)
			return
		}
		text := doc.Text
		if limit := b.splitter.MaxInput(); limit > 0 && utf8.RuneCountInString(text) > limit {
			log.Warn("document too large, truncating", "url", doc.URL, "chars", utf8.RuneCountInString(text), "limit", limit)
			text = string([]rune(text)[:limit])
			rep.Truncated++
		}
		source := domain.SourceOf(doc.URL)
		for chunk := range b.splitter.Split(text) {
			if ctx.Err() != nil {
				rep.Interrupted = true
				return
			}
			if b.capReached(rep) {
				b.markCapped(rep, log)
				return
			}
			buf.Add(domain.Record{
				Title:       doc.Title,
				URL:         doc.URL,
				Source:      source,
				Tenant:      b.opts.Tenant,
				CreatedAt:   b.now().UTC(),
				ContentHash: contentHash(chunk),
				Text:        chunk,
			})
			rep.ChunksProcessed++
			if b.opts.Streaming && (b.opts.SafeMode || buf.Len() >= b.opts.FlushThreshold) {
				flush("threshold")
			}
		}
		rep.Documents++
		b.opts.Progress.Increment()
	}
}

func (b *Builder) capReached(rep *Report) bool {
	return b.opts.MaxChunks > 0 && rep.PriorChunks+rep.ChunksProcessed >= b.opts.MaxChunks
}

func (b *Builder) markCapped(rep *Report, log *slog.Logger) {
	if !rep.Capped {
		rep.Capped = true
		log.Warn("max chunks reached, stopping", "max_chunks", b.opts.MaxChunks)
	}
}

func contentHash(text string) string {
	h := sha1.Sum([]byte(text))
	return hex.EncodeToString(h[:])
}
