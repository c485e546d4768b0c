package ingest

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/chunker"
	"ragindex/internal/domain"
	"ragindex/internal/vectorstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEmbedder maps every text to a 2-d vector and records batch sizes.
type fakeEmbedder struct {
	batches []int
	failOn  map[int]bool
	onCall  func(call int)
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	call := len(f.batches) + 1
	f.batches = append(f.batches, len(texts))
	if f.onCall != nil {
		f.onCall(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failOn[call] {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func window(t *testing.T, size, overlap int) *chunker.Window {
	t.Helper()
	w, err := chunker.NewWindow(size, overlap)
	require.NoError(t, err)
	return w
}

func newBuilder(t *testing.T, e domain.Embedder, s chunker.Splitter, opts Options) *Builder {
	t.Helper()
	b, err := NewBuilder(e, s, opts, quietLogger())
	require.NoError(t, err)
	return b
}

func chunkIDs(recs []domain.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ChunkID
	}
	return ids
}

func texts(recs []domain.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Text
	}
	return out
}

func loadStore(t *testing.T, dir string) *vectorstore.Store {
	t.Helper()
	s, status := vectorstore.Load(dir, quietLogger())
	require.True(t, status.Complete, status.Reason)
	return s
}

func TestBuild_RebuildReplacesPriorData(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Dir: dir, Mode: ModeRebuild, Streaming: true, FlushThreshold: 2}

	_, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 1), opts).
		Build(context.Background(), []domain.Document{{Title: "first", URL: "a.txt", Text: "abcdefghij"}})
	require.NoError(t, err)

	rep, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 1), opts).
		Build(context.Background(), []domain.Document{{Title: "second", URL: "https://example.com/b", Text: "klmnop"}})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.PriorChunks)
	assert.Equal(t, 2, rep.TotalChunks)

	recs := loadStore(t, dir).Records()
	assert.Equal(t, []string{"klmn", "nop"}, texts(recs))
	assert.Equal(t, []string{"0", "1"}, chunkIDs(recs))
	for _, r := range recs {
		assert.Equal(t, "second", r.Title)
		assert.Equal(t, domain.SourceSite, r.Source)
		assert.Len(t, r.ContentHash, 40)
	}
}

func TestBuild_AppendContinuesIDs(t *testing.T) {
	dir := t.TempDir()
	_, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 1), Options{Dir: dir, Mode: ModeRebuild, Tenant: "t1"}).
		Build(context.Background(), []domain.Document{{URL: "a.txt", Text: "abcdefghij"}})
	require.NoError(t, err)

	rep, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 1), Options{Dir: dir, Mode: ModeAppend, Tenant: "t1"}).
		Build(context.Background(), []domain.Document{{URL: "b.txt", Text: "klmnop"}})
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, rep.EffectiveMode)
	assert.False(t, rep.FellBackToRebuild)
	assert.Equal(t, 3, rep.PriorChunks)
	assert.Equal(t, 2, rep.ChunksAdded)
	assert.Equal(t, 5, rep.TotalChunks)

	recs := loadStore(t, dir).Records()
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, chunkIDs(recs))
	assert.Equal(t, []string{"abcd", "defg", "ghij", "klmn", "nop"}, texts(recs))
	assert.Equal(t, "t1", recs[4].Tenant)
}

func TestBuild_AppendWithoutStoreFallsBack(t *testing.T) {
	dir := t.TempDir()
	rep, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 1), Options{Dir: dir, Mode: ModeAppend}).
		Build(context.Background(), []domain.Document{{Text: "abcd"}})
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, rep.RequestedMode)
	assert.Equal(t, ModeRebuild, rep.EffectiveMode)
	assert.True(t, rep.FellBackToRebuild)
	assert.NotEmpty(t, rep.FallbackReason)
	assert.Equal(t, 1, loadStore(t, dir).Len())
}

func TestBuild_MaxChunksCap(t *testing.T) {
	dir := t.TempDir()
	doc := domain.Document{Text: strings.Repeat("x", 40)}
	rep, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 0), Options{Dir: dir, Streaming: true, FlushThreshold: 3, MaxChunks: 7}).
		Build(context.Background(), []domain.Document{doc, doc})
	require.NoError(t, err)
	assert.True(t, rep.Capped)
	assert.Equal(t, 7, rep.ChunksProcessed)
	assert.Equal(t, 7, loadStore(t, dir).Len())

	// The cap counts chunks persisted by earlier runs.
	rep, err = newBuilder(t, &fakeEmbedder{}, window(t, 4, 0), Options{Dir: dir, Mode: ModeAppend, MaxChunks: 9}).
		Build(context.Background(), []domain.Document{doc})
	require.NoError(t, err)
	assert.True(t, rep.Capped)
	assert.Equal(t, 2, rep.ChunksAdded)
	assert.Equal(t, 9, loadStore(t, dir).Len())
}

func TestBuild_FlushFailureDropsOnlyThatFlush(t *testing.T) {
	dir := t.TempDir()
	emb := &fakeEmbedder{failOn: map[int]bool{2: true}}
	rep, err := newBuilder(t, emb, window(t, 4, 0), Options{Dir: dir, Streaming: true, SafeMode: true}).
		Build(context.Background(), []domain.Document{{Text: "aaaabbbbcccc"}})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FlushFailures)
	assert.Equal(t, 1, rep.ChunksDropped)
	assert.Equal(t, 2, rep.ChunksAdded)
	assert.Equal(t, []int{1, 1, 1}, emb.batches)

	recs := loadStore(t, dir).Records()
	assert.Equal(t, []string{"aaaa", "cccc"}, texts(recs))
	assert.Equal(t, []string{"0", "1"}, chunkIDs(recs))
}

func TestBuild_NonStreamingBatchesAtEnd(t *testing.T) {
	dir := t.TempDir()
	emb := &fakeEmbedder{}
	rep, err := newBuilder(t, emb, window(t, 2, 0), Options{Dir: dir, EmbedBatchSize: 2, FlushThreshold: 1}).
		Build(context.Background(), []domain.Document{{Text: "aabbccddee"}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, emb.batches)
	assert.Equal(t, 5, rep.ChunksAdded)
	assert.Equal(t, []string{"aa", "bb", "cc", "dd", "ee"}, texts(loadStore(t, dir).Records()))
}

func TestBuild_InterruptFlushesPartialBuffer(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &cancelingSplitter{inner: window(t, 4, 0), after: 2, cancel: cancel}
	emb := &fakeEmbedder{}

	rep, err := newBuilder(t, emb, s, Options{Dir: dir, Streaming: true, FlushThreshold: 100}).
		Build(ctx, []domain.Document{{Text: "aaaabbbbccccdddd"}, {Text: "eeee"}})
	require.NoError(t, err)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 2, rep.ChunksProcessed)
	assert.Equal(t, 2, rep.ChunksAdded)
	assert.Equal(t, []string{"aaaa", "bbbb"}, texts(loadStore(t, dir).Records()))
}

func TestBuild_InterruptDuringFlushStillCompletesIt(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emb := &fakeEmbedder{onCall: func(call int) {
		if call == 2 {
			cancel()
		}
	}}

	rep, err := newBuilder(t, emb, window(t, 4, 0), Options{Dir: dir, Streaming: true, SafeMode: true}).
		Build(ctx, []domain.Document{{Text: "aaaabbbbcccc"}})
	require.NoError(t, err)
	assert.True(t, rep.Interrupted)
	assert.Zero(t, rep.FlushFailures)
	assert.Equal(t, 2, rep.ChunksAdded)
	assert.Equal(t, 2, loadStore(t, dir).Len())
}

func TestBuild_TruncatesOversizedDocuments(t *testing.T) {
	dir := t.TempDir()
	s := &limitedSplitter{inner: window(t, 4, 0), max: 8}
	rep, err := newBuilder(t, &fakeEmbedder{}, s, Options{Dir: dir}).
		Build(context.Background(), []domain.Document{{Text: "aaaabbbbcccc"}})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Truncated)
	assert.Equal(t, []string{"aaaa", "bbbb"}, texts(loadStore(t, dir).Records()))
}

func TestBuild_EmptyRebuildPersistsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	_, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 0), Options{Dir: dir}).
		Build(context.Background(), []domain.Document{{Text: "aaaabbbb"}})
	require.NoError(t, err)

	rep, err := newBuilder(t, &fakeEmbedder{}, window(t, 4, 0), Options{Dir: dir}).
		Build(context.Background(), []domain.Document{{Text: "   "}})
	require.NoError(t, err)
	assert.Zero(t, rep.TotalChunks)
	assert.Equal(t, 0, loadStore(t, dir).Len())
}

func TestNewBuilder_Validation(t *testing.T) {
	_, err := NewBuilder(nil, window(t, 4, 0), Options{Dir: "x"}, nil)
	assert.Error(t, err)
	_, err = NewBuilder(&fakeEmbedder{}, nil, Options{Dir: "x"}, nil)
	assert.Error(t, err)
	_, err = NewBuilder(&fakeEmbedder{}, window(t, 4, 0), Options{}, nil)
	assert.Error(t, err)
	_, err = NewBuilder(&fakeEmbedder{}, window(t, 4, 0), Options{Dir: "x", Mode: "merge"}, nil)
	assert.Error(t, err)

	b, err := NewBuilder(&fakeEmbedder{}, window(t, 4, 0), Options{Dir: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeRebuild, b.opts.Mode)
	assert.Equal(t, DefaultFlushThreshold, b.opts.FlushThreshold)
	assert.Equal(t, DefaultEmbedBatchSize, b.opts.EmbedBatchSize)
}

func TestBuffer_FlushAssignsIDsAndClears(t *testing.T) {
	store := vectorstore.New(t.TempDir(), quietLogger())
	emb := &fakeEmbedder{failOn: map[int]bool{1: true}}
	buf := NewBuffer(emb, store, 2)

	buf.Add(domain.Record{Text: "lost"})
	_, err := buf.Flush(context.Background())
	require.Error(t, err)
	assert.Zero(t, buf.Len())

	for i := 0; i < 3; i++ {
		buf.Add(domain.Record{Text: "t" + strconv.Itoa(i)})
	}
	n, err := buf.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, buf.Len())
	assert.Equal(t, []string{"0", "1", "2"}, chunkIDs(store.Records()))
	assert.Equal(t, []int{1, 2, 1}, emb.batches)

	n, err = buf.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// cancelingSplitter cancels the build context right before yielding chunk
// number after+1.
type cancelingSplitter struct {
	inner  chunker.Splitter
	after  int
	cancel context.CancelFunc
	seen   int
}

func (c *cancelingSplitter) MaxInput() int { return 0 }

func (c *cancelingSplitter) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for chunk := range c.inner.Split(text) {
			if c.seen == c.after {
				c.cancel()
			}
			c.seen++
			if !yield(chunk) {
				return
			}
		}
	}
}

type limitedSplitter struct {
	inner chunker.Splitter
	max   int
}

func (l *limitedSplitter) MaxInput() int                      { return l.max }
func (l *limitedSplitter) Split(text string) iter.Seq[string] { return l.inner.Split(text) }
