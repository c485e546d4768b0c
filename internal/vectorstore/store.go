package vectorstore

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"ragindex/internal/domain"
	"ragindex/internal/vectorstore/flat"
)

// DefaultTopK is used when a search asks for zero or fewer results.
const DefaultTopK = 5

const normEpsilon = 1e-9

var (
	ErrLengthMismatch    = errors.New("vectorstore: records and vectors length mismatch")
	ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")
)

// Store keeps chunk records and their unit vectors in matching order and
// mirrors every change to the artifacts in its directory.
type Store struct {
	mu      sync.RWMutex
	dir     string
	records []domain.Record
	index   *flat.Index
	logger  *slog.Logger
}

// LoadStatus describes what Load found on disk.
type LoadStatus struct {
	// Complete is true when every artifact was present and consistent.
	Complete bool
	Missing  []string
	Reason   string
}

// New returns an empty store persisting into dir. Nothing is written until
// the first Append or Persist.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, index: flat.New(0), logger: logger}
}

// Load opens the store persisted in dir. Missing or inconsistent artifacts
// are logged and yield an empty store; Load never fails.
func Load(dir string, logger *slog.Logger) (*Store, LoadStatus) {
	s := New(dir, logger)
	l, missing, err := readArtifacts(dir)
	switch {
	case errors.Is(err, errIncomplete):
		s.logger.Warn("store artifacts missing, starting empty", "dir", dir, "missing", missing)
		return s, LoadStatus{Missing: missing, Reason: "missing artifacts"}
	case err != nil:
		s.logger.Warn("store artifacts unreadable, starting empty", "dir", dir, "err", err)
		return s, LoadStatus{Reason: err.Error()}
	}
	s.records = l.records
	s.index = l.index
	s.logger.Debug("store loaded", "dir", dir, "chunks", len(s.records), "dim", s.index.Dimension())
	return s, LoadStatus{Complete: true}
}

// Dir returns the directory the store persists into.
func (s *Store) Dir() string { return s.dir }

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Dimension returns the vector dimension, zero for an empty store.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Dimension()
}

// Records returns a copy of the stored records in order.
func (s *Store) Records() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Record(nil), s.records...)
}

// Vectors returns a copy of the stored unit vectors in order.
func (s *Store) Vectors() [][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]float32, s.index.Count())
	for i, v := range s.index.Vectors() {
		out[i] = append([]float32(nil), v...)
	}
	return out
}

// Append normalizes vectors, adds them with their records and persists the
// resulting state. In-memory state only changes once the write succeeded.
func (s *Store) Append(records []domain.Record, vectors [][]float32) error {
	if len(records) != len(vectors) {
		return fmt.Errorf("%w: %d records, %d vectors", ErrLengthMismatch, len(records), len(vectors))
	}
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.index.Dimension()
	if dim == 0 {
		dim = len(vectors[0])
	}
	if dim == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	ids := make([]string, len(records))
	normed := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: row %d has %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		ids[i] = records[i].ChunkID
		normed[i] = Normalize(v)
	}

	next := s.index.Clone()
	if err := next.Add(ids, normed); err != nil {
		return err
	}
	merged := make([]domain.Record, 0, len(s.records)+len(records))
	merged = append(merged, s.records...)
	merged = append(merged, records...)
	if err := writeArtifacts(s.dir, merged, next); err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	s.records = merged
	s.index = next
	return nil
}

// AppendOne appends a single record and vector as a one-row batch.
func (s *Store) AppendOne(rec domain.Record, vector []float32) error {
	return s.Append([]domain.Record{rec}, [][]float32{vector})
}

// Persist writes the current state, including an empty one.
func (s *Store) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := writeArtifacts(s.dir, s.records, s.index); err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	return nil
}

// Search ranks every stored chunk by cosine similarity to query and returns
// the best k. Equal scores keep insertion order.
func (s *Store) Search(query []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index.Count() == 0 {
		return []domain.SearchResult{}, nil
	}
	if len(query) != s.index.Dimension() {
		return nil, fmt.Errorf("%w: query has %d, store has %d", ErrDimensionMismatch, len(query), s.index.Dimension())
	}
	matches, err := s.index.Query(Normalize(query), k)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SearchResult, len(matches))
	for i, m := range matches {
		out[i] = domain.SearchResult{Record: s.records[m.Position], Score: m.Score}
	}
	return out, nil
}

// Normalize returns v scaled to unit length. The denominator is offset by a
// small epsilon so an all-zero vector stays zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	d := math.Sqrt(sum) + normEpsilon
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / d)
	}
	return out
}
