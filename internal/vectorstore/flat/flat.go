// Package flat implements an exact cosine index over unit vectors with a
// compact binary encoding.
package flat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Index holds ids and their vectors in insertion order. Vectors are expected
// to be unit length so the dot product is the cosine similarity.
type Index struct {
	ids  []string
	vecs [][]float32
	dim  int
}

// New returns an empty index of the given dimension. A zero dimension is
// fixed by the first Add.
func New(dim int) *Index {
	return &Index{dim: dim}
}

// Count returns the number of indexed vectors.
func (i *Index) Count() int { return len(i.ids) }

// Dimension returns the vector dimension, zero while empty and unset.
func (i *Index) Dimension() int { return i.dim }

// IDs returns the ids in insertion order. The slice must not be modified.
func (i *Index) IDs() []string { return i.ids }

// Vectors returns the indexed vectors in insertion order. The slice must not
// be modified.
func (i *Index) Vectors() [][]float32 { return i.vecs }

// Add appends ids and vectors.
func (i *Index) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("flat: ids and vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	if len(vectors) == 0 {
		return nil
	}
	dim := i.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	for j := range vectors {
		if len(vectors[j]) != dim {
			return fmt.Errorf("flat: inconsistent vector dims %d vs %d", len(vectors[j]), dim)
		}
	}
	i.dim = dim
	i.ids = append(i.ids, ids...)
	i.vecs = append(i.vecs, vectors...)
	return nil
}

// Clone returns a shallow copy whose slices can be appended to without
// affecting the receiver.
func (i *Index) Clone() *Index {
	return &Index{
		ids:  append([]string(nil), i.ids...),
		vecs: append([][]float32(nil), i.vecs...),
		dim:  i.dim,
	}
}

// Match is one ranked hit.
type Match struct {
	Position int
	ID       string
	Score    float64
}

// Query scores every vector against query and returns the top k by
// descending score. Equal scores keep insertion order. k <= 0 returns all.
func (i *Index) Query(query []float32, k int) ([]Match, error) {
	if len(i.vecs) == 0 {
		return nil, nil
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("flat: query dim %d != index dim %d", len(query), i.dim)
	}
	matches := make([]Match, len(i.vecs))
	for j := range i.vecs {
		matches[j] = Match{Position: j, ID: i.ids[j], Score: dot(query, i.vecs[j])}
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if k <= 0 || k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// MarshalBinary stores: dim(uint32), n(uint32), then for each item:
// idLen(uint32), id bytes, vec(float32[dim]). All little-endian.
func (i *Index) MarshalBinary() ([]byte, error) {
	size := 8
	for _, id := range i.ids {
		size += 4 + len(id) + 4*i.dim
	}
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, uint32(i.dim))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(i.ids)))
	for idx, id := range i.ids {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(id)))
		out = append(out, id...)
		for _, v := range i.vecs[idx] {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out, nil
}

// UnmarshalBinary replaces the index content with the decoded data.
func (i *Index) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return errors.New("flat: invalid data")
	}
	off := 0
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(data[off : off+4]); off += 4; return v }
	dim := int(getU32())
	n := int(getU32())
	// Every row needs at least an id length and its vector.
	if per := 4 + 4*dim; n > (len(data)-off)/per {
		return fmt.Errorf("flat: header claims %d rows of dim %d in %d bytes", n, dim, len(data))
	}
	ids := make([]string, 0, n)
	vecs := make([][]float32, 0, n)
	for idx := 0; idx < n; idx++ {
		if off+4 > len(data) {
			return errors.New("flat: truncated")
		}
		idLen := int(getU32())
		if off+idLen > len(data) {
			return errors.New("flat: truncated id")
		}
		id := string(data[off : off+idLen])
		off += idLen
		if off+4*dim > len(data) {
			return errors.New("flat: truncated vec")
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(getU32())
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	if off != len(data) {
		return fmt.Errorf("flat: %d trailing bytes", len(data)-off)
	}
	i.ids, i.vecs, i.dim = ids, vecs, dim
	return nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
