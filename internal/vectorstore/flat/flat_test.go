package flat

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_QueryOrdersByScore(t *testing.T) {
	idx := New(0)
	require.NoError(t, idx.Add([]string{"a", "b", "c"}, [][]float32{{1, 0}, {0, 1}, {-1, 0}}))

	got, err := idx.Query([]float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.InDelta(t, 0.0, got[1].Score, 1e-9)
	assert.InDelta(t, -1.0, got[2].Score, 1e-9)
}

func TestIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Add(
		[]string{"x", "y", "z", "w"},
		[][]float32{{0, 1}, {1, 0}, {0, 1}, {1, 0}},
	))
	got, err := idx.Query([]float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 0, 2}, []int{got[0].Position, got[1].Position, got[2].Position, got[3].Position})
}

func TestIndex_QueryLimitsAndErrors(t *testing.T) {
	idx := New(0)
	got, err := idx.Query([]float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	got, err = idx.Query([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = idx.Query([]float32{1, 0, 0}, 1)
	assert.Error(t, err)

	assert.Error(t, idx.Add([]string{"c"}, [][]float32{{1, 2, 3}}))
	assert.Error(t, idx.Add([]string{"c", "d"}, [][]float32{{1, 2}}))
}

func TestIndex_BinaryRoundTrip(t *testing.T) {
	idx := New(0)
	require.NoError(t, idx.Add([]string{"0", "chunk-1"}, [][]float32{{0.6, 0.8, 0}, {0, 0, 1}}))

	data, err := idx.MarshalBinary()
	require.NoError(t, err)

	var back Index
	require.NoError(t, back.UnmarshalBinary(data))
	assert.Equal(t, 2, back.Count())
	assert.Equal(t, 3, back.Dimension())
	assert.Equal(t, idx.ids, back.ids)
	assert.Equal(t, idx.vecs, back.vecs)

	assert.Error(t, back.UnmarshalBinary(data[:len(data)-2]))
	assert.Error(t, back.UnmarshalBinary(append(data, 0)))
}

func TestIndex_EmptyRoundTrip(t *testing.T) {
	data, err := New(0).MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, 8)

	var back Index
	require.NoError(t, back.UnmarshalBinary(data))
	assert.Equal(t, 0, back.Count())
}

func TestIndex_UnmarshalRejectsOversizedHeader(t *testing.T) {
	var back Index
	data := binary.LittleEndian.AppendUint32(nil, 4)
	data = binary.LittleEndian.AppendUint32(data, math.MaxUint32)
	assert.Error(t, back.UnmarshalBinary(data))

	huge := binary.LittleEndian.AppendUint32(nil, math.MaxUint32)
	huge = binary.LittleEndian.AppendUint32(huge, 1)
	huge = append(huge, 0, 0, 0, 0)
	assert.Error(t, back.UnmarshalBinary(huge))
	assert.Equal(t, 0, back.Count())
}

func TestIndex_CloneIsIndependent(t *testing.T) {
	idx := New(0)
	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{1, 0}}))
	c := idx.Clone()
	require.NoError(t, c.Add([]string{"b"}, [][]float32{{0, 1}}))
	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 2, c.Count())
}
