package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCanonicalizeChannelFirst(t *testing.T) {
	src := &Tensor{Shape: []int64{1, 2, 2, 3}, Float32: []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}}
	got, err := canonicalize(src, 2, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 2, 3}, got.Shape)
	assert.Equal(t, src.Float32, got.Float32)
}

func TestCanonicalizeChannelLast(t *testing.T) {
	// [1, H=1, W=2, C=3]
	src := &Tensor{Shape: []int64{1, 1, 2, 3}, Float32: []float32{
		0, 10, 20, // x=0
		1, 11, 21, // x=1
	}}
	got, err := canonicalize(src, 3, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 1, 2}, got.Shape)
	assert.Equal(t, []float32{0, 1, 10, 11, 20, 21}, got.Float32)
}

func TestCanonicalizeRankThree(t *testing.T) {
	src := &Tensor{Shape: []int64{2, 1, 1}, Float32: []float32{5, 6}}
	got, err := canonicalize(src, 2, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 1, 1}, got.Shape)
}

func TestCanonicalizeUnexpectedRank(t *testing.T) {
	src := &Tensor{Shape: []int64{32}, Float32: make([]float32, 32)}
	got, err := canonicalize(src, 2, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4, 4}, got.Shape)

	odd := &Tensor{Shape: []int64{3, 5}, Float32: make([]float32, 15)}
	got, err = canonicalize(odd, 2, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, got.Shape)
}

func TestCanonicalizeRejectsInt64(t *testing.T) {
	_, err := canonicalize(&Tensor{Shape: []int64{1}, Int64: []int64{1}}, 1, zap.NewNop())
	assert.Error(t, err)
}

func TestNewEmbeddingStoreVariants(t *testing.T) {
	lb := ComputeLetterbox(10, 10, 16)
	one := &Tensor{Shape: []int64{1, 1, 1, 1}, Float32: []float32{1}}

	single, err := NewEmbeddingStore(Family{Name: "a", EmbeddingOutputs: []EmbeddingOutput{{Name: "e", Channels: 1}}}, lb, map[string]*Tensor{"e": one})
	require.NoError(t, err)
	assert.IsType(t, &SingleTensorEmbedding{}, single)
	assert.Equal(t, lb, single.Transform())

	multi, err := NewEmbeddingStore(Family{Name: "b", EmbeddingOutputs: []EmbeddingOutput{
		{Name: "e0", Channels: 1}, {Name: "e1", Channels: 1},
	}}, lb, map[string]*Tensor{"e0": one, "e1": one})
	require.NoError(t, err)
	require.IsType(t, &MultiTensorEmbedding{}, multi)
	assert.Equal(t, []string{"e0", "e1"}, multi.(*MultiTensorEmbedding).Names())
	assert.Len(t, multi.Tensors(), 2)

	_, err = NewEmbeddingStore(Family{Name: "c", EmbeddingOutputs: []EmbeddingOutput{{Name: "missing", Channels: 1}}}, lb, nil)
	assert.Error(t, err)
}

func TestRankScores(t *testing.T) {
	ranked := rankScores([]float32{0.5, 1, 0, 1})
	assert.Equal(t, []RankedCandidate{{1, 1}, {3, 1}, {0, 0.5}, {2, 0}}, ranked)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, float32(1), clamp01(1.4))
	assert.Equal(t, float32(0), clamp01(-0.2))
	assert.Equal(t, float32(0.3), clamp01(0.3))
}
