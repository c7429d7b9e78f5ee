package segment_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/getcharzp/go-clickseg/segment"
	"github.com/getcharzp/go-clickseg/segment/segtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCodecMultiTensor(t *testing.T) {
	s, _, err := segtest.NewSession(segtest.MultiFamily(), []float32{0.2})
	require.NoError(t, err)
	require.NoError(t, s.EncodeImage(segtest.PNG(640, 480)))

	src := s.Embedding()
	data, err := segment.MarshalEmbedding(src)
	require.NoError(t, err)

	got, err := segment.UnmarshalEmbedding(data)
	require.NoError(t, err)
	multi, ok := got.(*segment.MultiTensorEmbedding)
	require.True(t, ok, "got %T", got)

	assert.Equal(t, "fake-multi", got.Family())
	assert.Equal(t, src.Transform(), got.Transform())
	assert.Equal(t, []string{"image_embeddings.0", "image_embeddings.1"}, multi.Names())
	for name, want := range src.Tensors() {
		have := got.Tensors()[name]
		require.NotNil(t, have, name)
		assert.Equal(t, want.Shape, have.Shape)
		assert.InDeltaSlice(t, want.Float32, have.Float32, 0.125)
	}
}

func TestEmbeddingCodecRejectsCorruptData(t *testing.T) {
	s, _, err := segtest.NewSession(segtest.Family(), []float32{0.2})
	require.NoError(t, err)
	require.NoError(t, s.EncodeImage(segtest.PNG(16, 16)))
	data, err := segment.MarshalEmbedding(s.Embedding())
	require.NoError(t, err)

	_, err = segment.UnmarshalEmbedding(nil)
	assert.Error(t, err)
	_, err = segment.UnmarshalEmbedding([]byte("XXXX"))
	assert.Error(t, err)
	_, err = segment.UnmarshalEmbedding(data[:len(data)-3])
	assert.Error(t, err)

	store, err := segment.UnmarshalEmbedding(data)
	require.NoError(t, err)
	assert.IsType(t, &segment.SingleTensorEmbedding{}, store)

	_, err = segment.MarshalEmbedding(nil)
	assert.Error(t, err)
}

// embeddingFrame 手工构造只含一个张量的序列化数据
func embeddingFrame(dims []int64, payload int) []byte {
	var buf bytes.Buffer
	buf.WriteString("CSEG")
	buf.WriteByte(1)
	writeFrameString(&buf, "fake")
	for _, v := range []uint32{800, 600, 1024, 768, 1024} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	_ = binary.Write(&buf, binary.LittleEndian, 1.28)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	writeFrameString(&buf, "image_embeddings")
	buf.WriteByte(uint8(len(dims)))
	_ = binary.Write(&buf, binary.LittleEndian, dims)
	buf.Write(make([]byte, 2*payload))
	return buf.Bytes()
}

func writeFrameString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func TestEmbeddingCodecRejectsBadDims(t *testing.T) {
	store, err := segment.UnmarshalEmbedding(embeddingFrame([]int64{1, 4}, 4))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, store.Tensors()["image_embeddings"].Shape)

	cases := map[string][]int64{
		"overflow": {1<<62 + 1, 4},
		"zero":     {0, 4},
		"negative": {-1, -4},
		"too big":  {2, 4},
	}
	for name, dims := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := segment.UnmarshalEmbedding(embeddingFrame(dims, 4))
			assert.Error(t, err)
		})
	}
}
