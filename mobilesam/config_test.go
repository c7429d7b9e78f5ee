package mobilesam_test

import (
	"testing"

	"github.com/getcharzp/go-clickseg/mobilesam"
	"github.com/getcharzp/go-clickseg/segment"
	"github.com/getcharzp/go-clickseg/segment/segtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFamily(t *testing.T) {
	f := mobilesam.Family()
	require.NoError(t, f.Validate())
	assert.Equal(t, 1024, f.TargetSize)
	assert.Equal(t, segment.MaskThreshold, f.MaskMode)
	assert.Equal(t, []string{"image_embeddings"}, f.EncoderOutputs())
	assert.Contains(t, f.AllDecoderInputs(), "image_embeddings")
}

func TestPrompt(t *testing.T) {
	lb := segment.ComputeLetterbox(800, 600, 1024)
	in := mobilesam.Family().Prompt(512, 384, lb)

	require.Contains(t, in, "point_coords")
	assert.Equal(t, []int64{1, 2, 2}, in["point_coords"].Shape)
	assert.Equal(t, []float32{512, 384, 0, 0}, in["point_coords"].Float32)
	assert.Equal(t, []int64{1, 2}, in["point_labels"].Shape)
	assert.Equal(t, []float32{1, -1}, in["point_labels"].Float32)
	assert.Equal(t, []int64{1, 1, 256, 256}, in["mask_input"].Shape)
	assert.Len(t, in["mask_input"].Float32, 256*256)
	assert.Equal(t, []float32{0}, in["has_mask_input"].Float32)
	assert.Equal(t, []float32{600, 800}, in["orig_im_size"].Float32)
}

func TestSessionWithFakeModels(t *testing.T) {
	f := mobilesam.Family()
	dec := segtest.Decoder(f, []float32{0.1, 0.8, 0.4})
	rt := segtest.NewRuntime(segtest.Encoder(f, false), dec)
	s := segment.NewSession(f, rt, segment.WithLogger(zap.NewNop()))
	_, err := s.LoadModels(segtest.EncoderPath, segtest.DecoderPath, false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EncodeImage(segtest.PNG(800, 600)))
	pred, err := s.Predict(400, 300)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.BestIndex)

	inputs := dec.LastInputs()
	for _, name := range f.AllDecoderInputs() {
		assert.Contains(t, inputs, name)
	}
	assert.Equal(t, []int64{1, 256, segtest.EmbedSide, segtest.EmbedSide}, inputs["image_embeddings"].Shape)
	assert.Equal(t, []float32{512, 384, 0, 0}, inputs["point_coords"].Float32)
}

func TestDefaultConfig(t *testing.T) {
	cfg := mobilesam.DefaultConfig()
	assert.NotEmpty(t, cfg.OnnxRuntimeLibPath)
	assert.Contains(t, cfg.EncodeModelPath, "mobilesam_weights")
	assert.False(t, cfg.UseCuda)
}
