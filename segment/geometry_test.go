package segment_test

import (
	"image"
	"testing"

	"github.com/getcharzp/go-clickseg/segment"
	"github.com/stretchr/testify/assert"
)

func TestComputeLetterbox(t *testing.T) {
	tests := []struct {
		origW, origH     int
		resizedW, resizd int
		scale            float64
	}{
		{800, 600, 1024, 768, 1.28},
		{600, 800, 768, 1024, 1.28},
		{1024, 1024, 1024, 1024, 1},
		{2048, 1024, 1024, 512, 0.5},
		{1280, 720, 1024, 576, 0.8},
	}

	for _, tc := range tests {
		lb := segment.ComputeLetterbox(tc.origW, tc.origH, 1024)
		assert.InDelta(t, tc.scale, lb.Scale, 1e-9, "src %dx%d", tc.origW, tc.origH)
		assert.Equal(t, tc.resizedW, lb.ResizedWidth, "src %dx%d", tc.origW, tc.origH)
		assert.Equal(t, tc.resizd, lb.ResizedHeight, "src %dx%d", tc.origW, tc.origH)
	}
}

func TestLetterboxLongSideFillsTarget(t *testing.T) {
	for w := 1; w <= 3000; w += 37 {
		for h := 1; h <= 3000; h += 53 {
			lb := segment.ComputeLetterbox(w, h, 1024)
			assert.LessOrEqual(t, lb.ResizedWidth, 1024)
			assert.LessOrEqual(t, lb.ResizedHeight, 1024)
			assert.GreaterOrEqual(t, lb.ResizedWidth, 1)
			assert.GreaterOrEqual(t, lb.ResizedHeight, 1)
			assert.InDelta(t, 1024, max(lb.ResizedWidth, lb.ResizedHeight), 1, "src %dx%d", w, h)
		}
	}
}

func TestLetterboxSquareIsIdentity(t *testing.T) {
	lb := segment.ComputeLetterbox(1024, 1024, 1024)
	assert.Equal(t, 1.0, lb.Scale)
	assert.False(t, lb.Padded())
	assert.Equal(t, image.Rect(0, 0, 256, 256), lb.ValidMaskRect(256, 256))

	x, y := lb.ToModel(400, 300)
	assert.Equal(t, float32(400), x)
	assert.Equal(t, float32(300), y)
}

func TestLetterboxToModel(t *testing.T) {
	lb := segment.ComputeLetterbox(800, 600, 1024)
	x, y := lb.ToModel(400, 300)
	assert.InDelta(t, 512, x, 1e-3)
	assert.InDelta(t, 384, y, 1e-3)

	ox, oy := lb.ToOriginal(x, y)
	assert.InDelta(t, 400, ox, 1e-3)
	assert.InDelta(t, 300, oy, 1e-3)
}

func TestValidMaskRect(t *testing.T) {
	lb := segment.ComputeLetterbox(800, 600, 1024)
	assert.True(t, lb.Padded())
	assert.Equal(t, image.Rect(0, 0, 256, 192), lb.ValidMaskRect(256, 256))

	// 极细长图片的短边四舍五入为 0 时截断到 1
	thin := segment.ComputeLetterbox(4000, 1, 1024)
	assert.Equal(t, 1, thin.ResizedHeight)
	assert.Equal(t, image.Rect(0, 0, 256, 1), thin.ValidMaskRect(256, 256))
}
