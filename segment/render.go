package segment

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// maskThreshold 阈值模式下的 logits 阈值
const maskThreshold = 0.0

// Render 渲染第 index 个候选, 输出原图尺寸的单通道 Mask
//
// 先把 logits 转成不透明度, 再裁掉 Letterbox 填充, 最后缩放回原图尺寸。不修改 set。
func Render(set *MaskCandidateSet, index int) (*image.Gray, error) {
	if set == nil {
		return nil, ErrNotPredicted
	}
	if index < 0 || index >= set.num {
		return nil, fmt.Errorf("候选下标 %d 超出范围 [0, %d)", index, set.num)
	}

	plane := set.width * set.height
	logits := set.logits[index*plane : (index+1)*plane]

	low := image.NewGray(image.Rect(0, 0, set.width, set.height))
	for i, v := range logits {
		low.Pix[i] = opacity(v, set.mode)
	}

	lb := set.store.Transform()
	valid := lb.ValidMaskRect(set.width, set.height)
	dst := image.NewGray(image.Rect(0, 0, lb.OrigWidth, lb.OrigHeight))
	scalerFor(set.mode).Scale(dst, dst.Bounds(), low, valid, draw.Src, nil)
	return dst, nil
}

// opacity logits -> 8 位不透明度
func opacity(v float32, mode MaskMode) uint8 {
	if mode == MaskSigmoid {
		return uint8(math.Round(255 * sigmoid(float64(v))))
	}
	if v > maskThreshold {
		return 255
	}
	return 0
}

// scalerFor 阈值 Mask 用最近邻保持二值, 软 Mask 用双线性
func scalerFor(mode MaskMode) draw.Scaler {
	if mode == MaskSigmoid {
		return draw.BiLinear
	}
	return draw.NearestNeighbor
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// EncodePNG 单通道无损编码
func EncodePNG(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("Mask 编码失败: %w", err)
	}
	return buf.Bytes(), nil
}
