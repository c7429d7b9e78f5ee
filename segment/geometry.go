package segment

import (
	"image"
	"math"
)

// Letterbox 原图到正方形模型输入的缩放参数, 图片贴在左上角, 右侧和下方为填充
//
// 每次 Encode 计算一次并随 embedding 保存, 之后所有坐标换算都以它为准
type Letterbox struct {
	OrigWidth     int     `json:"orig_width"`
	OrigHeight    int     `json:"orig_height"`
	Scale         float64 `json:"scale"`
	ResizedWidth  int     `json:"resized_width"`
	ResizedHeight int     `json:"resized_height"`
	TargetSize    int     `json:"target_size"`
}

// ComputeLetterbox 计算缩放参数
//
// # Params:
//
//	origW, origH: 原图尺寸, 必须大于 0
//	targetSize: 模型输入边长
func ComputeLetterbox(origW, origH, targetSize int) Letterbox {
	scale := float64(targetSize) / float64(max(origW, origH))
	return Letterbox{
		OrigWidth:     origW,
		OrigHeight:    origH,
		Scale:         scale,
		ResizedWidth:  clampInt(int(math.Round(float64(origW)*scale)), 1, targetSize),
		ResizedHeight: clampInt(int(math.Round(float64(origH)*scale)), 1, targetSize),
		TargetSize:    targetSize,
	}
}

// ToModel 原图坐标 -> 模型输入坐标
func (lb Letterbox) ToModel(x, y float64) (float32, float32) {
	return float32(x * lb.Scale), float32(y * lb.Scale)
}

// ToOriginal 模型输入坐标 -> 原图坐标
func (lb Letterbox) ToOriginal(x, y float32) (float64, float64) {
	return float64(x) / lb.Scale, float64(y) / lb.Scale
}

// ValidMaskRect 低分辨率 Mask 中去掉填充后的有效区域
//
// # Params:
//
//	maskW, maskH: Mask 栅格尺寸, 通常为模型输入的 1/4
func (lb Letterbox) ValidMaskRect(maskW, maskH int) image.Rectangle {
	validW := int(math.Round(float64(maskW) * float64(lb.ResizedWidth) / float64(lb.TargetSize)))
	validH := int(math.Round(float64(maskH) * float64(lb.ResizedHeight) / float64(lb.TargetSize)))
	return image.Rect(0, 0, clampInt(validW, 1, maskW), clampInt(validH, 1, maskH))
}

// Padded 是否存在填充
func (lb Letterbox) Padded() bool {
	return lb.ResizedWidth < lb.TargetSize || lb.ResizedHeight < lb.TargetSize
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
