package segment

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// EmbeddingStore 一张图片的编码结果以及换算坐标所需的 Letterbox
//
// 创建后只读, 下一次 Encode 时整体替换
type EmbeddingStore interface {
	Family() string
	Transform() Letterbox
	// Tensors 按编码器输出名返回规范化 (CHW) 后的张量, 直接作为解码器输入
	Tensors() map[string]*Tensor
}

// SingleTensorEmbedding 单张量 embedding (MobileSAM)
type SingleTensorEmbedding struct {
	family    string
	name      string
	tensor    *Tensor
	transform Letterbox
}

func (e *SingleTensorEmbedding) Family() string       { return e.family }
func (e *SingleTensorEmbedding) Transform() Letterbox { return e.transform }

func (e *SingleTensorEmbedding) Tensors() map[string]*Tensor {
	return map[string]*Tensor{e.name: e.tensor}
}

// MultiTensorEmbedding 多尺度 embedding (SAM2 的 image_embeddings.0/1/2)
type MultiTensorEmbedding struct {
	family    string
	names     []string
	tensors   map[string]*Tensor
	transform Letterbox
}

func (e *MultiTensorEmbedding) Family() string       { return e.family }
func (e *MultiTensorEmbedding) Transform() Letterbox { return e.transform }

func (e *MultiTensorEmbedding) Tensors() map[string]*Tensor {
	out := make(map[string]*Tensor, len(e.tensors))
	for k, v := range e.tensors {
		out[k] = v
	}
	return out
}

// Names 按编码器输出顺序返回张量名
func (e *MultiTensorEmbedding) Names() []string {
	return append([]string(nil), e.names...)
}

// NewEmbeddingStore 根据家族定义组装 embedding, 一个输出时为 SingleTensorEmbedding
func NewEmbeddingStore(f Family, lb Letterbox, tensors map[string]*Tensor) (EmbeddingStore, error) {
	for _, o := range f.EmbeddingOutputs {
		if tensors[o.Name] == nil {
			return nil, fmt.Errorf("缺少 embedding %s", o.Name)
		}
	}
	if len(f.EmbeddingOutputs) == 1 {
		name := f.EmbeddingOutputs[0].Name
		return &SingleTensorEmbedding{family: f.Name, name: name, tensor: tensors[name], transform: lb}, nil
	}
	m := &MultiTensorEmbedding{family: f.Name, tensors: make(map[string]*Tensor, len(f.EmbeddingOutputs)), transform: lb}
	for _, o := range f.EmbeddingOutputs {
		m.names = append(m.names, o.Name)
		m.tensors[o.Name] = tensors[o.Name]
	}
	return m, nil
}

// canonicalize 把编码器输出统一为 [1, C, H, W]
//
// 通过哪个轴等于已知通道数判断 CHW / HWC, 无法判断时保持原数据并按 CHW 猜测形状
func canonicalize(t *Tensor, channels int, logger *zap.Logger) (*Tensor, error) {
	if t.Float32 == nil {
		return nil, fmt.Errorf("embedding 不是 float32 张量")
	}
	if len(t.Float32) != t.NumElements() {
		logger.Warn("embedding data does not match its shape, guessing layout",
			zap.Int64s("shape", t.Shape), zap.Int("len", len(t.Float32)))
		return guessLayout(t, channels), nil
	}
	shape := t.Shape
	if len(shape) == 3 {
		shape = append([]int64{1}, shape...)
	}
	if len(shape) != 4 || shape[0] != 1 {
		logger.Warn("unexpected embedding rank, guessing layout",
			zap.Int64s("shape", t.Shape), zap.Int("channels", channels))
		return guessLayout(t, channels), nil
	}

	c := int64(channels)
	switch {
	case shape[1] == c:
		return &Tensor{Shape: []int64{1, shape[1], shape[2], shape[3]}, Float32: t.Float32}, nil
	case shape[3] == c:
		h, w := int(shape[1]), int(shape[2])
		return &Tensor{
			Shape:   []int64{1, c, int64(h), int64(w)},
			Float32: hwcToCHW(t.Float32, h, w, channels),
		}, nil
	default:
		logger.Warn("embedding channel axis not found, assuming channel-first",
			zap.Int64s("shape", t.Shape), zap.Int("channels", channels))
		return &Tensor{Shape: []int64{1, shape[1], shape[2], shape[3]}, Float32: t.Float32}, nil
	}
}

// guessLayout 秩不符合预期时, 假定为 C x H x W 且 H == W
func guessLayout(t *Tensor, channels int) *Tensor {
	n := len(t.Float32)
	if channels > 0 && n%channels == 0 {
		hw := n / channels
		side := isqrt(hw)
		if side*side == hw {
			return &Tensor{Shape: []int64{1, int64(channels), int64(side), int64(side)}, Float32: t.Float32}
		}
	}
	return &Tensor{Shape: append([]int64(nil), t.Shape...), Float32: t.Float32}
}

func hwcToCHW(src []float32, h, w, c int) []float32 {
	dst := make([]float32, len(src))
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * c
			for k := 0; k < c; k++ {
				dst[k*plane+y*w+x] = src[base+k]
			}
		}
	}
	return dst
}

func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	return r
}
