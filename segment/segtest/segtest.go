// Package segtest 提供不依赖 ONNX Runtime 的假模型, 用于测试 segment 及其上层
package segtest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/getcharzp/go-clickseg/segment"
)

const (
	EncoderPath = "fake/encoder.onnx"
	DecoderPath = "fake/decoder.onnx"

	MaskSize  = 256
	Channels  = 4
	EmbedSide = 8
)

// Family 测试用模型家族: 单个 embedding, 阈值 Mask
func Family() segment.Family {
	return segment.Family{
		Name:          "fake",
		TargetSize:    1024,
		Normalization: segment.ImageNet,
		EncoderInput:  "image",
		EmbeddingOutputs: []segment.EmbeddingOutput{
			{Name: "image_embeddings", Channels: Channels},
		},
		DecoderInputs: []string{"point_coords", "point_labels"},
		MaskOutput:    "low_res_masks",
		ScoreOutput:   "iou_predictions",
		MaskMode:      segment.MaskThreshold,
		Prompt: func(x, y float32, _ segment.Letterbox) map[string]*segment.Tensor {
			return map[string]*segment.Tensor{
				"point_coords": segment.NewFloat32Tensor([]float32{x, y, 0, 0}, 1, 2, 2),
				"point_labels": segment.NewFloat32Tensor([]float32{1, -1}, 1, 2),
			}
		},
	}
}

// MultiFamily 测试用模型家族: 两个 embedding, sigmoid Mask
func MultiFamily() segment.Family {
	f := Family()
	f.Name = "fake-multi"
	f.EmbeddingOutputs = []segment.EmbeddingOutput{
		{Name: "image_embeddings.0", Channels: 2},
		{Name: "image_embeddings.1", Channels: Channels},
	}
	f.MaskMode = segment.MaskSigmoid
	return f
}

// InferFunc 假推理函数
type InferFunc func(inputs map[string]*segment.Tensor) (map[string]*segment.Tensor, error)

// Model 记录调用的假模型
type Model struct {
	mu     sync.Mutex
	fn     InferFunc
	calls  int
	last   map[string]*segment.Tensor
	closed bool
}

// NewModel 创建假模型
func NewModel(fn InferFunc) *Model {
	return &Model{fn: fn}
}

func (m *Model) Infer(inputs map[string]*segment.Tensor) (map[string]*segment.Tensor, error) {
	m.mu.Lock()
	m.calls++
	m.last = inputs
	fn := m.fn
	m.mu.Unlock()
	return fn(inputs)
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetFunc 替换推理函数
func (m *Model) SetFunc(fn InferFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// Calls 调用次数
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastInputs 最近一次调用的输入
func (m *Model) LastInputs() map[string]*segment.Tensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Closed 是否已关闭
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Runtime 按模型路径返回假模型, 可按设备注入初始化失败
type Runtime struct {
	mu       sync.Mutex
	models   map[string]*Model
	failures map[segment.Device]error
	opened   []segment.Device
}

// NewRuntime 创建假运行时, 使用 EncoderPath / DecoderPath 注册模型
func NewRuntime(encoder, decoder *Model) *Runtime {
	return &Runtime{
		models:   map[string]*Model{EncoderPath: encoder, DecoderPath: decoder},
		failures: map[segment.Device]error{},
	}
}

// FailOn 使该设备上的 Open 失败
func (r *Runtime) FailOn(device segment.Device, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[device] = err
}

// Opened 每次成功 Open 使用的设备
func (r *Runtime) Opened() []segment.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]segment.Device(nil), r.opened...)
}

func (r *Runtime) Open(modelPath string, _, _ []string, device segment.Device) (segment.Inferencer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[device]; err != nil {
		return nil, err
	}
	m, ok := r.models[modelPath]
	if !ok {
		return nil, fmt.Errorf("模型不存在: %s", modelPath)
	}
	r.opened = append(r.opened, device)
	return m, nil
}

// Encoder 返回固定 embedding 的假编码器, channelsLast 时输出 [1, H, W, C]
func Encoder(f segment.Family, channelsLast bool) *Model {
	return NewModel(func(inputs map[string]*segment.Tensor) (map[string]*segment.Tensor, error) {
		if inputs[f.EncoderInput] == nil {
			return nil, fmt.Errorf("缺少输入 %s", f.EncoderInput)
		}
		out := make(map[string]*segment.Tensor, len(f.EmbeddingOutputs))
		for _, o := range f.EmbeddingOutputs {
			out[o.Name] = Embedding(o.Channels, EmbedSide, channelsLast)
		}
		return out, nil
	})
}

// Embedding 构造 C x side x side 的 embedding, 元素值为其 CHW 线性下标
func Embedding(channels, side int, channelsLast bool) *segment.Tensor {
	data := make([]float32, channels*side*side)
	plane := side * side
	for c := 0; c < channels; c++ {
		for i := 0; i < plane; i++ {
			v := float32(c*plane + i)
			if channelsLast {
				data[i*channels+c] = v
			} else {
				data[c*plane+i] = v
			}
		}
	}
	if channelsLast {
		return segment.NewFloat32Tensor(data, 1, int64(side), int64(side), int64(channels))
	}
	return segment.NewFloat32Tensor(data, 1, int64(channels), int64(side), int64(side))
}

// Decoder 返回 len(scores) 个候选的假解码器
//
// 第 i 个候选在 Mask 坐标 [0, (i+1)*MaskSize/4) 的正方形内为正, 其余为负
func Decoder(f segment.Family, scores []float32) *Model {
	return NewModel(func(inputs map[string]*segment.Tensor) (map[string]*segment.Tensor, error) {
		for _, name := range f.AllDecoderInputs() {
			if inputs[name] == nil {
				return nil, fmt.Errorf("缺少输入 %s", name)
			}
		}
		return DecoderOutputs(f, scores), nil
	})
}

// DecoderOutputs 构造解码器输出
func DecoderOutputs(f segment.Family, scores []float32) map[string]*segment.Tensor {
	n := len(scores)
	plane := MaskSize * MaskSize
	masks := make([]float32, n*plane)
	for i := 0; i < n; i++ {
		edge := (i + 1) * MaskSize / 4
		for y := 0; y < MaskSize; y++ {
			for x := 0; x < MaskSize; x++ {
				v := float32(-8)
				if x < edge && y < edge {
					v = 8
				}
				masks[i*plane+y*MaskSize+x] = v
			}
		}
	}
	out := map[string]*segment.Tensor{
		f.MaskOutput: segment.NewFloat32Tensor(masks, 1, int64(n), MaskSize, MaskSize),
	}
	if f.ScoreOutput != "" {
		out[f.ScoreOutput] = segment.NewFloat32Tensor(append([]float32(nil), scores...), 1, int64(n))
	}
	return out
}

// PNG 生成 w x h 的渐变测试图
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// NewSession 创建已加载假模型的会话
func NewSession(f segment.Family, scores []float32, opts ...segment.Option) (*segment.Session, *Runtime, error) {
	rt := NewRuntime(Encoder(f, false), Decoder(f, scores))
	s := segment.NewSession(f, rt, opts...)
	if _, err := s.LoadModels(EncoderPath, DecoderPath, false); err != nil {
		return nil, nil, err
	}
	return s, rt, nil
}
