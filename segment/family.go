package segment

import (
	"errors"
	"fmt"
)

// MaskMode 低分辨率 logits 转换为不透明度的方式, 每个模型家族固定
type MaskMode int

const (
	// MaskThreshold value > 0 为 255, 否则为 0
	MaskThreshold MaskMode = iota
	// MaskSigmoid 255 * sigmoid(value)
	MaskSigmoid
)

func (m MaskMode) String() string {
	if m == MaskSigmoid {
		return "sigmoid"
	}
	return "threshold"
}

// Normalization 像素归一化参数, Std 全为 0 时只做 0-1 缩放
type Normalization struct {
	Mean [3]float32 // RGB
	Std  [3]float32 // RGB
}

// ZeroOne 只做 0-1 缩放
var ZeroOne = Normalization{}

// ImageNet 均值和方差
var ImageNet = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

func (n Normalization) apply(c int, v float32) float32 {
	if n.Std[c] == 0 {
		return v
	}
	return (v - n.Mean[c]) / n.Std[c]
}

// EmbeddingOutput 编码器的一个输出及其通道数, 通道数用于判断 CHW / HWC 布局
type EmbeddingOutput struct {
	Name     string
	Channels int
}

// PromptFunc 根据模型坐标系下的点击点构造解码器的提示张量
type PromptFunc func(x, y float32, lb Letterbox) map[string]*Tensor

// Family 模型家族常量
type Family struct {
	Name          string
	TargetSize    int
	Normalization Normalization

	EncoderInput     string
	EmbeddingOutputs []EmbeddingOutput

	DecoderInputs []string // 不含 embedding 输入
	MaskOutput    string   // [..., N, H, W]
	ScoreOutput   string   // [..., N], 可为空
	MaskMode      MaskMode
	Prompt        PromptFunc
}

// EncoderOutputs 编码器输出名
func (f Family) EncoderOutputs() []string {
	names := make([]string, 0, len(f.EmbeddingOutputs))
	for _, o := range f.EmbeddingOutputs {
		names = append(names, o.Name)
	}
	return names
}

// AllDecoderInputs 解码器全部输入名 (提示张量 + embedding)
func (f Family) AllDecoderInputs() []string {
	names := append([]string(nil), f.DecoderInputs...)
	return append(names, f.EncoderOutputs()...)
}

// DecoderOutputs 解码器输出名
func (f Family) DecoderOutputs() []string {
	names := []string{f.MaskOutput}
	if f.ScoreOutput != "" {
		names = append(names, f.ScoreOutput)
	}
	return names
}

// Validate 校验家族定义
func (f Family) Validate() error {
	if f.Name == "" {
		return errors.New("模型家族名称不能为空")
	}
	if f.TargetSize <= 0 {
		return fmt.Errorf("%s: TargetSize 必须大于 0", f.Name)
	}
	if f.EncoderInput == "" || len(f.EmbeddingOutputs) == 0 {
		return fmt.Errorf("%s: 缺少编码器输入输出定义", f.Name)
	}
	for _, o := range f.EmbeddingOutputs {
		if o.Name == "" || o.Channels <= 0 {
			return fmt.Errorf("%s: embedding 输出定义无效: %+v", f.Name, o)
		}
	}
	if f.MaskOutput == "" {
		return fmt.Errorf("%s: 缺少 Mask 输出名", f.Name)
	}
	if f.Prompt == nil {
		return fmt.Errorf("%s: 缺少提示构造函数", f.Name)
	}
	return nil
}
