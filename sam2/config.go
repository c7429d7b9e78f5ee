package sam2

import (
	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/segment"
)

type Label int64

const (
	LabelPadding    Label = -1 // 填充点, 不参与解码
	LabelBackground Label = 0  // 背景/排除
	LabelForeground Label = 1  // 前景/点击
)

const (
	// inputSize 输入图片的长边尺寸
	inputSize = 1024
)

// Config 配置项
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	EncodeModelPath    string // 图片特征提取模型
	DecodeModelPath    string // Mask解码模型

	// 可选参数
	UseCuda    bool // (可选) 是否启用 CUDA
	NumThreads int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: clickseg.DefaultLibraryPath(),
		EncodeModelPath:    "./sam2_weights/vision_encoder.onnx",
		DecodeModelPath:    "./sam2_weights/prompt_encoder_mask_decoder.onnx",
	}
}

// Family SAM2 模型家族
//
// 编码器输出三个尺度的特征 (image_embeddings.0/1/2), 解码器输出 3 个候选的 logits, 使用 sigmoid 软 Mask
func Family() segment.Family {
	return segment.Family{
		Name:          "sam2",
		TargetSize:    inputSize,
		Normalization: segment.ImageNet,
		EncoderInput:  "pixel_values",
		EmbeddingOutputs: []segment.EmbeddingOutput{
			{Name: "image_embeddings.0", Channels: 32},
			{Name: "image_embeddings.1", Channels: 64},
			{Name: "image_embeddings.2", Channels: 256},
		},
		DecoderInputs: []string{"input_points", "input_labels", "input_boxes"},
		MaskOutput:    "pred_masks",
		ScoreOutput:   "iou_scores",
		MaskMode:      segment.MaskSigmoid,
		Prompt:        prompt,
	}
}

// prompt 点击点 + 填充点, box 为空
func prompt(x, y float32, _ segment.Letterbox) map[string]*segment.Tensor {
	return map[string]*segment.Tensor{
		"input_points": segment.NewFloat32Tensor([]float32{x, y, 0, 0}, 1, 1, 2, 2),
		"input_labels": segment.NewInt64Tensor([]int64{int64(LabelForeground), int64(LabelPadding)}, 1, 1, 2),
		"input_boxes":  segment.NewFloat32Tensor([]float32{}, 1, 0, 4),
	}
}
