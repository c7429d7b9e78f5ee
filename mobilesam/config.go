package mobilesam

import (
	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/segment"
)

const (
	// inputSize 输入图片的长边尺寸
	inputSize = 1024
	// lowResMaskSize 解码器低分辨率 Mask 的边长
	lowResMaskSize = 256

	labelPadding    = -1
	labelForeground = 1
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
		EncodeModelPath:    "./mobilesam_weights/mobile_sam_encoder.onnx",
		DecodeModelPath:    "./mobilesam_weights/mobile_sam_decoder.onnx",
	}
}

// Family MobileSAM 模型家族
//
// 单个 256 通道 embedding, 读取 low_res_masks 并按阈值 0 二值化
func Family() segment.Family {
	return segment.Family{
		Name:          "mobilesam",
		TargetSize:    inputSize,
		Normalization: segment.ImageNet,
		EncoderInput:  "image",
		EmbeddingOutputs: []segment.EmbeddingOutput{
			{Name: "image_embeddings", Channels: 256},
		},
		DecoderInputs: []string{"point_coords", "point_labels", "mask_input", "has_mask_input", "orig_im_size"},
		MaskOutput:    "low_res_masks",
		ScoreOutput:   "iou_predictions",
		MaskMode:      segment.MaskThreshold,
		Prompt:        prompt,
	}
}

// prompt 点击点 + 填充点, 不使用上一次的 Mask
func prompt(x, y float32, lb segment.Letterbox) map[string]*segment.Tensor {
	return map[string]*segment.Tensor{
		"point_coords":   segment.NewFloat32Tensor([]float32{x, y, 0, 0}, 1, 2, 2),
		"point_labels":   segment.NewFloat32Tensor([]float32{labelForeground, labelPadding}, 1, 2),
		"mask_input":     segment.NewFloat32Tensor(make([]float32, lowResMaskSize*lowResMaskSize), 1, 1, lowResMaskSize, lowResMaskSize),
		"has_mask_input": segment.NewFloat32Tensor([]float32{0}, 1),
		"orig_im_size":   segment.NewFloat32Tensor([]float32{float32(lb.OrigHeight), float32(lb.OrigWidth)}, 2),
	}
}
