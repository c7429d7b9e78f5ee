package clickseg

import (
	"fmt"

	"github.com/getcharzp/go-clickseg/segment"
	"github.com/up-zero/gotool/convertutil"
	"go.uber.org/zap"
)

// Config 模型加载参数
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	EncodeModelPath    string // 图片特征提取模型
	DecodeModelPath    string // Mask解码模型

	// 可选参数
	UseCuda    bool // (可选) 是否启用 CUDA, 初始化失败时回退到 CPU
	NumThreads int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

func newRuntime(cfg Config) (*OnnxRuntime, error) {
	onnxConfig := new(OnnxConfig)
	if err := convertutil.CopyProperties(cfg, onnxConfig); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	return NewOnnxRuntime(*onnxConfig)
}

// LoadModels 加载一对可在多个会话间共享的模型
func LoadModels(f segment.Family, cfg Config, logger *zap.Logger) (*segment.Models, error) {
	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, err
	}
	return segment.LoadModels(rt, f, cfg.EncodeModelPath, cfg.DecodeModelPath, cfg.UseCuda, logger)
}

// NewSession 创建会话并加载模型
func NewSession(f segment.Family, cfg Config, opts ...segment.Option) (*segment.Session, segment.DeviceReport, error) {
	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, segment.DeviceReport{}, err
	}
	s := segment.NewSession(f, rt, opts...)
	report, err := s.LoadModels(cfg.EncodeModelPath, cfg.DecodeModelPath, cfg.UseCuda)
	if err != nil {
		return nil, segment.DeviceReport{}, err
	}
	return s, report, nil
}
