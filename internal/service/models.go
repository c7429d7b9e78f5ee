package service

import (
	"fmt"

	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/internal/config"
	"github.com/getcharzp/go-clickseg/mobilesam"
	"github.com/getcharzp/go-clickseg/sam2"
	"github.com/getcharzp/go-clickseg/segment"
	"go.uber.org/zap"
)

// LoadModels 按配置加载共享模型, 所有会话复用同一对模型
func LoadModels(cfg *config.Config, logger *zap.Logger) (*segment.Models, error) {
	libPath := cfg.Onnx.LibPath
	if libPath == "" {
		libPath = clickseg.DefaultLibraryPath()
	}

	switch cfg.Model.Family {
	case "mobilesam":
		return mobilesam.LoadModels(mobilesam.Config{
			OnnxRuntimeLibPath: libPath,
			EncodeModelPath:    cfg.Model.EncoderPath,
			DecodeModelPath:    cfg.Model.DecoderPath,
			UseCuda:            cfg.Model.UseCuda,
			NumThreads:         cfg.Model.NumThreads,
		}, logger)
	case "sam2":
		return sam2.LoadModels(sam2.Config{
			OnnxRuntimeLibPath: libPath,
			EncodeModelPath:    cfg.Model.EncoderPath,
			DecodeModelPath:    cfg.Model.DecoderPath,
			UseCuda:            cfg.Model.UseCuda,
			NumThreads:         cfg.Model.NumThreads,
		}, logger)
	default:
		return nil, fmt.Errorf("未知的模型家族 %q", cfg.Model.Family)
	}
}
