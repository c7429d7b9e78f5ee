package mobilesam

import (
	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/segment"
	"go.uber.org/zap"
)

// NewSession 初始化 MobileSAM 会话
func NewSession(cfg Config, opts ...segment.Option) (*segment.Session, segment.DeviceReport, error) {
	return clickseg.NewSession(Family(), clickseg.Config(cfg), opts...)
}

// LoadModels 加载可共享的 MobileSAM 模型
func LoadModels(cfg Config, logger *zap.Logger) (*segment.Models, error) {
	return clickseg.LoadModels(Family(), clickseg.Config(cfg), logger)
}
