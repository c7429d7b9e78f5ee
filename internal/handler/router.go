package handler

import (
	"net/http"

	"github.com/getcharzp/go-clickseg/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BuildInfo 构建信息, 由 ldflags 注入
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

// NewRouter 注册所有路由
func NewRouter(h *SessionHandler, info BuildInfo, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.MaxMultipartMemory = h.cfg.Upload.MaxSize

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  info.Version,
			"family":   h.manager.Family().Name,
			"sessions": h.manager.Len(),
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})

	r.GET("/device", h.Device)

	api := r.Group("/api/v1")
	{
		api.POST("/sessions", h.Create)
		api.POST("/sessions/:id/predict", h.Predict)
		api.GET("/sessions/:id/masks/:index", h.Mask)
		api.GET("/sessions/:id/overlay/:index", h.Overlay)
		api.DELETE("/sessions/:id", h.Delete)
	}
	return r
}
