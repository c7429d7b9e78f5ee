package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/getcharzp/go-clickseg/internal/config"
	"github.com/getcharzp/go-clickseg/internal/model"
	"github.com/getcharzp/go-clickseg/internal/service"
	"github.com/getcharzp/go-clickseg/segment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	cfg     *config.Config
	manager *service.SessionManager
	logger  *zap.Logger
}

func NewSessionHandler(cfg *config.Config, manager *service.SessionManager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		cfg:     cfg,
		manager: manager,
		logger:  logger,
	}
}

// Create 上传图片并创建会话
func (h *SessionHandler) Create(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, err, "读取上传文件失败")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, err, "读取上传文件失败")
		return
	}

	entry, err := h.manager.Create(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err, "创建会话失败")
		return
	}

	b := entry.Bounds()
	c.JSON(http.StatusCreated, model.Response{
		Success: true,
		Message: "创建成功",
		Data: model.SessionInfo{
			ID:       entry.ID,
			Family:   h.manager.Family().Name,
			MD5:      entry.MD5,
			Width:    b.Dx(),
			Height:   b.Dy(),
			Scale:    entry.Transform.Scale,
			CacheHit: entry.CacheHit,
			State:    entry.Session().State().String(),
		},
	})
}

// Predict 以点击坐标预测 Mask
func (h *SessionHandler) Predict(c *gin.Context) {
	var req model.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "参数错误, 需要 x, y",
			Error:   err.Error(),
		})
		return
	}

	id := c.Param("id")
	pred, err := h.manager.Predict(c.Request.Context(), id, *req.X, *req.Y)
	if err != nil {
		h.fail(c, err, "预测失败")
		return
	}

	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "预测成功",
		Data: model.PredictResult{
			Scores:    pred.Scores,
			Ranked:    pred.Ranked,
			BestIndex: pred.BestIndex,
			MaskURL:   fmt.Sprintf("/api/v1/sessions/%s/masks/%d", id, pred.BestIndex),
		},
	})
}

// Mask 返回第 index 个候选的 PNG
func (h *SessionHandler) Mask(c *gin.Context) {
	index, ok := h.index(c)
	if !ok {
		return
	}
	data, err := h.manager.Mask(c.Param("id"), index)
	if err != nil {
		h.fail(c, err, "获取 Mask 失败")
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

// Overlay 返回叠加了第 index 个候选的原图 PNG
func (h *SessionHandler) Overlay(c *gin.Context) {
	index, ok := h.index(c)
	if !ok {
		return
	}
	data, err := h.manager.Overlay(c.Param("id"), index)
	if err != nil {
		h.fail(c, err, "获取叠加图失败")
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

// Delete 关闭会话
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.manager.Delete(c.Param("id")); err != nil {
		h.fail(c, err, "删除会话失败")
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Message: "删除成功"})
}

// Device 模型运行设备
func (h *SessionHandler) Device(c *gin.Context) {
	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "查询成功",
		Data:    h.manager.Device(),
	})
}

func (h *SessionHandler) index(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "index 必须为整数",
			Error:   err.Error(),
		})
		return 0, false
	}
	return index, true
}

// fail 按错误类型映射状态码
func (h *SessionHandler) fail(c *gin.Context, err error, message string) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func statusOf(err error) int {
	var stateErr *segment.StateError
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrCandidateMissing):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, segment.ErrDecodeFailure):
		return http.StatusBadRequest
	case errors.As(err, &stateErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
