package model

import "github.com/getcharzp/go-clickseg/segment"

// Response 通用响应
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// SessionInfo 会话信息
type SessionInfo struct {
	ID       string  `json:"id"`
	Family   string  `json:"family"`
	MD5      string  `json:"md5"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Scale    float64 `json:"scale"`
	CacheHit bool    `json:"cache_hit"`
	State    string  `json:"state"`
}

// PredictRequest 点击坐标, 原图像素坐标系
type PredictRequest struct {
	X *float64 `json:"x" binding:"required"`
	Y *float64 `json:"y" binding:"required"`
}

// PredictResult 预测结果, Mask 通过 masks/:index 获取
type PredictResult struct {
	Scores    []float32                 `json:"scores"`
	Ranked    []segment.RankedCandidate `json:"ranked"`
	BestIndex int                       `json:"best_index"`
	MaskURL   string                    `json:"mask_url"`
}
