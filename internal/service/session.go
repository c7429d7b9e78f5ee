package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/internal/config"
	"github.com/getcharzp/go-clickseg/segment"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound  = errors.New("会话不存在或已过期")
	ErrTooManySessions  = errors.New("会话数量已达上限")
	ErrQueueFull        = errors.New("处理队列已满，请稍后重试")
	ErrCandidateMissing = errors.New("候选 Mask 不存在")
)

// overlayTint 叠加颜色
var overlayTint = color.RGBA{R: 30, G: 144, B: 255, A: 140}

// Entry 一个客户端持有的分割会话
type Entry struct {
	ID        string
	MD5       string
	CacheHit  bool
	Transform segment.Letterbox // 创建时的 Letterbox, 会话被清理后仍可读取

	session  *segment.Session
	image    image.Image
	mu       sync.Mutex // 串行化同一会话上的请求
	lastUsed atomic.Int64
}

func (e *Entry) touch(now time.Time) {
	e.lastUsed.Store(now.UnixNano())
}

// Session 底层分割会话
func (e *Entry) Session() *segment.Session { return e.session }

// Bounds 原图尺寸
func (e *Entry) Bounds() image.Rectangle { return e.image.Bounds() }

// SessionManager 管理会话生命周期, 并限制并发推理数量
type SessionManager struct {
	models       *segment.Models
	cache        EmbeddingCache
	logger       *zap.Logger
	ttl          time.Duration
	maxSessions  int
	semaphore    chan struct{}
	queueTimeout time.Duration

	drawerMu sync.Mutex
	drawer   *clickseg.TextDrawer

	mu       sync.Mutex
	sessions map[string]*Entry
	now      func() time.Time
}

// NewSessionManager 创建会话管理器
//
// # Params:
//
//	models: 共享模型, 由调用方负责释放
//	cache: embedding 缓存, 可为 nil
func NewSessionManager(models *segment.Models, cache EmbeddingCache, sessCfg *config.SessionConfig, infCfg *config.InferenceConfig, logger *zap.Logger) (*SessionManager, error) {
	drawer, err := clickseg.NewTextDrawer("")
	if err != nil {
		return nil, err
	}
	if err := drawer.SetSize(18); err != nil {
		drawer.Close()
		return nil, err
	}
	return &SessionManager{
		models:       models,
		cache:        cache,
		logger:       logger,
		ttl:          sessCfg.TTL,
		maxSessions:  sessCfg.MaxSessions,
		semaphore:    make(chan struct{}, infCfg.MaxConcurrent),
		queueTimeout: infCfg.QueueTimeout,
		drawer:       drawer,
		sessions:     make(map[string]*Entry),
		now:          time.Now,
	}, nil
}

// Family 当前模型家族
func (m *SessionManager) Family() segment.Family { return m.models.Family }

// Device 模型实际运行的设备
func (m *SessionManager) Device() segment.DeviceReport { return m.models.Device }

// Len 存活的会话数
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// acquire 获取推理名额, 超过 queueTimeout 返回 ErrQueueFull
func (m *SessionManager) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, m.queueTimeout)
	defer cancel()

	select {
	case m.semaphore <- struct{}{}:
		return func() { <-m.semaphore }, nil
	case <-ctx.Done():
		return nil, ErrQueueFull
	}
}

// Create 解码并编码图片, 返回新会话
func (m *SessionManager) Create(ctx context.Context, data []byte) (*Entry, error) {
	img, err := segment.DecodeImage(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	full := len(m.sessions) >= m.maxSessions
	m.mu.Unlock()
	if full {
		return nil, ErrTooManySessions
	}

	s := segment.NewSession(m.models.Family, nil, segment.WithLogger(m.logger))
	if err := s.BindModels(m.models); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:      uuid.NewString(),
		MD5:     bytesMD5(data),
		session: s,
		image:   img,
	}

	if err := m.encode(ctx, entry, img); err != nil {
		_ = s.Close()
		return nil, err
	}

	entry.Transform = s.Embedding().Transform()

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		_ = s.Close()
		return nil, ErrTooManySessions
	}
	entry.touch(m.now())
	m.sessions[entry.ID] = entry
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("id", entry.ID),
		zap.String("md5", entry.MD5),
		zap.Bool("cache_hit", entry.CacheHit),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return entry, nil
}

// encode 优先使用缓存的 embedding, 缓存异常只记录警告
func (m *SessionManager) encode(ctx context.Context, entry *Entry, img image.Image) error {
	family := m.models.Family.Name
	if m.cache != nil {
		store, err := m.cache.GetEmbedding(ctx, family, entry.MD5)
		if err != nil {
			m.logger.Warn("failed to get cache", zap.String("md5", entry.MD5), zap.Error(err))
		}
		if store != nil && matchesImage(store, img) {
			err := entry.session.RestoreEmbedding(store)
			if err == nil {
				entry.CacheHit = true
				return nil
			}
			m.logger.Warn("cached embedding rejected", zap.String("md5", entry.MD5), zap.Error(err))
		}
	}

	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	if err := entry.session.EncodeFrame(img); err != nil {
		return err
	}
	m.logger.Debug("image encoded", zap.String("md5", entry.MD5), zap.Duration("cost", time.Since(start)))

	if m.cache != nil {
		if err := m.cache.SetEmbedding(ctx, family, entry.MD5, entry.session.Embedding()); err != nil {
			m.logger.Warn("failed to set cache", zap.String("md5", entry.MD5), zap.Error(err))
		}
	}
	return nil
}

func matchesImage(store segment.EmbeddingStore, img image.Image) bool {
	lb := store.Transform()
	return lb.OrigWidth == img.Bounds().Dx() && lb.OrigHeight == img.Bounds().Dy()
}

// Get 查找会话并刷新最近使用时间
func (m *SessionManager) Get(id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry.touch(m.now())
	return entry, nil
}

// Predict 在会话上执行一次点击预测
func (m *SessionManager) Predict(ctx context.Context, id string, x, y float64) (*segment.Prediction, error) {
	entry, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return entry.session.Predict(x, y)
}

// Mask 第 index 个候选的 PNG
func (m *SessionManager) Mask(id string, index int) ([]byte, error) {
	entry, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	data, err := entry.session.GetMaskImage(index)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrCandidateMissing
	}
	return data, nil
}

// Overlay 将第 index 个候选叠加到原图并标注分数, 返回 PNG
func (m *SessionManager) Overlay(id string, index int) ([]byte, error) {
	entry, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	mask, err := entry.session.GetMask(index)
	if err != nil {
		return nil, err
	}
	if mask == nil {
		return nil, ErrCandidateMissing
	}
	set, err := entry.session.Candidates()
	if err != nil {
		return nil, err
	}

	out := clickseg.Overlay(entry.image, mask, overlayTint)
	m.drawerMu.Lock()
	m.drawer.DrawLabel(out, fmt.Sprintf("#%d  %.3f", index, set.Scores()[index]), color.White, color.RGBA{A: 200})
	m.drawerMu.Unlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Delete 关闭并移除会话
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	m.logger.Info("session deleted", zap.String("id", id))
	return entry.session.Close()
}

// Sweep 移除超过 ttl 未使用的会话, 返回移除数量
func (m *SessionManager) Sweep() int {
	deadline := m.now().Add(-m.ttl).UnixNano()

	m.mu.Lock()
	var expired []*Entry
	for id, entry := range m.sessions {
		if entry.lastUsed.Load() < deadline {
			expired = append(expired, entry)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range expired {
		if err := entry.session.Close(); err != nil {
			m.logger.Warn("failed to close session", zap.String("id", entry.ID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		m.logger.Info("expired sessions removed", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// StartJanitor 周期性清理过期会话, ctx 取消后退出
func (m *SessionManager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		m.logger.Warn("janitor disabled, non-positive sweep interval", zap.Duration("interval", interval))
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close 关闭所有会话
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Entry)
	m.mu.Unlock()

	for _, entry := range sessions {
		_ = entry.session.Close()
	}
	m.drawer.Close()
}

// bytesMD5 计算字节数组MD5
func bytesMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}
