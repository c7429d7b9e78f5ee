package segment

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"go.uber.org/zap"
)

// State 会话状态
type State int

const (
	StateEmpty State = iota
	StateModelsBound
	StateEncoded
	StatePredicted
)

func (s State) String() string {
	switch s {
	case StateModelsBound:
		return "models_bound"
	case StateEncoded:
		return "encoded"
	case StatePredicted:
		return "predicted"
	default:
		return "empty"
	}
}

// Models 一对已加载的编码器/解码器, 可被多个会话共享
type Models struct {
	Family  Family
	Encoder Inferencer
	Decoder Inferencer
	Device  DeviceReport
}

// Close 释放模型
func (m *Models) Close() error {
	return errors.Join(m.Encoder.Close(), m.Decoder.Close())
}

// LoadModels 加载编码器和解码器
//
// 请求加速器时若初始化失败, 记录日志后回退到 CPU, 并在 DeviceReport 中标记
func LoadModels(rt Runtime, f Family, encoderPath, decoderPath string, useAccelerator bool, logger *zap.Logger) (*Models, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	report := DeviceReport{Requested: DeviceCPU, Effective: DeviceCPU}
	if useAccelerator {
		report.Requested = DeviceCUDA
		enc, dec, err := openPair(rt, f, encoderPath, decoderPath, DeviceCUDA)
		if err == nil {
			report.Effective = DeviceCUDA
			return &Models{Family: f, Encoder: enc, Decoder: dec, Device: report}, nil
		}
		logger.Warn("accelerator init failed, falling back to cpu", zap.Error(err))
		report.Fallback = true
		report.Reason = err.Error()
	}

	enc, dec, err := openPair(rt, f, encoderPath, decoderPath, DeviceCPU)
	if err != nil {
		return nil, err
	}
	return &Models{Family: f, Encoder: enc, Decoder: dec, Device: report}, nil
}

func openPair(rt Runtime, f Family, encoderPath, decoderPath string, device Device) (Inferencer, Inferencer, error) {
	enc, err := rt.Open(encoderPath, []string{f.EncoderInput}, f.EncoderOutputs(), device)
	if err != nil {
		return nil, nil, fmt.Errorf("创建 Encoder 会话失败: %w", err)
	}
	dec, err := rt.Open(decoderPath, f.AllDecoderInputs(), f.DecoderOutputs(), device)
	if err != nil {
		enc.Close()
		return nil, nil, fmt.Errorf("创建 Decoder 会话失败: %w", err)
	}
	return enc, dec, nil
}

// Option 会话选项
type Option func(*Session)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// stages 绑定到同一对模型的编码/解码阶段
type stages struct {
	models  *Models
	owned   bool
	encoder *Encoder
	decoder *Decoder
}

type embeddingSlot struct {
	store EmbeddingStore
}

// Session 交互式分割会话
//
// 状态: Empty -> ModelsBound -> Encoded -> Predicted。会话本身不加锁, 同一时刻只应由一个调用方驱动;
// 各阶段在计算完成后才原子替换结果, 读取方只会看到完整的旧状态或新状态。
type Session struct {
	family  Family
	runtime Runtime
	logger  *zap.Logger

	stages    atomic.Pointer[stages]
	embedding atomic.Pointer[embeddingSlot]
	masks     atomic.Pointer[MaskCandidateSet]
}

// NewSession 创建会话
func NewSession(f Family, rt Runtime, opts ...Option) *Session {
	s := &Session{family: f, runtime: rt, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Family 会话使用的模型家族
func (s *Session) Family() Family { return s.family }

// State 当前状态
func (s *Session) State() State {
	if s.stages.Load() == nil {
		return StateEmpty
	}
	slot := s.embedding.Load()
	if slot == nil {
		return StateModelsBound
	}
	if set := s.masks.Load(); set != nil && set.store == slot.store {
		return StatePredicted
	}
	return StateEncoded
}

// LoadModels 绑定编码器/解码器, 不影响图片状态
func (s *Session) LoadModels(encoderPath, decoderPath string, useAccelerator bool) (DeviceReport, error) {
	if s.runtime == nil {
		return DeviceReport{}, errors.New("未配置推理运行时")
	}
	m, err := LoadModels(s.runtime, s.family, encoderPath, decoderPath, useAccelerator, s.logger)
	if err != nil {
		return DeviceReport{}, err
	}
	s.bind(m, true)
	s.logger.Info("models loaded",
		zap.String("family", s.family.Name),
		zap.Stringer("device", m.Device.Effective),
		zap.Bool("fallback", m.Device.Fallback))
	return m.Device, nil
}

// BindModels 绑定共享模型, 会话关闭时不释放
func (s *Session) BindModels(m *Models) error {
	if m == nil {
		return ErrModelNotBound
	}
	if m.Family.Name != s.family.Name {
		return fmt.Errorf("模型属于 %s, 会话为 %s", m.Family.Name, s.family.Name)
	}
	s.bind(m, false)
	return nil
}

func (s *Session) bind(m *Models, owned bool) {
	next := &stages{
		models:  m,
		owned:   owned,
		encoder: NewEncoder(s.family, m.Encoder, s.logger),
		decoder: NewDecoder(s.family, m.Decoder, s.logger),
	}
	if prev := s.stages.Swap(next); prev != nil && prev.owned {
		if err := prev.models.Close(); err != nil {
			s.logger.Warn("failed to release previous models", zap.Error(err))
		}
	}
}

// Device 当前模型的设备信息
func (s *Session) Device() (DeviceReport, bool) {
	st := s.stages.Load()
	if st == nil {
		return DeviceReport{}, false
	}
	return st.models.Device, true
}

// EncodeImage 解码图片字节并提取特征
//
// 失败时保持之前的状态不变; 成功时丢弃旧的 embedding 和预测结果
func (s *Session) EncodeImage(data []byte) error {
	if s.stages.Load() == nil {
		return &StateError{Op: "EncodeImage", State: StateEmpty, Err: ErrModelNotBound}
	}
	img, err := DecodeImage(data)
	if err != nil {
		return err
	}
	return s.EncodeFrame(img)
}

// EncodeFrame 对已解码的图片提取特征
func (s *Session) EncodeFrame(img image.Image) error {
	st := s.stages.Load()
	if st == nil {
		return &StateError{Op: "EncodeImage", State: StateEmpty, Err: ErrModelNotBound}
	}
	store, err := st.encoder.Encode(img)
	if err != nil {
		return err
	}
	s.install(store)
	return nil
}

// install 替换 embedding 并使预测缓存失效
func (s *Session) install(store EmbeddingStore) {
	s.embedding.Store(&embeddingSlot{store: store})
	s.masks.Store(nil)
}

// Embedding 当前 embedding, 未编码时为 nil
func (s *Session) Embedding() EmbeddingStore {
	if slot := s.embedding.Load(); slot != nil {
		return slot.store
	}
	return nil
}

// RestoreEmbedding 装载之前导出的 embedding, 等价于一次成功的 EncodeImage
func (s *Session) RestoreEmbedding(store EmbeddingStore) error {
	if s.stages.Load() == nil {
		return &StateError{Op: "RestoreEmbedding", State: StateEmpty, Err: ErrModelNotBound}
	}
	if store == nil {
		return errors.New("embedding 为空")
	}
	if store.Family() != s.family.Name {
		return fmt.Errorf("embedding 属于 %s, 会话为 %s", store.Family(), s.family.Name)
	}
	tensors := store.Tensors()
	for _, o := range s.family.EmbeddingOutputs {
		if tensors[o.Name] == nil {
			return fmt.Errorf("embedding 缺少 %s", o.Name)
		}
	}
	s.install(store)
	return nil
}

// Prediction Predict 的返回值
type Prediction struct {
	Scores    []float32         `json:"scores"`
	Ranked    []RankedCandidate `json:"ranked"`
	BestIndex int               `json:"best_index"`
	BestMask  []byte            `json:"-"` // PNG, 原图尺寸
}

// Predict 以原图像素坐标 (x, y) 为提示解码 Mask
//
// 可重复调用, 每次覆盖上一次的候选缓存; 失败时保留上一次的结果
func (s *Session) Predict(x, y float64) (*Prediction, error) {
	st := s.stages.Load()
	if st == nil {
		return nil, &StateError{Op: "Predict", State: StateEmpty, Err: ErrModelNotBound}
	}
	slot := s.embedding.Load()
	if slot == nil {
		return nil, &StateError{Op: "Predict", State: StateModelsBound, Err: ErrNotEncoded}
	}

	set, best, err := st.decoder.Decode(PointPrompt{X: x, Y: y}, slot.store)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodePNG(best)
	if err != nil {
		return nil, err
	}

	// EncodeImage 可能在解码期间替换了 embedding, 此时结果已过期
	if cur := s.embedding.Load(); cur == nil || cur.store != slot.store {
		return nil, &StateError{Op: "Predict", State: s.State(), Err: ErrNotEncoded}
	}
	s.masks.Store(set)

	return &Prediction{
		Scores:    set.Scores(),
		Ranked:    set.Ranked(),
		BestIndex: set.BestIndex(),
		BestMask:  encoded,
	}, nil
}

// candidates 返回与当前 embedding 对应的预测缓存
func (s *Session) candidates(op string) (*MaskCandidateSet, error) {
	if s.stages.Load() == nil {
		return nil, &StateError{Op: op, State: StateEmpty, Err: ErrModelNotBound}
	}
	slot := s.embedding.Load()
	if slot == nil {
		return nil, &StateError{Op: op, State: StateModelsBound, Err: ErrNotEncoded}
	}
	set := s.masks.Load()
	if set == nil || set.store != slot.store {
		return nil, &StateError{Op: op, State: StateEncoded, Err: ErrNotPredicted}
	}
	return set, nil
}

// Candidates 最近一次 Predict 的候选缓存
func (s *Session) Candidates() (*MaskCandidateSet, error) {
	return s.candidates("Candidates")
}

// GetMask 渲染第 index 个候选, 下标无效时返回 nil
func (s *Session) GetMask(index int) (*image.Gray, error) {
	set, err := s.candidates("GetMask")
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= set.Len() {
		return nil, nil
	}
	return Render(set, index)
}

// GetMaskImage 渲染第 index 个候选并编码为 PNG, 下标无效时返回空结果
func (s *Session) GetMaskImage(index int) ([]byte, error) {
	mask, err := s.GetMask(index)
	if err != nil || mask == nil {
		return nil, err
	}
	return EncodePNG(mask)
}

// Reset 丢弃图片状态, 保留模型
func (s *Session) Reset() {
	s.embedding.Store(nil)
	s.masks.Store(nil)
}

// Close 释放会话自己加载的模型
func (s *Session) Close() error {
	s.Reset()
	st := s.stages.Swap(nil)
	if st != nil && st.owned {
		return st.models.Close()
	}
	return nil
}
