package segment

import (
	"fmt"
	"image"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// PointPrompt 原图像素坐标下的点击点
type PointPrompt struct {
	X, Y float64
}

// RankedCandidate 按分数降序排列的候选
type RankedCandidate struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// MaskCandidateSet 解码器的原始多候选输出, 逻辑形状为 [N, H, W]
//
// 各候选的最终栅格不缓存, 每次 Render 时从这里重新计算
type MaskCandidateSet struct {
	store  EmbeddingStore
	mode   MaskMode
	logits []float32
	num    int
	height int
	width  int
	scores []float32
	ranked []RankedCandidate
}

// Len 候选数量
func (s *MaskCandidateSet) Len() int { return s.num }

// MaskSize 低分辨率 Mask 尺寸
func (s *MaskCandidateSet) MaskSize() (int, int) { return s.width, s.height }

// Store 产生该结果的 embedding
func (s *MaskCandidateSet) Store() EmbeddingStore { return s.store }

// BestIndex 分数最高的候选
func (s *MaskCandidateSet) BestIndex() int { return s.ranked[0].Index }

// Scores 按候选下标排列的分数, 已截断到 [0, 1]
func (s *MaskCandidateSet) Scores() []float32 {
	return append([]float32(nil), s.scores...)
}

// Ranked 按分数降序排列
func (s *MaskCandidateSet) Ranked() []RankedCandidate {
	return append([]RankedCandidate(nil), s.ranked...)
}

// Decoder Mask 解码阶段
type Decoder struct {
	family Family
	model  Inferencer
	logger *zap.Logger
}

// NewDecoder 创建解码阶段
func NewDecoder(f Family, model Inferencer, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{family: f, model: model, logger: logger}
}

// Decode Mask 解码, 同时渲染分数最高的候选
func (d *Decoder) Decode(p PointPrompt, store EmbeddingStore) (*MaskCandidateSet, *image.Gray, error) {
	if d.model == nil {
		return nil, nil, ErrModelNotBound
	}
	if store == nil {
		return nil, nil, ErrNotEncoded
	}
	if store.Family() != d.family.Name {
		return nil, nil, fmt.Errorf("embedding 属于 %s, 解码器为 %s", store.Family(), d.family.Name)
	}

	lb := store.Transform()
	mx, my := lb.ToModel(p.X, p.Y)

	inputs := d.family.Prompt(mx, my, lb)
	for name, t := range store.Tensors() {
		inputs[name] = t
	}

	outputs, err := d.model.Infer(inputs)
	if err != nil {
		return nil, nil, inferenceError("decoder", err)
	}

	set, err := d.parse(outputs, store)
	if err != nil {
		return nil, nil, inferenceError("decoder", err)
	}

	best, err := Render(set, set.BestIndex())
	if err != nil {
		return nil, nil, err
	}

	d.logger.Debug("mask decoded",
		zap.Float64("x", p.X), zap.Float64("y", p.Y),
		zap.Int("candidates", set.num),
		zap.Int("best_index", set.BestIndex()),
		zap.Float32("best_score", set.ranked[0].Score))

	return set, best, nil
}

// parse 读取 Mask 与分数输出
func (d *Decoder) parse(outputs map[string]*Tensor, store EmbeddingStore) (*MaskCandidateSet, error) {
	masks := outputs[d.family.MaskOutput]
	if err := masks.checkFloat32(d.family.MaskOutput); err != nil {
		return nil, err
	}
	dims := len(masks.Shape)
	if dims < 2 {
		return nil, fmt.Errorf("Mask 输出形状无效: %v", masks.Shape)
	}
	h, w := int(masks.Shape[dims-2]), int(masks.Shape[dims-1])
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("Mask 输出形状无效: %v", masks.Shape)
	}
	num := len(masks.Float32) / (h * w)
	if num == 0 {
		return nil, fmt.Errorf("Mask 输出为空: %v", masks.Shape)
	}

	scores := make([]float32, num)
	if d.family.ScoreOutput != "" {
		if raw := outputs[d.family.ScoreOutput]; raw != nil && raw.Float32 != nil {
			if len(raw.Float32) != num {
				d.logger.Warn("score count does not match mask count",
					zap.Int("scores", len(raw.Float32)), zap.Int("masks", num))
			}
			copy(scores, raw.Float32)
		} else {
			d.logger.Warn("score output missing", zap.String("name", d.family.ScoreOutput))
		}
	}
	for i := range scores {
		scores[i] = clamp01(scores[i])
	}

	return &MaskCandidateSet{
		store:  store,
		mode:   d.family.MaskMode,
		logits: masks.Float32,
		num:    num,
		height: h,
		width:  w,
		scores: scores,
		ranked: rankScores(scores),
	}, nil
}

// rankScores 分数降序, 分数相同时下标小的在前
func rankScores(scores []float32) []RankedCandidate {
	neg := make([]float64, len(scores))
	for i, s := range scores {
		neg[i] = -float64(s)
	}
	inds := make([]int, len(scores))
	floats.ArgsortStable(neg, inds)

	out := make([]RankedCandidate, len(scores))
	for i, idx := range inds {
		out[i] = RankedCandidate{Index: idx, Score: scores[idx]}
	}
	return out
}
