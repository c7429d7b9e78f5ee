package segment

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/up-zero/gotool/imageutil"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Encoder 图片特征提取阶段
type Encoder struct {
	family Family
	model  Inferencer
	logger *zap.Logger
}

// NewEncoder 创建编码阶段
func NewEncoder(f Family, model Inferencer, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{family: f, model: model, logger: logger}
}

// DecodeImage 解码 png/jpeg/gif/webp/bmp/tiff
func DecodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s 图片尺寸为 0", ErrDecodeFailure, format)
	}
	return img, nil
}

// Preprocess Letterbox 缩放并归一化
//
// 先按比例缩放, 再贴到黑色正方形画布的左上角, 最后按家族的归一化参数转换为 CHW
func (e *Encoder) Preprocess(img image.Image) (*Tensor, Letterbox) {
	bounds := img.Bounds()
	size := e.family.TargetSize
	lb := ComputeLetterbox(bounds.Dx(), bounds.Dy(), size)

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	resized := imageutil.Resize(img, lb.ResizedWidth, lb.ResizedHeight)
	draw.Draw(canvas, image.Rect(0, 0, lb.ResizedWidth, lb.ResizedHeight), resized, resized.Bounds().Min, draw.Src)

	return NewFloat32Tensor(normalize(canvas, e.family.Normalization), 1, 3, int64(size), int64(size)), lb
}

// normalize RGBA -> CHW float32
func normalize(canvas *image.RGBA, n Normalization) []float32 {
	w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < w; x++ {
			idx := y*w + x
			for c := 0; c < 3; c++ {
				data[c*plane+idx] = n.apply(c, float32(row[x*4+c])/255.0)
			}
		}
	}
	return data
}

// Encode 图片特征提取, 返回新的 EmbeddingStore
func (e *Encoder) Encode(img image.Image) (EmbeddingStore, error) {
	if e.model == nil {
		return nil, ErrModelNotBound
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: 图片为空", ErrDecodeFailure)
	}

	input, lb := e.Preprocess(img)
	outputs, err := e.model.Infer(map[string]*Tensor{e.family.EncoderInput: input})
	if err != nil {
		return nil, inferenceError("encoder", err)
	}

	tensors := make(map[string]*Tensor, len(e.family.EmbeddingOutputs))
	for _, o := range e.family.EmbeddingOutputs {
		raw, ok := outputs[o.Name]
		if !ok || raw == nil {
			return nil, inferenceError("encoder", fmt.Errorf("缺少输出 %s", o.Name))
		}
		t, err := canonicalize(raw, o.Channels, e.logger)
		if err != nil {
			return nil, inferenceError("encoder", fmt.Errorf("%s: %w", o.Name, err))
		}
		tensors[o.Name] = t
	}

	e.logger.Debug("image encoded",
		zap.String("family", e.family.Name),
		zap.Int("orig_width", lb.OrigWidth),
		zap.Int("orig_height", lb.OrigHeight),
		zap.Float64("scale", lb.Scale))

	return NewEmbeddingStore(e.family, lb, tensors)
}
