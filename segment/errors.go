package segment

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotBound 尚未调用 LoadModels
	ErrModelNotBound = errors.New("segment: 模型未加载")

	// ErrNotEncoded 尚未成功调用 EncodeImage
	ErrNotEncoded = errors.New("segment: 图片未编码")

	// ErrNotPredicted 尚未成功调用 Predict
	ErrNotPredicted = errors.New("segment: 尚无预测结果")

	// ErrDecodeFailure 输入字节无法解码为图片
	ErrDecodeFailure = errors.New("segment: 图片解码失败")

	// ErrInferenceFailure 推理调用失败
	ErrInferenceFailure = errors.New("segment: 推理失败")
)

// StateError 状态机顺序错误, 例如 Encode 之前调用 Predict
type StateError struct {
	Op    string
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: 当前状态 %s: %v", e.Op, e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// inferenceError 保留原始错误, 同时可被 errors.Is(err, ErrInferenceFailure) 识别
func inferenceError(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInferenceFailure, stage, err)
}
