package segment

import "fmt"

// Tensor 推理边界上传递的稠密张量, Float32 与 Int64 二选一
type Tensor struct {
	Shape   []int64
	Float32 []float32
	Int64   []int64
}

// NewFloat32Tensor 创建 float32 张量
func NewFloat32Tensor(data []float32, shape ...int64) *Tensor {
	return &Tensor{Shape: shape, Float32: data}
}

// NewInt64Tensor 创建 int64 张量
func NewInt64Tensor(data []int64, shape ...int64) *Tensor {
	return &Tensor{Shape: shape, Int64: data}
}

// NumElements 形状对应的元素个数
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Clone 深拷贝
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{Shape: append([]int64(nil), t.Shape...)}
	if t.Float32 != nil {
		c.Float32 = append([]float32(nil), t.Float32...)
	}
	if t.Int64 != nil {
		c.Int64 = append([]int64(nil), t.Int64...)
	}
	return c
}

// checkFloat32 校验 float32 数据与形状一致
func (t *Tensor) checkFloat32(name string) error {
	if t == nil {
		return fmt.Errorf("缺少输出 %s", name)
	}
	if t.Float32 == nil {
		return fmt.Errorf("输出 %s 不是 float32 张量", name)
	}
	if len(t.Float32) != t.NumElements() {
		return fmt.Errorf("输出 %s 数据长度(%d)与形状 %v 不匹配", name, len(t.Float32), t.Shape)
	}
	return nil
}

// Inferencer 黑盒推理调用
type Inferencer interface {
	Infer(inputs map[string]*Tensor) (map[string]*Tensor, error)
	Close() error
}

// Device 推理设备
type Device int

const (
	DeviceCPU Device = iota
	DeviceCUDA
)

func (d Device) String() string {
	switch d {
	case DeviceCUDA:
		return "cuda"
	default:
		return "cpu"
	}
}

func (d Device) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Device) UnmarshalText(text []byte) error {
	switch string(text) {
	case "cpu":
		*d = DeviceCPU
	case "cuda":
		*d = DeviceCUDA
	default:
		return fmt.Errorf("未知设备 %q", text)
	}
	return nil
}

// Runtime 负责把模型文件绑定为 Inferencer
type Runtime interface {
	Open(modelPath string, inputs, outputs []string, device Device) (Inferencer, error)
}

// DeviceReport 实际使用的推理设备
type DeviceReport struct {
	Requested Device `json:"requested"`
	Effective Device `json:"effective"`
	Fallback  bool   `json:"fallback"`
	Reason    string `json:"reason,omitempty"`
}
