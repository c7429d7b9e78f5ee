package clickseg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/getcharzp/go-clickseg/segment"
	"github.com/x448/float16"
	ort "github.com/yalue/onnxruntime_go"
)

type OnnxConfig struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	// 可选参数
	NumThreads int // (可选) ONNX 线程数, 默认由CPU核心数决定
}

var (
	initErr error
	once    sync.Once
)

// OnnxRuntime 基于 ONNX Runtime 的推理运行时
type OnnxRuntime struct {
	config OnnxConfig
}

// NewOnnxRuntime 初始化 ONNX 环境
func NewOnnxRuntime(cfg OnnxConfig) (*OnnxRuntime, error) {
	if cfg.OnnxRuntimeLibPath == "" {
		return nil, fmt.Errorf("OnnxRuntimeLibPath 不能为空")
	}
	once.Do(func() {
		ort.SetSharedLibraryPath(cfg.OnnxRuntimeLibPath)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("初始化 ONNX Runtime 环境失败: %w", initErr)
	}
	return &OnnxRuntime{config: cfg}, nil
}

// sessionOptions 创建会话选项 (线程数, CUDA)
func (r *OnnxRuntime) sessionOptions(device segment.Device) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if r.config.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(r.config.NumThreads); err != nil {
			options.Destroy()
			return nil, err
		}
	}

	if device == segment.DeviceCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("创建 CUDAProviderOptions 失败: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("添加 CUDA 执行提供者失败: %w", err)
		}
	}
	return options, nil
}

// Open 创建 ONNX 会话
func (r *OnnxRuntime) Open(modelPath string, inputs, outputs []string, device segment.Device) (segment.Inferencer, error) {
	options, err := r.sessionOptions(device)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("创建 ONNX 会话失败 (%s, %s): %w", modelPath, device, err)
	}
	return &onnxModel{
		session: session,
		inputs:  append([]string(nil), inputs...),
		outputs: append([]string(nil), outputs...),
	}, nil
}

// onnxModel 单个 ONNX 模型
type onnxModel struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

func (m *onnxModel) Infer(inputs map[string]*segment.Tensor) (map[string]*segment.Tensor, error) {
	values := make([]ort.Value, 0, len(m.inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for _, name := range m.inputs {
		t, ok := inputs[name]
		if !ok || t == nil {
			return nil, fmt.Errorf("缺少输入 %s", name)
		}
		v, err := toValue(t)
		if err != nil {
			return nil, fmt.Errorf("创建 Input Tensor %s 失败: %w", name, err)
		}
		values = append(values, v)
	}

	outputs := make([]ort.Value, len(m.outputs))
	if err := m.session.Run(values, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	result := make(map[string]*segment.Tensor, len(outputs))
	for i, o := range outputs {
		if o == nil {
			continue
		}
		t, err := fromValue(o)
		if err != nil {
			return nil, fmt.Errorf("读取输出 %s 失败: %w", m.outputs[i], err)
		}
		result[m.outputs[i]] = t
	}
	return result, nil
}

func (m *onnxModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	if err != nil {
		return fmt.Errorf("销毁 ONNX 会话失败: %w", err)
	}
	return nil
}

func toValue(t *segment.Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch {
	case t.Int64 != nil:
		return ort.NewTensor(shape, t.Int64)
	case t.Float32 != nil:
		return ort.NewTensor(shape, t.Float32)
	case t.NumElements() == 0:
		return ort.NewTensor(shape, []float32{})
	default:
		return nil, errors.New("张量没有数据")
	}
}

// fromValue 复制输出数据, float16 输出转换为 float32
func fromValue(v ort.Value) (*segment.Tensor, error) {
	shape := []int64(v.GetShape())
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return segment.NewFloat32Tensor(append([]float32(nil), t.GetData()...), shape...), nil
	case *ort.Tensor[int64]:
		return segment.NewInt64Tensor(append([]int64(nil), t.GetData()...), shape...), nil
	case *ort.CustomDataTensor:
		if t.DataType() != ort.TensorElementDataTypeFloat16 {
			return nil, fmt.Errorf("不支持的输出类型 %v", t.DataType())
		}
		raw := t.GetData()
		data := make([]float32, len(raw)/2)
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
		return segment.NewFloat32Tensor(data, shape...), nil
	default:
		return nil, fmt.Errorf("不支持的输出类型 %T", v)
	}
}

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件
func DefaultLibraryPath() string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	// linux darwin ext
	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so" // 默认返回 linux amd64
	}

	// 拼接完整路径: ./lib/onnxruntime + _ + amd64/arm64 + . + so/dylib
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}
