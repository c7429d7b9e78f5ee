package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/x448/float16"
)

// embedding 序列化格式:
//
//	magic "CSEG" | version u8 | family (u16 len + bytes)
//	origW origH resizedW resizedH targetSize (u32) | scale (f64)
//	count u16 | 每个张量: name (u16 len + bytes) | rank u8 | dims (i64...) | 半精度数据 (u16...)
//
// 数据按 float16 存储, 反序列化得到的 embedding 与原始 float32 输出存在量化误差,
// 从缓存恢复后的 Mask 可能与重新编码的结果有细微差别
const (
	codecMagic   = "CSEG"
	codecVersion = 1
	maxRank      = 8
)

var errBadEmbedding = errors.New("embedding 数据格式错误")

// MarshalEmbedding 序列化 embedding
func MarshalEmbedding(store EmbeddingStore) ([]byte, error) {
	if store == nil {
		return nil, errors.New("embedding 为空")
	}
	var buf bytes.Buffer
	buf.WriteString(codecMagic)
	buf.WriteByte(codecVersion)
	writeString(&buf, store.Family())

	lb := store.Transform()
	for _, v := range []int{lb.OrigWidth, lb.OrigHeight, lb.ResizedWidth, lb.ResizedHeight, lb.TargetSize} {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(v))
	}
	_ = binary.Write(&buf, binary.LittleEndian, lb.Scale)

	names := storeNames(store)
	tensors := store.Tensors()
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(names)))
	for _, name := range names {
		t := tensors[name]
		if t.Float32 == nil || len(t.Float32) != t.NumElements() {
			return nil, fmt.Errorf("embedding %s 数据与形状不匹配", name)
		}
		writeString(&buf, name)
		buf.WriteByte(uint8(len(t.Shape)))
		for _, d := range t.Shape {
			_ = binary.Write(&buf, binary.LittleEndian, d)
		}
		half := make([]uint16, len(t.Float32))
		for i, v := range t.Float32 {
			half[i] = float16.Fromfloat32(v).Bits()
		}
		_ = binary.Write(&buf, binary.LittleEndian, half)
	}
	return buf.Bytes(), nil
}

// UnmarshalEmbedding 反序列化 embedding
func UnmarshalEmbedding(data []byte) (EmbeddingStore, error) {
	r := bytes.NewReader(data)
	magic := make([]byte, len(codecMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != codecMagic {
		return nil, errBadEmbedding
	}
	version, err := r.ReadByte()
	if err != nil || version != codecVersion {
		return nil, fmt.Errorf("%w: 不支持的版本 %d", errBadEmbedding, version)
	}
	family, err := readString(r)
	if err != nil {
		return nil, err
	}

	var dims [5]uint32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadEmbedding, err)
	}
	lb := Letterbox{
		OrigWidth:     int(dims[0]),
		OrigHeight:    int(dims[1]),
		ResizedWidth:  int(dims[2]),
		ResizedHeight: int(dims[3]),
		TargetSize:    int(dims[4]),
	}
	if err := binary.Read(r, binary.LittleEndian, &lb.Scale); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadEmbedding, err)
	}
	if lb.OrigWidth <= 0 || lb.OrigHeight <= 0 || lb.TargetSize <= 0 || lb.Scale <= 0 {
		return nil, fmt.Errorf("%w: Letterbox 参数无效", errBadEmbedding)
	}

	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil || count == 0 {
		return nil, fmt.Errorf("%w: 张量数量无效", errBadEmbedding)
	}

	names := make([]string, 0, count)
	tensors := make(map[string]*Tensor, count)
	for i := 0; i < int(count); i++ {
		name, t, err := readTensor(r)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		tensors[name] = t
	}

	if len(names) == 1 {
		return &SingleTensorEmbedding{family: family, name: names[0], tensor: tensors[names[0]], transform: lb}, nil
	}
	return &MultiTensorEmbedding{family: family, names: names, tensors: tensors, transform: lb}, nil
}

func readTensor(r *bytes.Reader) (string, *Tensor, error) {
	name, err := readString(r)
	if err != nil {
		return "", nil, err
	}
	rank, err := r.ReadByte()
	if err != nil || rank == 0 || rank > maxRank {
		return "", nil, fmt.Errorf("%w: %s 秩无效", errBadEmbedding, name)
	}
	shape := make([]int64, rank)
	if err := binary.Read(r, binary.LittleEndian, shape); err != nil {
		return "", nil, fmt.Errorf("%w: %w", errBadEmbedding, err)
	}
	n, ok := checkedElements(shape, r.Len()/2)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s 形状 %v 与剩余数据不符", errBadEmbedding, name, shape)
	}
	t := &Tensor{Shape: shape}
	half := make([]uint16, n)
	if err := binary.Read(r, binary.LittleEndian, half); err != nil {
		return "", nil, fmt.Errorf("%w: %w", errBadEmbedding, err)
	}
	t.Float32 = make([]float32, n)
	for i, h := range half {
		t.Float32[i] = float16.Frombits(h).Float32()
	}
	return name, t, nil
}

// checkedElements 元素个数, 任一维度小于 1 或乘积超过 limit 时返回 false
func checkedElements(shape []int64, limit int) (int, bool) {
	n := int64(1)
	for _, d := range shape {
		if d < 1 || d > int64(limit) || n > int64(limit)/d {
			return 0, false
		}
		n *= d
	}
	return int(n), true
}

// storeNames 张量名, 多张量时保持编码器输出顺序
func storeNames(store EmbeddingStore) []string {
	if m, ok := store.(*MultiTensorEmbedding); ok {
		return m.Names()
	}
	names := make([]string, 0, 1)
	for name := range store.Tensors() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("%w: %w", errBadEmbedding, err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: %w", errBadEmbedding, err)
	}
	return string(b), nil
}
