package maths

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/cmplx"
	"slices"
)

// ErrShapeMismatch 张量形状不一致
var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor 复数多维数组（行优先存储）
// 直方图张量的轴依次为 (阶数, 自旋对, 子格对, 空间/动量, 虚时/频率)。
type Tensor struct {
	shape   []int        // 各轴长度
	strides []int        // 各轴步长
	data    []complex128 // 底层数据
}

// NewTensor 创建指定形状的零张量
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, n := range shape {
		if n < 0 {
			panic(fmt.Sprintf("negative tensor dimension %v", shape))
		}
		size *= n
	}
	t := &Tensor{shape: slices.Clone(shape), data: make([]complex128, size)}
	t.strides = strides(t.shape)
	return t
}

// NewTensorWithData 从现有数据创建张量（复制数据）
func NewTensorWithData(shape []int, data []complex128) (*Tensor, error) {
	t := NewTensor(shape...)
	if len(data) != len(t.data) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, shape, len(t.data), len(data))
	}
	copy(t.data, data)
	return t, nil
}

// Full 创建所有元素为 value 的张量
func Full(value complex128, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = step
		step *= shape[i]
	}
	return s
}

// Shape 返回形状副本
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Dims 轴数量
func (t *Tensor) Dims() int { return len(t.shape) }

// Size 元素总数
func (t *Tensor) Size() int { return len(t.data) }

// Data 返回底层数据引用（直接操作底层数据）
func (t *Tensor) Data() []complex128 { return t.data }

// SameShape 判断形状是否一致
func (t *Tensor) SameShape(o *Tensor) bool { return slices.Equal(t.shape, o.shape) }

// Offset 多维索引转一维索引（越界panic）
func (t *Tensor) Offset(idx ...int) int {
	if len(idx) > len(t.shape) {
		panic(fmt.Sprintf("tensor index %v has too many axes for shape %v", idx, t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor index %v out of range for shape %v", idx, t.shape))
		}
		off += v * t.strides[i]
	}
	return off
}

// At 获取元素值
func (t *Tensor) At(idx ...int) complex128 { return t.data[t.Offset(idx...)] }

// Set 设置元素值
func (t *Tensor) Set(value complex128, idx ...int) { t.data[t.Offset(idx...)] = value }

// Increment 增量更新元素
func (t *Tensor) Increment(value complex128, idx ...int) { t.data[t.Offset(idx...)] += value }

// span 前缀索引对应的连续数据区间
func (t *Tensor) span(prefix []int) (int, int) {
	off := t.Offset(prefix...)
	n := 1
	for _, d := range t.shape[len(prefix):] {
		n *= d
	}
	return off, off + n
}

// Slice 返回前缀索引下剩余轴数据的副本
func (t *Tensor) Slice(prefix ...int) []complex128 {
	lo, hi := t.span(prefix)
	return slices.Clone(t.data[lo:hi])
}

// View 返回前缀索引下剩余轴数据的引用
func (t *Tensor) View(prefix ...int) []complex128 {
	lo, hi := t.span(prefix)
	return t.data[lo:hi:hi]
}

// SetSlice 覆盖前缀索引下剩余轴的数据
func (t *Tensor) SetSlice(values []complex128, prefix ...int) {
	lo, hi := t.span(prefix)
	if len(values) != hi-lo {
		panic(fmt.Sprintf("slice length %d, expected %d", len(values), hi-lo))
	}
	copy(t.data[lo:hi], values)
}

// Clone 深拷贝
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), strides: slices.Clone(t.strides), data: slices.Clone(t.data)}
}

// Zero 清零
func (t *Tensor) Zero() { clear(t.data) }

// AddTensor 逐元素累加 (t += o)
func (t *Tensor) AddTensor(o *Tensor) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, t.shape, o.shape)
	}
	for i, v := range o.data {
		t.data[i] += v
	}
	return nil
}

// Scale 缩放所有元素
func (t *Tensor) Scale(s complex128) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// Mix 线性混合 t = (1-ratio)*t + ratio*o
func (t *Tensor) Mix(o *Tensor, ratio float64) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, t.shape, o.shape)
	}
	a, b := complex(1-ratio, 0), complex(ratio, 0)
	for i, v := range o.data {
		t.data[i] = a*t.data[i] + b*v
	}
	return nil
}

// SumLeading 沿第0轴对 [0, upTo] 闭区间求和，返回去掉第0轴的新张量
func (t *Tensor) SumLeading(upTo int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("%w: cannot reduce a scalar tensor", ErrShapeMismatch)
	}
	if upTo < 0 || upTo >= t.shape[0] {
		return nil, fmt.Errorf("leading index %d out of range [0, %d)", upTo, t.shape[0])
	}
	out := NewTensor(t.shape[1:]...)
	for k := 0; k <= upTo; k++ {
		for i, v := range t.View(k) {
			out.data[i] += v
		}
	}
	return out, nil
}

// Equal 逐元素严格相等
func (t *Tensor) Equal(o *Tensor) bool {
	return t.SameShape(o) && slices.Equal(t.data, o.data)
}

// AllClose 逐元素绝对误差不超过 tol
func (t *Tensor) AllClose(o *Tensor, tol float64) bool {
	if !t.SameShape(o) {
		return false
	}
	for i, v := range t.data {
		if cmplx.Abs(v-o.data[i]) > tol {
			return false
		}
	}
	return true
}

// tensorJSON 持久化格式
type tensorJSON struct {
	Shape []int     `json:"Shape"`
	Real  []float64 `json:"Real"`
	Imag  []float64 `json:"Imag"`
}

// MarshalJSON 实现 json.Marshaler
func (t *Tensor) MarshalJSON() ([]byte, error) {
	v := tensorJSON{Shape: t.shape, Real: make([]float64, len(t.data)), Imag: make([]float64, len(t.data))}
	for i, c := range t.data {
		v.Real[i], v.Imag[i] = real(c), imag(c)
	}
	return json.Marshal(v)
}

// UnmarshalJSON 实现 json.Unmarshaler
func (t *Tensor) UnmarshalJSON(b []byte) error {
	var v tensorJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if len(v.Real) != len(v.Imag) {
		return fmt.Errorf("%w: %d real vs %d imaginary parts", ErrShapeMismatch, len(v.Real), len(v.Imag))
	}
	data := make([]complex128, len(v.Real))
	for i := range data {
		data[i] = complex(v.Real[i], v.Imag[i])
	}
	nt, err := NewTensorWithData(v.Shape, data)
	if err != nil {
		return err
	}
	*t = *nt
	return nil
}
