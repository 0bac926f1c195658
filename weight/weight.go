package weight

import (
	"fmt"
	"slices"

	"dyson/maths"
)

// Kind 权重类型
type Kind int

const (
	SmoothT Kind = iota // 随虚时/频率变化的部分
	DeltaT              // 虚时上的 δ 函数部分（无时间轴）
)

// String 权重类型名称，同时作为持久化字典的键
func (k Kind) String() string {
	if k == DeltaT {
		return "DeltaT"
	}
	return "SmoothT"
}

// Dict 持久化字典 {名称: 数据}
type Dict map[string]*maths.Tensor

// Weight 物理量（传播子、自能、极化等）的数据
type Weight struct {
	Kind   Kind
	Map    *IndexMap
	Data   *maths.Tensor
	merged bool // 是否已经合并过数据
}

// NewWeight 创建零权重
func NewWeight(kind Kind, m *IndexMap) *Weight {
	return &Weight{Kind: kind, Map: m, Data: maths.NewTensor(m.WeightShape(kind)...)}
}

// Name 持久化字典的键
func (w *Weight) Name() string { return w.Kind.String() }

// Copy 深拷贝
func (w *Weight) Copy() *Weight {
	return &Weight{Kind: w.Kind, Map: w.Map, Data: w.Data.Clone(), merged: w.merged}
}

// Merge 以指数滑动平均方式并入新数据：
// 首次合并或 ratio<=0 时直接采用新数据，否则 Data = (1-ratio)*Data + ratio*other
func (w *Weight) Merge(ratio float64, other *Weight) error {
	if !w.Data.SameShape(other.Data) {
		return fmt.Errorf("%w: merging %s %v into %v", ErrShapeMismatch, other.Name(), other.Data.Shape(), w.Data.Shape())
	}
	if !w.merged || ratio <= 0 {
		w.Data = other.Data.Clone()
		w.merged = true
		return nil
	}
	return w.Data.Mix(other.Data, ratio)
}

// Snapshot 回滚所需的最小状态
type Snapshot struct {
	data   *maths.Tensor
	merged bool
}

// Snapshot 保存当前状态
func (w *Weight) Snapshot() Snapshot {
	return Snapshot{data: w.Data.Clone(), merged: w.merged}
}

// Restore 恢复到快照状态
func (w *Weight) Restore(s Snapshot) {
	w.Data = s.data.Clone()
	w.merged = s.merged
}

// ToDict 导出持久化字典
func (w *Weight) ToDict() Dict {
	return Dict{w.Name(): w.Data.Clone()}
}

// FromDict 从持久化字典加载，形状必须一致
func (w *Weight) FromDict(d Dict) error {
	data, ok := d[w.Name()]
	if !ok || data == nil {
		return fmt.Errorf("weight %s not found in dict", w.Name())
	}
	if expected := w.Map.WeightShape(w.Kind); !slices.Equal(expected, data.Shape()) {
		return fmt.Errorf("%w: shape %v is expected instead of shape %v", ErrShapeMismatch, expected, data.Shape())
	}
	w.Data = data.Clone()
	w.merged = true
	return nil
}
