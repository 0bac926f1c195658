package weight

import (
	"errors"
	"fmt"
	"slices"
)

// NSpin 自旋自由度
const NSpin = 2

// 自旋方向
const (
	UP   = 0
	DOWN = 1
)

// IndexMap 权重张量的索引约定
//
// 自旋对下标 = in*NSpin + out，子格对下标 = a*NSublat + b，
// 空间下标按 L 的行优先顺序展开。
type IndexMap struct {
	NSublat   int     // 子格数量
	L         []int   // 各维度格点数
	Beta      float64 // 逆温度
	MaxTauBin int     // 虚时/频率格点数
}

// NewIndexMap 创建索引映射
func NewIndexMap(nSublat int, l []int, beta float64, maxTauBin int) (*IndexMap, error) {
	if nSublat < 1 {
		return nil, fmt.Errorf("NSublat must be positive, got %d", nSublat)
	}
	if len(l) == 0 {
		return nil, errors.New("lattice size L is empty")
	}
	for _, n := range l {
		if n < 1 {
			return nil, fmt.Errorf("lattice size must be positive, got %v", l)
		}
	}
	if beta <= 0 {
		return nil, fmt.Errorf("Beta must be positive, got %g", beta)
	}
	if maxTauBin < 1 {
		return nil, fmt.Errorf("MaxTauBin must be positive, got %d", maxTauBin)
	}
	return &IndexMap{NSublat: nSublat, L: slices.Clone(l), Beta: beta, MaxTauBin: maxTauBin}, nil
}

// Vol 空间格点总数
func (m *IndexMap) Vol() int {
	v := 1
	for _, n := range m.L {
		v *= n
	}
	return v
}

// SpinPair 自旋对下标
func (m *IndexMap) SpinPair(in, out int) int { return in*NSpin + out }

// IndexToSpinPair 自旋对下标还原
func (m *IndexMap) IndexToSpinPair(i int) (in, out int) { return i / NSpin, i % NSpin }

// SublatPair 子格对下标
func (m *IndexMap) SublatPair(a, b int) int { return a*m.NSublat + b }

// IndexToSublat 子格对下标还原
func (m *IndexMap) IndexToSublat(i int) (a, b int) { return i / m.NSublat, i % m.NSublat }

// CoordiToIndex 坐标转空间下标（周期边界）
func (m *IndexMap) CoordiToIndex(coordi []int) int {
	idx := 0
	for d, n := range m.L {
		c := ((coordi[d] % n) + n) % n
		idx = idx*n + c
	}
	return idx
}

// IndexToCoordi 空间下标转坐标
func (m *IndexMap) IndexToCoordi(i int) []int {
	coordi := make([]int, len(m.L))
	for d := len(m.L) - 1; d >= 0; d-- {
		coordi[d] = i % m.L[d]
		i /= m.L[d]
	}
	return coordi
}

// WeightShape 物理权重张量形状
func (m *IndexMap) WeightShape(kind Kind) []int {
	if kind == DeltaT {
		return []int{NSpin * NSpin, m.NSublat * m.NSublat, m.Vol()}
	}
	return []int{NSpin * NSpin, m.NSublat * m.NSublat, m.Vol(), m.MaxTauBin}
}

// EstimatorShape 累积直方图形状 [Order, NSpin², NSublat², Vol, MaxTauBin]
func (m *IndexMap) EstimatorShape(order int) []int {
	return append([]int{order}, m.WeightShape(SmoothT)...)
}
