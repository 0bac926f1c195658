package weight

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dyson/maths"
)

func TestIndexMap(t *testing.T) {
	m, err := NewIndexMap(2, []int{4, 3}, 0.5, 8)
	require.NoError(t, err)
	require.Equal(t, 12, m.Vol())
	require.Equal(t, []int{4, 4, 12, 8}, m.WeightShape(SmoothT))
	require.Equal(t, []int{4, 4, 12}, m.WeightShape(DeltaT))
	require.Equal(t, []int{3, 4, 4, 12, 8}, m.EstimatorShape(3))

	in, out := m.IndexToSpinPair(m.SpinPair(DOWN, UP))
	require.Equal(t, []int{DOWN, UP}, []int{in, out})
	a, b := m.IndexToSublat(m.SublatPair(1, 0))
	require.Equal(t, []int{1, 0}, []int{a, b})

	for i := 0; i < m.Vol(); i++ {
		require.Equal(t, i, m.CoordiToIndex(m.IndexToCoordi(i)))
	}
	// 周期边界
	require.Equal(t, m.CoordiToIndex([]int{0, 0}), m.CoordiToIndex([]int{4, -3}))

	_, err = NewIndexMap(0, []int{4}, 1, 8)
	require.Error(t, err)
	_, err = NewIndexMap(1, nil, 1, 8)
	require.Error(t, err)
	_, err = NewIndexMap(1, []int{4}, 0, 8)
	require.Error(t, err)
}

func TestWeightMerge(t *testing.T) {
	m := testMap(t)
	w := NewWeight(SmoothT, m)
	first := NewWeight(SmoothT, m)
	first.Data = maths.Full(4, m.WeightShape(SmoothT)...)
	second := NewWeight(SmoothT, m)
	second.Data = maths.Full(8, m.WeightShape(SmoothT)...)

	// 首次合并直接采用新数据
	require.NoError(t, w.Merge(0.5, first))
	require.True(t, w.Data.Equal(first.Data))
	first.Data.Zero()
	require.Equal(t, complex128(4), w.Data.At(0, 0, 0, 0))

	// 之后按比例混合：(1-0.25)*4 + 0.25*8 = 5
	require.NoError(t, w.Merge(0.25, second))
	require.True(t, w.Data.AllClose(maths.Full(5, m.WeightShape(SmoothT)...), 1e-14))

	// ratio <= 0 不做累积
	require.NoError(t, w.Merge(0, second))
	require.True(t, w.Data.Equal(second.Data))

	require.ErrorIs(t, w.Merge(0.5, NewWeight(DeltaT, m)), ErrShapeMismatch)
}

func TestWeightSnapshotRestore(t *testing.T) {
	m := testMap(t)
	w := NewWeight(DeltaT, m)
	other := NewWeight(DeltaT, m)
	other.Data = maths.Full(1i, m.WeightShape(DeltaT)...)
	require.NoError(t, w.Merge(0.5, other))

	snap := w.Snapshot()
	before := w.Data.Clone()
	other.Data = maths.Full(3, m.WeightShape(DeltaT)...)
	require.NoError(t, w.Merge(0.5, other))
	require.False(t, w.Data.Equal(before))

	w.Restore(snap)
	require.True(t, w.Data.Equal(before))
	// 快照可以重复使用
	w.Data.Zero()
	w.Restore(snap)
	require.True(t, w.Data.Equal(before))
}

func TestWeightDict(t *testing.T) {
	m := testMap(t)
	w := NewWeight(SmoothT, m)
	w.Data.Set(2-1i, 1, 0, 1, 3)
	d := w.ToDict()
	require.Contains(t, d, "SmoothT")

	loaded := NewWeight(SmoothT, m)
	require.NoError(t, loaded.FromDict(d))
	require.True(t, loaded.Data.Equal(w.Data))

	// 同一字典里可以同时存放 SmoothT 和 DeltaT
	delta := NewWeight(DeltaT, m)
	d[delta.Name()] = delta.Data
	require.NoError(t, NewWeight(DeltaT, m).FromDict(d))

	d["SmoothT"] = maths.NewTensor(1, 2, 3)
	require.ErrorIs(t, loaded.FromDict(d), ErrShapeMismatch)
	require.Error(t, loaded.FromDict(Dict{}))
}
