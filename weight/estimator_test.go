package weight

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"dyson/maths"
)

func testMap(t *testing.T) *IndexMap {
	t.Helper()
	m, err := NewIndexMap(1, []int{2}, 1.0, 16)
	require.NoError(t, err)
	return m
}

// randomEstimator 用整数填充，保证浮点加法与顺序无关
func randomEstimator(t *testing.T, m *IndexMap, rng *rand.Rand, normAccu, norm float64) *Estimator {
	t.Helper()
	e := NewEstimator(NewWeight(SmoothT, m), 3)
	for i := range e.WeightAccu.Data() {
		e.WeightAccu.Data()[i] = complex(float64(rng.Intn(100)), float64(rng.Intn(100)-50))
	}
	e.NormAccu = normAccu
	e.Norm = &norm
	return e
}

func TestEstimatorShape(t *testing.T) {
	m := testMap(t)
	e := NewEstimator(NewWeight(SmoothT, m), 3)
	require.Equal(t, []int{3, NSpin * NSpin, 1, 2, 16}, e.Shape())
	require.Equal(t, e.Shape(), e.WeightAccu.Shape())
	require.Nil(t, e.Norm)
}

func TestEstimatorMergeCommutativeAssociative(t *testing.T) {
	m := testMap(t)
	rng := rand.New(rand.NewSource(7))
	a := randomEstimator(t, m, rng, 1, 2)
	b := randomEstimator(t, m, rng, 3, 2)
	c := randomEstimator(t, m, rng, 5, 2)

	// (A+B)+C
	left := a.Copy()
	require.NoError(t, left.Merge(b))
	require.NoError(t, left.Merge(c))

	// A+(B+C)
	bc := b.Copy()
	require.NoError(t, bc.Merge(c))
	right := a.Copy()
	require.NoError(t, right.Merge(bc))

	// (A+C)+B
	swapped := a.Copy()
	require.NoError(t, swapped.Merge(c))
	require.NoError(t, swapped.Merge(b))

	// 从空累积器开始，任意顺序
	empty := NewEstimator(NewWeight(SmoothT, m), 3)
	require.NoError(t, empty.Merge(c))
	require.NoError(t, empty.Merge(a))
	require.NoError(t, empty.Merge(b))

	for _, got := range []*Estimator{right, swapped, empty} {
		require.True(t, left.WeightAccu.Equal(got.WeightAccu))
		require.Equal(t, left.NormAccu, got.NormAccu)
		require.Equal(t, *left.Norm, *got.Norm)
	}
	require.Equal(t, 9.0, left.NormAccu)
	require.Equal(t, 2.0, *empty.Norm)
}

func TestEstimatorNormMismatch(t *testing.T) {
	m := testMap(t)
	rng := rand.New(rand.NewSource(1))
	a := randomEstimator(t, m, rng, 1, 2)
	b := randomEstimator(t, m, rng, 1, 3)
	before := a.Copy()

	require.ErrorIs(t, a.Merge(b), ErrNormMismatch)
	// 失败的合并不修改接收者
	require.True(t, before.WeightAccu.Equal(a.WeightAccu))
	require.Equal(t, before.NormAccu, a.NormAccu)
}

func TestEstimatorMergeMissingNorm(t *testing.T) {
	m := testMap(t)
	rng := rand.New(rand.NewSource(3))
	a := randomEstimator(t, m, rng, 1, 2)
	before := a.Copy()

	// 有数据但没有 Norm 的累积器不能并入
	unnormed := randomEstimator(t, m, rng, 4, 2)
	unnormed.Norm = nil
	require.ErrorIs(t, a.Merge(unnormed), ErrNormMismatch)
	require.True(t, before.WeightAccu.Equal(a.WeightAccu))
	require.Equal(t, before.NormAccu, a.NormAccu)

	// 反方向同样拒绝
	require.ErrorIs(t, unnormed.Copy().Merge(a), ErrNormMismatch)

	// 空累积器在两个方向上都是单位元
	require.NoError(t, a.Merge(NewEstimator(NewWeight(SmoothT, m), 3)))
	require.Equal(t, before.NormAccu, a.NormAccu)
	require.Equal(t, 2.0, *a.Norm)
}

func TestEstimatorShapeMismatch(t *testing.T) {
	m := testMap(t)
	a := NewEstimator(NewWeight(SmoothT, m), 3)
	b := NewEstimator(NewWeight(SmoothT, m), 2)
	require.ErrorIs(t, a.Merge(b), ErrShapeMismatch)

	err := a.FromDict(&State{WeightAccu: maths.NewTensor(2, 4, 1, 2, 16), NormAccu: 1})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestEstimatorRoundTrip(t *testing.T) {
	m := testMap(t)
	rng := rand.New(rand.NewSource(3))
	a := randomEstimator(t, m, rng, 4, 2.5)

	b, err := json.Marshal(a.ToDict())
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(b, &state))

	restored := NewEstimator(NewWeight(SmoothT, m), 3)
	require.NoError(t, restored.FromDict(&state))
	require.True(t, a.WeightAccu.Equal(restored.WeightAccu))
	require.Equal(t, a.NormAccu, restored.NormAccu)
	require.Equal(t, *a.Norm, *restored.Norm)

	ow, err := restored.OrderWeight()
	require.NoError(t, err)
	expected := a.WeightAccu.Clone()
	expected.Scale(complex(2.5/4, 0))
	require.True(t, expected.AllClose(ow, 1e-12))
}

func TestEstimatorNullNorm(t *testing.T) {
	m := testMap(t)
	e := NewEstimator(NewWeight(SmoothT, m), 3)
	_, err := e.OrderWeight()
	require.ErrorIs(t, err, ErrNotMerged)

	b, err := json.Marshal(e.ToDict())
	require.NoError(t, err)
	require.Contains(t, string(b), `"Norm":null`)
}

func TestEstimatorGetWeight(t *testing.T) {
	m := testMap(t)
	norm := 2.0
	e := NewEstimator(NewWeight(SmoothT, m), 3)
	e.WeightAccu = maths.Full(1, e.Shape()...)
	e.NormAccu = 4
	e.Norm = &norm

	// 下标 [0, 0]：只有 1 阶, 1*2/4 = 0.5
	w, err := e.GetWeight(0)
	require.NoError(t, err)
	require.True(t, w.Data.AllClose(maths.Full(0.5, m.WeightShape(SmoothT)...), 1e-15))

	// 下标 [0, 2]：三阶之和
	w, err = e.GetWeight(2)
	require.NoError(t, err)
	require.True(t, w.Data.AllClose(maths.Full(1.5, m.WeightShape(SmoothT)...), 1e-15))

	_, err = e.GetWeight(3)
	require.Error(t, err)
}
