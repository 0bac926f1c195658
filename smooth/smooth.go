// Package smooth 用固定节点的最小二乘三次样条对复数序列去噪。
//
// 实部与虚部独立拟合，噪声估计分别取两次拟合的均方根残差，
// 作为复数的实部与虚部返回（并不是真正的复数不确定度）。
package smooth

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// 样条参数
const (
	Degree        = 3 // 三次样条
	InteriorKnots = 3 // 内部节点数量
)

// 拟合失败原因
var (
	ErrTooFewPoints = errors.New("smooth: too few points for spline fit")
	ErrBadKnots     = errors.New("smooth: interior knots outside the data range")
	ErrSingularFit  = errors.New("smooth: least squares system is singular")
)

// Result 拟合结果
type Result struct {
	Smoothed []complex128 // 平滑后的序列
	Sigma    complex128   // real=实部均方根残差, imag=虚部均方根残差
}

// Range 返回 0..n-1 的浮点序列
func Range(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

// Knots 返回完整节点向量：两端各重复 Degree+1 次，
// 内部节点均匀分布在 [0, n] 上（不含两端）。
func Knots(x []float64) ([]float64, error) {
	n := len(x)
	if n < Degree+1+InteriorKnots {
		return nil, fmt.Errorf("%w: %d points, need at least %d", ErrTooFewPoints, n, Degree+1+InteriorKnots)
	}
	lo, hi := x[0], x[n-1]
	knots := make([]float64, 0, 2*(Degree+1)+InteriorKnots)
	for i := 0; i <= Degree; i++ {
		knots = append(knots, lo)
	}
	prev := lo
	for i := 1; i <= InteriorKnots; i++ {
		t := float64(n) * float64(i) / float64(InteriorKnots+1)
		if t <= prev || t >= hi {
			return nil, fmt.Errorf("%w: knot %g not in (%g, %g)", ErrBadKnots, t, prev, hi)
		}
		knots = append(knots, t)
		prev = t
	}
	for i := 0; i <= Degree; i++ {
		knots = append(knots, hi)
	}
	return knots, nil
}

// basis 计算 x 处非零的 Degree+1 个 B 样条基函数值（de Boor 递推），
// 返回首个非零基函数的下标。
func basis(knots []float64, x float64, out []float64) int {
	nCoef := len(knots) - Degree - 1
	span := nCoef - 1
	if x < knots[nCoef] {
		for span = Degree; span < nCoef-1; span++ {
			if x < knots[span+1] {
				break
			}
		}
	}
	var left, right [Degree + 1]float64
	out[0] = 1
	for j := 1; j <= Degree; j++ {
		left[j] = x - knots[span+1-j]
		right[j] = knots[span+j] - x
		saved := 0.0
		for r := 0; r < j; r++ {
			temp := out[r] / (right[r+1] + left[j-r])
			out[r] = saved + right[r+1]*temp
			saved = left[j-r] * temp
		}
		out[j] = saved
	}
	return span - Degree
}

// Smooth 对序列 y 在采样点 x 上做固定节点最小二乘样条拟合
func Smooth(x []float64, y []complex128) (Result, error) {
	if len(x) != len(y) {
		return Result{}, fmt.Errorf("smooth: %d sample points but %d values", len(x), len(y))
	}
	knots, err := Knots(x)
	if err != nil {
		return Result{}, err
	}
	n, nCoef := len(x), len(knots)-Degree-1
	for i := 1; i < n; i++ {
		if x[i] <= x[i-1] {
			return Result{}, fmt.Errorf("smooth: sample points must be strictly increasing at %d", i)
		}
	}
	// 设计矩阵与右端项（实部、虚部两列）
	a := mat.NewDense(n, nCoef, nil)
	b := mat.NewDense(n, 2, nil)
	row := make([]float64, Degree+1)
	for i, xi := range x {
		first := basis(knots, xi, row)
		for j, v := range row {
			a.Set(i, first+j, v)
		}
		b.Set(i, 0, real(y[i]))
		b.Set(i, 1, imag(y[i]))
	}
	var coef mat.Dense
	if err := coef.Solve(a, b); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSingularFit, err)
	}
	var fit mat.Dense
	fit.Mul(a, &coef)

	fitRe, fitIm := mat.Col(nil, 0, &fit), mat.Col(nil, 1, &fit)
	resRe, resIm := mat.Col(nil, 0, b), mat.Col(nil, 1, b)
	floats.Sub(resRe, fitRe)
	floats.Sub(resIm, fitIm)
	ssrRe, ssrIm := floats.Dot(resRe, resRe), floats.Dot(resIm, resIm)
	if math.IsNaN(ssrRe) || math.IsNaN(ssrIm) {
		return Result{}, fmt.Errorf("%w: residual is NaN", ErrSingularFit)
	}

	smoothed := make([]complex128, n)
	for i := range smoothed {
		smoothed[i] = complex(fitRe[i], fitIm[i])
	}
	return Result{
		Smoothed: smoothed,
		Sigma:    complex(math.Sqrt(ssrRe/float64(n)), math.Sqrt(ssrIm/float64(n))),
	}, nil
}

// Mean 复数序列的平均值
func Mean(y []complex128) complex128 {
	if len(y) == 0 {
		return 0
	}
	var sum complex128
	for _, v := range y {
		sum += v
	}
	return sum / complex(float64(len(y)), 0)
}
