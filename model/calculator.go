package model

import (
	"errors"
	"fmt"

	"dyson/maths"
	"dyson/weight"
)

// ErrDenominatorTouchesZero Dyson 方程的分母奇异
var ErrDenominatorTouchesZero = errors.New("denominator touches zero")

// WResult W 的 Dyson 方程结果
type WResult struct {
	W      *weight.Weight
	Chi    *weight.Weight // Π(1-W0Π)^-1
	Determ *maths.Tensor  // det(1-W0Π)，形状 [NSpin², Vol, MaxTauBin]
}

// Calculator 一阶图与 Dyson 方程
type Calculator interface {
	SigmaDeltaTFirstOrder(g, w0 *weight.Weight) (*weight.Weight, error)
	SigmaFirstOrder(g, w *weight.Weight) (*weight.Weight, error)
	PolarFirstOrder(g *weight.Weight) (*weight.Weight, error)
	GDyson(g0, sigmaDeltaT, sigma *weight.Weight) (*weight.Weight, error)
	WDyson(w0, polar *weight.Weight) (*WResult, error)
}

// Dense 按 (k, n) 逐点做稠密矩阵求解
type Dense struct {
	Map *weight.IndexMap
}

// NewDense 创建计算器
func NewDense(m *weight.IndexMap) *Dense { return &Dense{Map: m} }

// local 对动量求平均
func (c *Dense) local(w *weight.Weight, sp, sub int) []complex128 {
	m := c.Map
	out := make([]complex128, m.MaxTauBin)
	for k := 0; k < m.Vol(); k++ {
		for n, v := range w.Data.View(sp, sub, k) {
			out[n] += v
		}
	}
	scale := complex(1/float64(m.Vol()), 0)
	for n := range out {
		out[n] *= scale
	}
	return out
}

// broadcast 把局域量写到所有动量
func (c *Dense) broadcast(w *weight.Weight, values []complex128, sp, sub int) {
	for k := 0; k < c.Map.Vol(); k++ {
		w.Data.SetSlice(values, sp, sub, k)
	}
}

// SigmaDeltaTFirstOrder Hartree 自能 Σ_a = Σ_b W0_ab(k=0) n_b
func (c *Dense) SigmaDeltaTFirstOrder(g, w0 *weight.Weight) (*weight.Weight, error) {
	m := c.Map
	out := weight.NewWeight(weight.DeltaT, m)
	norm := complex(2/m.Beta, 0)
	for s := 0; s < weight.NSpin; s++ {
		sp := m.SpinPair(s, s)
		density := make([]complex128, m.NSublat)
		for b := 0; b < m.NSublat; b++ {
			var sum complex128
			for _, v := range c.local(g, sp, m.SublatPair(b, b)) {
				sum += complex(real(v), 0)
			}
			density[b] = norm * sum
		}
		for a := 0; a < m.NSublat; a++ {
			var sigma complex128
			for b := 0; b < m.NSublat; b++ {
				sigma += w0.Data.At(sp, m.SublatPair(a, b), 0) * density[b]
			}
			for k := 0; k < m.Vol(); k++ {
				out.Data.Set(sigma, sp, m.SublatPair(a, a), k)
			}
		}
	}
	return out, nil
}

// SigmaFirstOrder 局域 GW 自能 Σ(n) = -(1/β) Σ_m W(m) G(n-m)
func (c *Dense) SigmaFirstOrder(g, w *weight.Weight) (*weight.Weight, error) {
	m := c.Map
	out := weight.NewWeight(weight.SmoothT, m)
	norm := complex(-1/m.Beta, 0)
	for s := 0; s < weight.NSpin; s++ {
		sp := m.SpinPair(s, s)
		for sub := 0; sub < m.NSublat*m.NSublat; sub++ {
			gl, wl := c.local(g, sp, sub), c.local(w, sp, sub)
			sigma := make([]complex128, m.MaxTauBin)
			for n := range sigma {
				for k := 0; k <= n; k++ {
					sigma[n] += wl[k] * gl[n-k]
				}
				sigma[n] *= norm
			}
			c.broadcast(out, sigma, sp, sub)
		}
	}
	return out, nil
}

// PolarFirstOrder 局域气泡图 Π_ab(n) = -(1/β) Σ_m G_ab(m+n) G_ba(m)
func (c *Dense) PolarFirstOrder(g *weight.Weight) (*weight.Weight, error) {
	m := c.Map
	out := weight.NewWeight(weight.SmoothT, m)
	norm := complex(-1/m.Beta, 0)
	for s := 0; s < weight.NSpin; s++ {
		sp := m.SpinPair(s, s)
		for a := 0; a < m.NSublat; a++ {
			for b := 0; b < m.NSublat; b++ {
				gab, gba := c.local(g, sp, m.SublatPair(a, b)), c.local(g, sp, m.SublatPair(b, a))
				polar := make([]complex128, m.MaxTauBin)
				for n := range polar {
					for k := 0; k+n < m.MaxTauBin; k++ {
						polar[n] += gab[k+n] * gba[k]
					}
					polar[n] *= norm
				}
				c.broadcast(out, polar, sp, m.SublatPair(a, b))
			}
		}
	}
	return out, nil
}

// solver 复用的矩阵与 LU 分解器
type solver struct {
	n   int
	lu  maths.LU[complex128]
	a   maths.Matrix[complex128]
	inv maths.Matrix[complex128]
}

func newSolver(n int) (*solver, error) {
	lu, err := maths.NewLU[complex128](n)
	if err != nil {
		return nil, err
	}
	return &solver{
		n:   n,
		lu:  lu,
		a:   maths.NewDenseMatrix[complex128](n, n),
		inv: maths.NewDenseMatrix[complex128](n, n),
	}, nil
}

// invertDenominator 分解 1 - x·y 并求逆，返回行列式
func (s *solver) invertDenominator(x, y maths.Matrix[complex128]) (complex128, error) {
	prod := x.MatrixMultiply(y)
	for i := 0; i < s.n; i++ {
		for j := 0; j < s.n; j++ {
			v := -prod.Get(i, j)
			if i == j {
				v += 1
			}
			s.a.Set(i, j, v)
		}
	}
	if err := s.lu.Decompose(s.a); err != nil {
		if errors.Is(err, maths.ErrSingular) {
			return 0, fmt.Errorf("%w: %v", ErrDenominatorTouchesZero, err)
		}
		return 0, err
	}
	if err := s.lu.Inverse(s.inv); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDenominatorTouchesZero, err)
	}
	return s.lu.Det(), nil
}

// GDyson 逐点求解 (1 - G0·Σ) G = G0，矩阵按 (自旋, 子格) 展开
func (c *Dense) GDyson(g0, sigmaDeltaT, sigma *weight.Weight) (*weight.Weight, error) {
	m := c.Map
	dim := weight.NSpin * m.NSublat
	sv, err := newSolver(dim)
	if err != nil {
		return nil, err
	}
	g0m := maths.NewDenseMatrix[complex128](dim, dim)
	sigm := maths.NewDenseMatrix[complex128](dim, dim)
	out := weight.NewWeight(weight.SmoothT, m)
	row := func(s, a int) int { return s*m.NSublat + a }

	for k := 0; k < m.Vol(); k++ {
		for n := 0; n < m.MaxTauBin; n++ {
			for s1 := 0; s1 < weight.NSpin; s1++ {
				for s2 := 0; s2 < weight.NSpin; s2++ {
					sp := m.SpinPair(s1, s2)
					for a := 0; a < m.NSublat; a++ {
						for b := 0; b < m.NSublat; b++ {
							sub := m.SublatPair(a, b)
							i, j := row(s1, a), row(s2, b)
							g0m.Set(i, j, g0.Data.At(sp, sub, k, n))
							sigm.Set(i, j, sigmaDeltaT.Data.At(sp, sub, k)+sigma.Data.At(sp, sub, k, n))
						}
					}
				}
			}
			if _, err := sv.invertDenominator(g0m, sigm); err != nil {
				return nil, fmt.Errorf("G at k=%d n=%d: %w", k, n, err)
			}
			g := sv.inv.MatrixMultiply(g0m)
			for s1 := 0; s1 < weight.NSpin; s1++ {
				for s2 := 0; s2 < weight.NSpin; s2++ {
					for a := 0; a < m.NSublat; a++ {
						for b := 0; b < m.NSublat; b++ {
							out.Data.Set(g.Get(row(s1, a), row(s2, b)), m.SpinPair(s1, s2), m.SublatPair(a, b), k, n)
						}
					}
				}
			}
		}
	}
	return out, nil
}

// WDyson 每个自旋通道逐点求解 (1 - W0·Π) W = W0
func (c *Dense) WDyson(w0, polar *weight.Weight) (*WResult, error) {
	m := c.Map
	dim := m.NSublat
	sv, err := newSolver(dim)
	if err != nil {
		return nil, err
	}
	w0m := maths.NewDenseMatrix[complex128](dim, dim)
	pim := maths.NewDenseMatrix[complex128](dim, dim)
	res := &WResult{
		W:      weight.NewWeight(weight.SmoothT, m),
		Chi:    weight.NewWeight(weight.SmoothT, m),
		Determ: maths.NewTensor(weight.NSpin*weight.NSpin, m.Vol(), m.MaxTauBin),
	}

	for sp := 0; sp < weight.NSpin*weight.NSpin; sp++ {
		for k := 0; k < m.Vol(); k++ {
			for n := 0; n < m.MaxTauBin; n++ {
				for a := 0; a < dim; a++ {
					for b := 0; b < dim; b++ {
						sub := m.SublatPair(a, b)
						w0m.Set(a, b, w0.Data.At(sp, sub, k))
						pim.Set(a, b, polar.Data.At(sp, sub, k, n))
					}
				}
				det, err := sv.invertDenominator(w0m, pim)
				if err != nil {
					in, out := m.IndexToSpinPair(sp)
					return nil, fmt.Errorf("W at spin (%d,%d) k=%d n=%d: %w", in, out, k, n, err)
				}
				res.Determ.Set(det, sp, k, n)
				w := sv.inv.MatrixMultiply(w0m)
				chi := pim.MatrixMultiply(sv.inv)
				for a := 0; a < dim; a++ {
					for b := 0; b < dim; b++ {
						sub := m.SublatPair(a, b)
						res.W.Data.Set(w.Get(a, b), sp, sub, k, n)
						res.Chi.Data.Set(chi.Get(a, b), sp, sub, k, n)
					}
				}
			}
		}
	}
	return res, nil
}
