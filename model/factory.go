// Package model 裸传播子与 Dyson 方程求解
//
// 所有权重的最后一个轴按 Matsubara 频率下标存储：
// G 使用费米频率 (2n+1)π/β，W 与极化使用玻色频率 2nπ/β。
// 空间轴按动量下标存储，k_d = 2π x_d / L_d。
package model

import (
	"fmt"
	"math"
	"slices"

	"dyson/config"
	"dyson/weight"
)

// Factory 构建裸传播子并管理退火外场
type Factory interface {
	Build() (g0, w0 *weight.Weight, err error)
	DecreaseField()
	RevertField()
	DeltaField() []float64 // 当前附加外场（副本）
}

// FermiFrequency 费米 Matsubara 频率
func FermiFrequency(beta float64, n int) float64 {
	return float64(2*n+1) * math.Pi / beta
}

// BoseFrequency 玻色 Matsubara 频率
func BoseFrequency(beta float64, n int) float64 {
	return float64(2*n) * math.Pi / beta
}

// spinSign 自旋方向对应的塞曼符号
func spinSign(s int) float64 {
	if s == weight.UP {
		return 1
	}
	return -1
}

// BareFactory J1J2 模型的裸传播子
//
// G0 = 1/(iω_n + μ - σ h_a)，μ = iπ/(2β)；W0_ab(k) = J·γ(k)，
// 同一子格使用 J2，不同子格使用 J1（单子格时使用 J1）。
type BareFactory struct {
	Map         *weight.IndexMap
	Interaction []float64
	External    []float64
	Delta       []float64
	Interval    []float64
}

// NewBareFactory 创建裸传播子构建器
func NewBareFactory(m *weight.IndexMap, model config.Model, annealing config.Annealing) (*BareFactory, error) {
	if model.Name != "J1J2" {
		return nil, fmt.Errorf("unknown model %q", model.Name)
	}
	if len(model.Interaction) == 0 {
		return nil, fmt.Errorf("model %s needs at least J1", model.Name)
	}
	n := m.NSublat
	for name, f := range map[string][]float64{
		"ExternalField": model.ExternalField,
		"DeltaField":    annealing.DeltaField,
		"Interval":      annealing.Interval,
	} {
		if len(f) != n {
			return nil, fmt.Errorf("%s needs %d components, got %d", name, n, len(f))
		}
	}
	return &BareFactory{
		Map:         m,
		Interaction: slices.Clone(model.Interaction),
		External:    slices.Clone(model.ExternalField),
		Delta:       slices.Clone(annealing.DeltaField),
		Interval:    slices.Clone(annealing.Interval),
	}, nil
}

// Field 每个子格的总外场
func (f *BareFactory) Field() []float64 {
	h := make([]float64, len(f.External))
	for i := range h {
		h[i] = f.External[i] + f.Delta[i]
	}
	return h
}

// DeltaField 当前附加外场
func (f *BareFactory) DeltaField() []float64 { return slices.Clone(f.Delta) }

// DecreaseField 附加外场减小一步，不越过零
func (f *BareFactory) DecreaseField() {
	for i := range f.Delta {
		f.Delta[i] -= f.Interval[i]
		if f.Delta[i] < 0 {
			f.Delta[i] = 0
		}
	}
}

// RevertField 附加外场增加一步
func (f *BareFactory) RevertField() {
	for i := range f.Delta {
		f.Delta[i] += f.Interval[i]
	}
}

// gamma 最近邻结构因子 Σ_d 2cos(k_d)
func (f *BareFactory) gamma(k int) float64 {
	x := f.Map.IndexToCoordi(k)
	sum := 0.0
	for d, l := range f.Map.L {
		sum += 2 * math.Cos(2*math.Pi*float64(x[d])/float64(l))
	}
	return sum
}

// coupling 子格 a, b 之间的耦合常数
func (f *BareFactory) coupling(a, b int) float64 {
	if a != b || f.Map.NSublat == 1 {
		return f.Interaction[0]
	}
	if len(f.Interaction) > 1 {
		return f.Interaction[1]
	}
	return 0
}

// Build 由当前外场构建 G0 与 W0
func (f *BareFactory) Build() (*weight.Weight, *weight.Weight, error) {
	m := f.Map
	g0 := weight.NewWeight(weight.SmoothT, m)
	w0 := weight.NewWeight(weight.DeltaT, m)
	h := f.Field()
	mu := complex(0, math.Pi/(2*m.Beta))

	for s := 0; s < weight.NSpin; s++ {
		sp := m.SpinPair(s, s)
		for a := 0; a < m.NSublat; a++ {
			sub := m.SublatPair(a, a)
			for k := 0; k < m.Vol(); k++ {
				for n := 0; n < m.MaxTauBin; n++ {
					iw := complex(0, FermiFrequency(m.Beta, n))
					g0.Data.Set(1/(iw+mu-complex(spinSign(s)*h[a], 0)), sp, sub, k, n)
				}
			}
		}
		for a := 0; a < m.NSublat; a++ {
			for b := 0; b < m.NSublat; b++ {
				j := f.coupling(a, b)
				for k := 0; k < m.Vol(); k++ {
					w0.Data.Set(complex(j*f.gamma(k), 0), sp, m.SublatPair(a, b), k)
				}
			}
		}
	}
	return g0, w0, nil
}
