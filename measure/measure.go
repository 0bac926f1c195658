// Package measure 每次成功迭代后的物理量测量
package measure

import (
	"math"
	"math/cmplx"

	"dyson/maths"
	"dyson/store"
	"dyson/weight"
)

// Record 一次测量
type Record struct {
	Version   int     `json:"Version"`
	Beta      float64 `json:"Beta"`
	Chi       float64 `json:"Chi"`       // 均匀静态磁化率 χ(q=0, ν=0)
	MinDeterm float64 `json:"MinDeterm"` // min |det(1-W0Π)|
}

// Observable 测量结果
type Observable struct {
	Map     *weight.IndexMap `json:"-"`
	Records []Record         `json:"Records"`
}

// NewObservable 创建空的测量结果
func NewObservable(m *weight.IndexMap) *Observable {
	return &Observable{Map: m}
}

// UniformChi 自旋对角通道在 k=0、零频率处按子格求和，再对子格平均
func UniformChi(m *weight.IndexMap, chi *weight.Weight) float64 {
	sum := 0.0
	for s := 0; s < weight.NSpin; s++ {
		sp := m.SpinPair(s, s)
		for sub := 0; sub < m.NSublat*m.NSublat; sub++ {
			sum += real(chi.Data.At(sp, sub, 0, 0))
		}
	}
	return sum / float64(m.NSublat)
}

// MinDeterm 行列式的最小模
func MinDeterm(determ *maths.Tensor) float64 {
	least := math.Inf(1)
	for _, d := range determ.Data() {
		least = math.Min(least, cmplx.Abs(d))
	}
	return least
}

// Measure 追加一次测量并返回
func (o *Observable) Measure(version int, chi *weight.Weight, determ *maths.Tensor) Record {
	r := Record{
		Version:   version,
		Beta:      o.Map.Beta,
		Chi:       UniformChi(o.Map, chi),
		MinDeterm: MinDeterm(determ),
	}
	o.Records = append(o.Records, r)
	return r
}

// Last 最近一次测量
func (o *Observable) Last() (Record, bool) {
	if len(o.Records) == 0 {
		return Record{}, false
	}
	return o.Records[len(o.Records)-1], true
}

// Save 写入全部测量记录
func (o *Observable) Save(path string) error {
	return store.SaveDict(path, o)
}

// Load 读取已有的测量记录，热启动时续写
func (o *Observable) Load(path string) error {
	return store.LoadDict(path, o)
}
