package weight

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"dyson/maths"
	"dyson/smooth"
)

// 累积统计量的一致性错误
var (
	ErrShapeMismatch = maths.ErrShapeMismatch
	ErrNormMismatch  = errors.New("norm have to be the same to merge statistics")
	ErrNotMerged     = errors.New("estimator has no statistics merged yet")
)

// State 累积统计量的持久化内容
type State struct {
	WeightAccu *maths.Tensor `json:"WeightAccu"`
	NormAccu   float64       `json:"NormAccu"`
	Norm       *float64      `json:"Norm"` // nil 表示尚未确定
}

// Plotter 绘制阶数选择的诊断图
type Plotter interface {
	PlotSmoothed(name string, x []float64, report OrderReport, threshold float64) error
}

// Option 累积器选项
type Option func(*Estimator)

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(e *Estimator) { e.log = log }
}

// WithPlotter 设置诊断图绘制器
func WithPlotter(p Plotter) Option {
	return func(e *Estimator) { e.plotter = p }
}

// Estimator 某个物理量按微扰阶数累积的直方图
//
// 最终权重 OrderWeight = WeightAccu * Norm / NormAccu，阶数下标0对应物理上的1阶。
type Estimator struct {
	WeightAccu *maths.Tensor
	NormAccu   float64
	Norm       *float64
	Order      int

	weight      *Weight       // 所属的物理量
	orderWeight *maths.Tensor // 阶数选择后的平滑结果
	log         *zap.Logger
	plotter     Plotter
}

// NewEstimator 为物理量 w 创建 order 阶的空累积器
func NewEstimator(w *Weight, order int, opts ...Option) *Estimator {
	e := &Estimator{
		WeightAccu: maths.NewTensor(w.Map.EstimatorShape(order)...),
		Order:      order,
		weight:     w,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Shape 期望的累积张量形状
func (e *Estimator) Shape() []int { return e.weight.Map.EstimatorShape(e.Order) }

// Copy 深拷贝（共享日志与绘图器）
func (e *Estimator) Copy() *Estimator {
	c := *e
	c.WeightAccu = e.WeightAccu.Clone()
	if e.Norm != nil {
		norm := *e.Norm
		c.Norm = &norm
	}
	if e.orderWeight != nil {
		c.orderWeight = e.orderWeight.Clone()
	}
	return &c
}

// Merge 并入另一个累积器；校验失败时不修改接收者
func (e *Estimator) Merge(other *Estimator) error {
	if !e.WeightAccu.SameShape(other.WeightAccu) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, e.WeightAccu.Shape(), other.WeightAccu.Shape())
	}
	if err := checkNorm(e, other); err != nil {
		return err
	}
	if err := e.WeightAccu.AddTensor(other.WeightAccu); err != nil {
		return err
	}
	e.NormAccu += other.NormAccu
	if e.Norm == nil && other.Norm != nil {
		norm := *other.Norm
		e.Norm = &norm
	}
	e.orderWeight = nil
	return nil
}

// checkNorm 两边都有 Norm 时必须相等；只有一边有时，另一边必须是空累积器
func checkNorm(e, other *Estimator) error {
	switch {
	case e.Norm != nil && other.Norm != nil:
		if *e.Norm != *other.Norm {
			return fmt.Errorf("%w: %g vs %g", ErrNormMismatch, *e.Norm, *other.Norm)
		}
	case e.Norm != nil && other.NormAccu != 0:
		return fmt.Errorf("%w: merging statistics without norm (NormAccu %g) into norm %g", ErrNormMismatch, other.NormAccu, *e.Norm)
	case other.Norm != nil && e.NormAccu != 0:
		return fmt.Errorf("%w: statistics without norm (NormAccu %g) cannot take norm %g", ErrNormMismatch, e.NormAccu, *other.Norm)
	}
	return nil
}

// OrderWeight 按阶数归一化后的权重（新张量）
func (e *Estimator) OrderWeight() (*maths.Tensor, error) {
	if e.Norm == nil || e.NormAccu == 0 {
		return nil, ErrNotMerged
	}
	ow := e.WeightAccu.Clone()
	ow.Scale(complex(*e.Norm/e.NormAccu, 0))
	return ow, nil
}

// GetNewOrderAccepted 从 floor 阶开始逐阶平滑，返回可信的最高阶下标
func (e *Estimator) GetNewOrderAccepted(name string, threshold float64, floor int) (int, error) {
	ow, err := e.OrderWeight()
	if err != nil {
		return 0, err
	}
	x := smooth.Range(e.weight.Map.MaxTauBin)
	sel, err := SelectOrder(ow, x, threshold, floor)
	if err != nil {
		return 0, err
	}
	for _, rep := range sel.Reports {
		e.log.Info("order selection",
			zap.String("quantity", name),
			zap.Int("order", rep.Order),
			zap.Float64("maxRelativeError", rep.MaxRelative),
			zap.Int("unsmoothable", rep.Failed),
			zap.Bool("accepted", rep.Accepted),
		)
		if e.plotter == nil || rep.Original == nil {
			continue
		}
		if err := e.plotter.PlotSmoothed(name, x, rep, threshold); err != nil {
			e.log.Warn("failed to plot", zap.String("quantity", name), zap.Error(err))
		}
	}
	e.orderWeight = sel.Smoothed
	e.log.Info("order accepted", zap.String("quantity", name), zap.Int("orderAccepted", sel.Accepted))
	return sel.Accepted, nil
}

// GetWeight 对阶数下标 [0, orderAccepted] 求和，写入所属物理量并返回
func (e *Estimator) GetWeight(orderAccepted int) (*Weight, error) {
	ow := e.orderWeight
	if ow == nil {
		var err error
		if ow, err = e.OrderWeight(); err != nil {
			return nil, err
		}
	}
	sum, err := ow.SumLeading(orderAccepted)
	if err != nil {
		return nil, err
	}
	if err := e.weight.FromDict(Dict{e.weight.Name(): sum}); err != nil {
		return nil, err
	}
	return e.weight, nil
}

// ToDict 导出持久化内容
func (e *Estimator) ToDict() *State {
	s := &State{WeightAccu: e.WeightAccu.Clone(), NormAccu: e.NormAccu}
	if e.Norm != nil {
		norm := *e.Norm
		s.Norm = &norm
	}
	return s
}

// FromDict 加载持久化内容，形状必须与期望一致
func (e *Estimator) FromDict(s *State) error {
	if s == nil || s.WeightAccu == nil {
		return errors.New("estimator state has no WeightAccu")
	}
	if expected := e.Shape(); !slices.Equal(expected, s.WeightAccu.Shape()) {
		return fmt.Errorf("%w: shape %v is expected instead of shape %v", ErrShapeMismatch, expected, s.WeightAccu.Shape())
	}
	e.WeightAccu = s.WeightAccu.Clone()
	e.NormAccu = s.NormAccu
	e.Norm = nil
	if s.Norm != nil {
		norm := *s.Norm
		e.Norm = &norm
	}
	e.orderWeight = nil
	return nil
}
