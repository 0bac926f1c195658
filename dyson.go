// Package dyson 自洽 Dyson 方程迭代
//
// 每次迭代由裸传播子出发，合并一阶自能与极化（单进程模式）或者收集外部采样
// 统计并截断阶数（分布式模式），再求解 G 与 W 的 Dyson 方程。成功时提交并写检查点，
// 分母奇异或没有统计文件时回滚到迭代前的状态并重试，其他错误终止迭代。
package dyson

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"dyson/collect"
	"dyson/config"
	"dyson/maths"
	"dyson/measure"
	"dyson/model"
	"dyson/store"
	"dyson/utils"
	"dyson/weight"
)

// OutcomeKind 单次迭代的结果类型
type OutcomeKind int

const (
	OutcomeOk        OutcomeKind = iota // 提交
	OutcomeRetryable                    // 已回滚，可以重试
	OutcomeFatal                        // 终止
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOk:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Outcome 单次迭代的结果
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// classify 只有分母奇异与统计收集失败可以重试
func classify(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeOk}
	case errors.Is(err, model.ErrDenominatorTouchesZero), errors.Is(err, collect.ErrCollectionFailure):
		return Outcome{Kind: OutcomeRetryable, Err: err}
	default:
		return Outcome{Kind: OutcomeFatal, Err: err}
	}
}

// Checkpoint 检查点文件内容
type Checkpoint map[string]weight.Dict

// Option 迭代器选项
type Option func(*Dyson)

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(d *Dyson) { d.log = log }
}

// WithMetrics 设置监控指标
func WithMetrics(m *Metrics) Option {
	return func(d *Dyson) { d.metrics = m }
}

// WithFactory 替换裸传播子构建器
func WithFactory(f model.Factory) Option {
	return func(d *Dyson) { d.Factory = f }
}

// WithCalculator 替换 Dyson 方程计算器
func WithCalculator(c model.Calculator) Option {
	return func(d *Dyson) { d.Calc = c }
}

// WithSleep 替换分布式模式下的等待
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(d *Dyson) { d.sleep = sleep }
}

// WithMemoryProbe 替换内存用量探测
func WithMemoryProbe(probe func() (float64, error)) Option {
	return func(d *Dyson) { d.memory = probe }
}

// Dyson 自洽迭代状态
type Dyson struct {
	Params     *config.Params
	Paths      config.Paths
	Map        *weight.IndexMap
	Factory    model.Factory
	Calc       model.Calculator
	Collector  *collect.Collector
	Observable *measure.Observable

	Warm        bool // 从检查点热启动
	Distributed bool // 收集外部统计

	G, W, Gold, Wold          *weight.Weight
	SigmaDeltaT, Sigma, Polar *weight.Weight
	G0, W0, Chi               *weight.Weight
	Determ                    *maths.Tensor

	log     *zap.Logger
	metrics *Metrics
	sleep   func(context.Context, time.Duration) error
	memory  func() (float64, error)
}

// New 由参数创建迭代器；工作目录中存在检查点时加载 G 与 W
func New(p *config.Params, workspace string, opts ...Option) (*Dyson, error) {
	m, err := p.IndexMap()
	if err != nil {
		return nil, err
	}
	d := &Dyson{
		Params: p,
		Paths:  p.Paths(workspace),
		Map:    m,
		log:    zap.NewNop(),
		sleep:  sleep,
		memory: utils.MemoryUsage,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	if d.Factory == nil {
		if d.Factory, err = model.NewBareFactory(m, p.Model, p.Dyson.Annealing); err != nil {
			return nil, err
		}
	}
	if d.Calc == nil {
		d.Calc = model.NewDense(m)
	}
	if _, err := os.Stat(d.Paths.Weight); err == nil {
		d.Warm = true
	}
	d.Distributed = d.Warm && !p.Job.DysonOnly

	d.G0, d.W0, err = d.Factory.Build()
	if err != nil {
		return nil, err
	}
	d.G = d.G0.Copy()
	d.W = weight.NewWeight(weight.SmoothT, m)
	if d.Warm {
		d.log.Info("load G, W", zap.String("file", d.Paths.Weight))
		if err := d.load(); err != nil {
			return nil, err
		}
	} else {
		d.log.Info("start from bare G, W")
	}
	d.Gold, d.Wold = d.G, d.W
	d.SigmaDeltaT = weight.NewWeight(weight.DeltaT, m)
	d.Sigma = weight.NewWeight(weight.SmoothT, m)
	d.Polar = weight.NewWeight(weight.SmoothT, m)

	d.Observable = measure.NewObservable(m)
	if d.Warm {
		if err := d.Observable.Load(d.Paths.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.log.Warn("discard previous output", zap.Error(err))
		}
	}

	d.Collector = collect.New(workspace, m, p.Dyson.Order, d.log)
	if d.Distributed {
		plotter, err := weight.NewStatusPlotter(d.Paths.Status, m)
		if err != nil {
			d.log.Warn("order selection plots disabled", zap.Error(err))
		} else {
			d.Collector.Plotter = plotter
		}
	}
	return d, nil
}

// load 读取检查点中的 G 与 W
func (d *Dyson) load() error {
	var cp Checkpoint
	if err := store.LoadBigDict(d.Paths.Weight, &cp); err != nil {
		return err
	}
	if err := d.G.FromDict(cp["G"]); err != nil {
		return fmt.Errorf("load G: %w", err)
	}
	if err := d.W.FromDict(cp["W"]); err != nil {
		return fmt.Errorf("load W: %w", err)
	}
	return nil
}

// checkpoint 回滚所需的最小状态，G 与 W 由 Gold 与 Wold 保存
type checkpoint struct {
	sigmaDeltaT, sigma, polar *weight.Weight
	snapshots                 [3]weight.Snapshot
}

func (d *Dyson) checkpoint() checkpoint {
	return checkpoint{
		sigmaDeltaT: d.SigmaDeltaT,
		sigma:       d.Sigma,
		polar:       d.Polar,
		snapshots:   [3]weight.Snapshot{d.SigmaDeltaT.Snapshot(), d.Sigma.Snapshot(), d.Polar.Snapshot()},
	}
}

func (d *Dyson) rollback(c checkpoint) {
	d.G, d.W = d.Gold, d.Wold
	d.SigmaDeltaT, d.Sigma, d.Polar = c.sigmaDeltaT, c.sigma, c.polar
	d.SigmaDeltaT.Restore(c.snapshots[0])
	d.Sigma.Restore(c.snapshots[1])
	d.Polar.Restore(c.snapshots[2])
}

// attempt 一次迭代的中间结果
type attempt struct {
	g0, w0 *weight.Weight
	res    *model.WResult
}

// solve 迭代的计算部分，失败时状态由调用者回滚
func (d *Dyson) solve(ctx context.Context, log *zap.Logger, ratio float64) (*attempt, error) {
	g0, w0, err := d.Factory.Build()
	if err != nil {
		return nil, err
	}
	sigmaDeltaT, err := d.Calc.SigmaDeltaTFirstOrder(d.G, w0)
	if err != nil {
		return nil, err
	}
	if err := d.SigmaDeltaT.Merge(ratio, sigmaDeltaT); err != nil {
		return nil, err
	}

	if d.Distributed {
		log.Info("collecting Sigma/Polar statistics")
		sigmaMC, polarMC, err := d.Collector.Collect(ctx)
		if err != nil {
			return nil, err
		}
		d.Sigma, d.Polar, err = collect.UpdateWeight(sigmaMC, polarMC, d.Params.Dyson.ErrorThreshold, d.Params.Dyson.OrderAccepted, log)
		if err != nil {
			return nil, err
		}
		log.Info("calculating G")
		if d.G, err = d.Calc.GDyson(g0, d.SigmaDeltaT, d.Sigma); err != nil {
			return nil, err
		}
	} else {
		log.Info("accumulating Sigma/Polar")
		sigma, err := d.Calc.SigmaFirstOrder(d.G, d.W)
		if err != nil {
			return nil, err
		}
		if err := d.Sigma.Merge(ratio, sigma); err != nil {
			return nil, err
		}
		log.Info("calculating G")
		if d.G, err = d.Calc.GDyson(g0, d.SigmaDeltaT, d.Sigma); err != nil {
			return nil, err
		}
		polar, err := d.Calc.PolarFirstOrder(d.G)
		if err != nil {
			return nil, err
		}
		if err := d.Polar.Merge(ratio, polar); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info("calculating W")
	res, err := d.Calc.WDyson(w0, d.Polar)
	if err != nil {
		return nil, err
	}
	d.W = res.W
	return &attempt{g0: g0, w0: w0, res: res}, nil
}

// Iterate 执行一次迭代
func (d *Dyson) Iterate(ctx context.Context) Outcome {
	timer := prometheus.NewTimer(d.metrics.Duration)
	defer timer.ObserveDuration()

	d.Params.Version++
	version := d.Params.Version
	ratio := float64(version) / (float64(version) + 10)
	log := d.log.With(zap.Int("version", version))
	log.Info("start version", zap.Float64("ratio", ratio), zap.Bool("distributed", d.Distributed))
	d.metrics.Version.Set(float64(version))

	cp := d.checkpoint()
	a, err := d.solve(ctx, log, ratio)
	if err != nil && ctx.Err() != nil {
		// 中断的迭代不改变外场
		d.rollback(cp)
		log.Info("version interrupted", zap.Error(err))
		return d.count(Outcome{Kind: OutcomeRetryable, Err: err})
	}

	out := classify(err)
	switch out.Kind {
	case OutcomeOk:
		out.Err = d.commit(log, version, a)
		log.Info("version is done")
	case OutcomeRetryable:
		log.Warn("version fails", zap.Error(err))
		d.Factory.RevertField()
		d.Params.Dyson.Annealing.DeltaField = d.Factory.DeltaField()
		d.rollback(cp)
	case OutcomeFatal:
		log.Error("dyson fails", zap.Error(err))
		d.G, d.W = d.Gold, d.Wold
	}
	return d.count(out)
}

func (d *Dyson) count(out Outcome) Outcome {
	d.metrics.Iterations.WithLabelValues(out.Kind.String()).Inc()
	return out
}

// CheckpointData 当前状态的检查点内容
func (d *Dyson) CheckpointData() Checkpoint {
	w := d.W.ToDict()
	maps.Copy(w, d.W0.ToDict())
	return Checkpoint{
		"G":           d.G.ToDict(),
		"W":           w,
		"Chi":         d.Chi.ToDict(),
		"SigmaDeltaT": d.SigmaDeltaT.ToDict(),
		"Sigma":       d.Sigma.ToDict(),
		"Polar":       d.Polar.ToDict(),
	}
}

// commit 提交本次结果，写出检查点、参数、测量与消息文件
//
// 写文件失败只记录日志；只有写入期间收到中断信号时返回 utils.ErrInterrupted。
func (d *Dyson) commit(log *zap.Logger, version int, a *attempt) error {
	d.Gold, d.Wold = d.G, d.W
	d.G0, d.W0 = a.g0, a.w0
	d.Chi, d.Determ = a.res.Chi, a.res.Determ

	rec := d.Observable.Measure(version, d.Chi, d.Determ)
	log.Info("measured", zap.Float64("chi", rec.Chi), zap.Float64("minDeterm", rec.MinDeterm))
	d.metrics.Chi.Set(rec.Chi)
	d.metrics.MinDeterm.Set(rec.MinDeterm)

	d.Factory.DecreaseField()
	d.Params.Dyson.Annealing.DeltaField = d.Factory.DeltaField()

	data := d.CheckpointData()
	err := utils.DelayedInterrupt(func() error {
		log.Info("save weights", zap.String("file", d.Paths.Weight))
		if err := store.SaveBigDict(d.Paths.Weight, data); err != nil {
			return err
		}
		if err := d.Params.Save(d.Paths.Para); err != nil {
			return err
		}
		return d.Observable.Save(d.Paths.Output)
	})
	if err != nil {
		log.Error("output fails", zap.Error(err))
		if !errors.Is(err, utils.ErrInterrupted) {
			err = nil
		}
	}

	msg := store.Message{Version: version, Beta: d.Map.Beta}
	if merr := store.BroadcastMessage(d.Paths.Message, msg); merr != nil {
		log.Warn("broadcast message fails", zap.Error(merr))
	}
	return err
}

// pause 迭代之间的等待与内存诊断
func (d *Dyson) pause(ctx context.Context) error {
	if d.Distributed {
		wait := time.Duration(d.Params.Dyson.SleepTime * float64(time.Second))
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
	before, err := d.memory()
	if err != nil {
		d.log.Warn("memory usage unavailable", zap.Error(err))
		return nil
	}
	runtime.GC()
	after, err := d.memory()
	if err != nil {
		d.log.Warn("memory usage unavailable", zap.Error(err))
		return nil
	}
	d.log.Info("memory usage", zap.Float64("beforeGC_MB", before), zap.Float64("afterGC_MB", after))
	d.metrics.MemoryMB.Set(after)
	return nil
}

// Run 持续迭代，直到 ctx 取消或者遇到不可恢复的错误
func (d *Dyson) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			d.log.Info("terminating dyson", zap.Int("version", d.Params.Version))
			return nil
		}
		out := d.Iterate(ctx)
		if out.Kind == OutcomeFatal {
			return out.Err
		}
		if errors.Is(out.Err, utils.ErrInterrupted) || ctx.Err() != nil {
			d.log.Info("terminating dyson", zap.Int("version", d.Params.Version))
			return nil
		}
		if err := d.pause(ctx); err != nil {
			d.log.Info("terminating dyson", zap.Int("version", d.Params.Version))
			return nil
		}
	}
}

// sleep 可被 ctx 打断的等待
func sleep(ctx context.Context, wait time.Duration) error {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
