// Package collect 汇总外部采样进程产生的统计文件
package collect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dyson/store"
	"dyson/utils"
	"dyson/weight"
)

// StatisPattern 统计文件名包含的子串
const StatisPattern = "_statis"

// TotalFile 汇总后的统计文件名
const TotalFile = "statis_total"

// 统计收集错误
var (
	ErrCollectionFailure = errors.New("no statistics files to read")
	ErrCorruptStatis     = errors.New("corrupt statistics file")
)

// Section 单个物理量的统计
type Section struct {
	Histogram *weight.State `json:"Histogram"`
}

// StatisFile 统计文件内容
type StatisFile struct {
	Sigma Section `json:"Sigma"`
	Polar Section `json:"Polar"`
}

// Collector 统计收集器
type Collector struct {
	Workspace string
	Map       *weight.IndexMap
	Order     int
	Log       *zap.Logger
	Plotter   weight.Plotter // 可选
	Limit     int            // 已解码但尚未合并的文件数上限，<= 0 时取 CPU 数
}

// New 创建收集器
func New(workspace string, m *weight.IndexMap, order int, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{Workspace: workspace, Map: m, Order: order, Log: log}
}

// FileList 工作目录中的统计文件，按文件名排序；符号链接按其目标判断
func (c *Collector) FileList() ([]string, error) {
	entries, err := os.ReadDir(c.Workspace)
	if err != nil {
		return nil, fmt.Errorf("list workspace %s: %w", c.Workspace, err)
	}
	var files []string
	for _, entry := range entries {
		if !strings.Contains(entry.Name(), StatisPattern) {
			continue
		}
		path := filepath.Join(c.Workspace, entry.Name())
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return files, nil
}

// NewEstimators 两个物理量的空累积器
func (c *Collector) NewEstimators() (sigma, polar *weight.Estimator) {
	opts := []weight.Option{weight.WithLogger(c.Log)}
	if c.Plotter != nil {
		opts = append(opts, weight.WithPlotter(c.Plotter))
	}
	sigma = weight.NewEstimator(weight.NewWeight(weight.SmoothT, c.Map), c.Order, opts...)
	polar = weight.NewEstimator(weight.NewWeight(weight.SmoothT, c.Map), c.Order, opts...)
	return sigma, polar
}

func (c *Collector) limit() int {
	if c.Limit > 0 {
		return c.Limit
	}
	return runtime.NumCPU()
}

// load 解码单个统计文件
func load(path string) (*StatisFile, error) {
	var statis StatisFile
	if err := store.LoadBigDict(path, &statis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStatis, err)
	}
	if statis.Sigma.Histogram == nil || statis.Polar.Histogram == nil {
		return nil, fmt.Errorf("%w: %s has no Sigma/Polar histogram", ErrCorruptStatis, path)
	}
	return &statis, nil
}

// Collect 读取所有统计文件并合并
//
// 文件并发解码，按文件名顺序逐个合并，同时驻留内存的已解码文件不超过 Limit 个。
// 任何文件损坏或与期望形状不一致都是致命错误。
func (c *Collector) Collect(ctx context.Context) (sigma, polar *weight.Estimator, err error) {
	files, err := c.FileList()
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w in %s", ErrCollectionFailure, c.Workspace)
	}
	c.Log.Info("collect statistics", zap.Strings("files", files))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// 解码前占一个槽位，合并后释放
	slots := make(chan struct{}, c.limit())
	ready := make([]chan *StatisFile, len(files))
	for i := range ready {
		ready[i] = make(chan *StatisFile, 1)
	}
	g.Go(func() error {
		for i, f := range files {
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				statis, err := load(f)
				if err != nil {
					return err
				}
				ready[i] <- statis
				return nil
			})
		}
		return nil
	})

	sigma, polar = c.NewEstimators()
	sigmaTemp, polarTemp := c.NewEstimators()
	merged := 0
	var mergeErr error
	for i, f := range files {
		var statis *StatisFile
		select {
		case statis = <-ready[i]:
		case <-gctx.Done():
		}
		if statis == nil {
			break
		}
		c.Log.Debug("merging", zap.String("file", f))
		if mergeErr = c.merge(sigma, polar, sigmaTemp, polarTemp, statis); mergeErr != nil {
			mergeErr = fmt.Errorf("%s: %w", f, mergeErr)
			cancel()
			break
		}
		merged++
		<-slots
	}

	waitErr := g.Wait()
	switch {
	case mergeErr != nil:
		return nil, nil, mergeErr
	case waitErr != nil:
		return nil, nil, waitErr
	case merged < len(files):
		return nil, nil, ctx.Err()
	}
	return sigma, polar, nil
}

// merge 把一个统计文件并入 sigma 与 polar
func (c *Collector) merge(sigma, polar, sigmaTemp, polarTemp *weight.Estimator, statis *StatisFile) error {
	if err := sigmaTemp.FromDict(statis.Sigma.Histogram); err != nil {
		return fmt.Errorf("sigma: %w", err)
	}
	if err := polarTemp.FromDict(statis.Polar.Histogram); err != nil {
		return fmt.Errorf("polar: %w", err)
	}
	if err := sigma.Merge(sigmaTemp); err != nil {
		return fmt.Errorf("sigma: %w", err)
	}
	if err := polar.Merge(polarTemp); err != nil {
		return fmt.Errorf("polar: %w", err)
	}
	return nil
}

// UpdateWeight 对两个物理量做阶数选择，返回截断后的 Sigma 与 Polar
func UpdateWeight(sigma, polar *weight.Estimator, threshold float64, floor int, log *zap.Logger) (*weight.Weight, *weight.Weight, error) {
	sigmaOrder, err := sigma.GetNewOrderAccepted("Sigma", threshold, floor)
	if err != nil {
		return nil, nil, fmt.Errorf("select sigma order: %w", err)
	}
	polarOrder, err := polar.GetNewOrderAccepted("Polar", threshold, floor)
	if err != nil {
		return nil, nil, fmt.Errorf("select polar order: %w", err)
	}
	if log != nil {
		log.Info("orders accepted", zap.Int("sigma", sigmaOrder), zap.Int("polar", polarOrder))
	}
	sigmaWeight, err := sigma.GetWeight(sigmaOrder)
	if err != nil {
		return nil, nil, err
	}
	polarWeight, err := polar.GetWeight(polarOrder)
	if err != nil {
		return nil, nil, err
	}
	return sigmaWeight, polarWeight, nil
}

// Total 汇总结果的文件内容
func Total(sigma, polar *weight.Estimator) *StatisFile {
	return &StatisFile{
		Sigma: Section{Histogram: sigma.ToDict()},
		Polar: Section{Histogram: polar.ToDict()},
	}
}

// CollectOnly 收集统计并写入汇总文件，返回写入的路径
func (c *Collector) CollectOnly(ctx context.Context) (string, error) {
	sigma, polar, err := c.Collect(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.Workspace, TotalFile+store.BigDictExt)
	err = utils.DelayedInterrupt(func() error {
		return store.SaveBigDict(path, Total(sigma, polar))
	})
	if err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	c.Log.Info("statistics saved", zap.String("file", path), zap.Float64("sigmaNormAccu", sigma.NormAccu))
	return path, nil
}
