// Package config 参数文件
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"dyson/store"
	"dyson/weight"
)

// Lattice 晶格参数
type Lattice struct {
	Name    string `json:"Name"`
	NSublat int    `json:"NSublat"`
	L       []int  `json:"L"`
}

// Tau 虚时参数
type Tau struct {
	Beta      float64 `json:"Beta"`
	MaxTauBin int     `json:"MaxTauBin"`
}

// Annealing 退火外场，每个子格一个分量
type Annealing struct {
	DeltaField []float64 `json:"DeltaField"` // 当前附加外场
	Interval   []float64 `json:"Interval"`   // 每次成功迭代减小的步长
}

// Dyson 自洽迭代参数
type Dyson struct {
	Order          int       `json:"Order"`          // 统计的最高阶数
	OrderAccepted  int       `json:"OrderAccepted"`  // 阶数选择的起点下标
	ErrorThreshold float64   `json:"ErrorThreshold"` // 可接受的最大相对误差
	SleepTime      float64   `json:"SleepTime"`      // 分布式模式下两次迭代的间隔（秒）
	Annealing      Annealing `json:"Annealing"`
}

// Model 模型参数
type Model struct {
	Name          string    `json:"Name"`
	Interaction   []float64 `json:"Interaction"`   // J1, J2, ...
	ExternalField []float64 `json:"ExternalField"` // 每个子格的外场
}

// Job 作业参数
type Job struct {
	PID         int    `json:"PID"`
	WeightFile  string `json:"WeightFile"`
	MessageFile string `json:"MessageFile"`
	OutputFile  string `json:"OutputFile"`
	DysonOnly   bool   `json:"DysonOnly"` // 不读取外部统计，单进程自洽
}

// Params 参数文件内容
type Params struct {
	Lattice Lattice `json:"Lattice"`
	Tau     Tau     `json:"Tau"`
	Dyson   Dyson   `json:"Dyson"`
	Model   Model   `json:"Model"`
	Job     Job     `json:"Job"`
	Version int     `json:"Version"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Lattice.Name", "Square")
	v.SetDefault("Lattice.NSublat", 1)
	v.SetDefault("Tau.MaxTauBin", 64)
	v.SetDefault("Dyson.Order", 3)
	v.SetDefault("Dyson.OrderAccepted", 0)
	v.SetDefault("Dyson.ErrorThreshold", 0.2)
	v.SetDefault("Dyson.SleepTime", 300)
	v.SetDefault("Model.Name", "J1J2")
	v.SetDefault("Model.Interaction", []float64{1})
	v.SetDefault("Job.WeightFile", "Weight")
	v.SetDefault("Job.MessageFile", "Message")
	v.SetDefault("Job.OutputFile", "Output")
	v.SetDefault("Version", 0)
}

// Load 读取参数文件，没有扩展名时按 JSON 解析
func Load(path string) (*Params, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var p Params
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &p, nil
}

// Validate 检查参数并补全与子格数相关的缺省值
func (p *Params) Validate() error {
	n := p.Lattice.NSublat
	if n < 1 {
		return fmt.Errorf("Lattice.NSublat must be positive, got %d", n)
	}
	if len(p.Lattice.L) == 0 {
		return errors.New("Lattice.L is required")
	}
	if p.Tau.Beta <= 0 {
		return fmt.Errorf("Tau.Beta must be positive, got %g", p.Tau.Beta)
	}
	if p.Tau.MaxTauBin < 1 {
		return fmt.Errorf("Tau.MaxTauBin must be positive, got %d", p.Tau.MaxTauBin)
	}
	if p.Dyson.Order < 1 {
		return fmt.Errorf("Dyson.Order must be positive, got %d", p.Dyson.Order)
	}
	if p.Dyson.OrderAccepted < 0 {
		return fmt.Errorf("Dyson.OrderAccepted must not be negative, got %d", p.Dyson.OrderAccepted)
	}
	if p.Dyson.ErrorThreshold <= 0 {
		return fmt.Errorf("Dyson.ErrorThreshold must be positive, got %g", p.Dyson.ErrorThreshold)
	}
	if p.Dyson.SleepTime < 0 {
		return fmt.Errorf("Dyson.SleepTime must not be negative, got %g", p.Dyson.SleepTime)
	}
	if len(p.Model.Interaction) == 0 {
		return errors.New("Model.Interaction is required")
	}
	if p.Version < 0 {
		return fmt.Errorf("Version must not be negative, got %d", p.Version)
	}
	fields := map[string]*[]float64{
		"Model.ExternalField":        &p.Model.ExternalField,
		"Dyson.Annealing.DeltaField": &p.Dyson.Annealing.DeltaField,
		"Dyson.Annealing.Interval":   &p.Dyson.Annealing.Interval,
	}
	for name, f := range fields {
		switch len(*f) {
		case 0:
			*f = make([]float64, n)
		case n:
		default:
			return fmt.Errorf("%s needs %d components, got %d", name, n, len(*f))
		}
	}
	return nil
}

// IndexMap 权重张量的索引约定
func (p *Params) IndexMap() (*weight.IndexMap, error) {
	return weight.NewIndexMap(p.Lattice.NSublat, p.Lattice.L, p.Tau.Beta, p.Tau.MaxTauBin)
}

// Save 以 JSON 写入参数
func (p *Params) Save(path string) error {
	return store.SaveDict(path, p)
}

// Paths 作业在工作目录中的文件
type Paths struct {
	Workspace string
	Para      string // 当前参数
	Weight    string // 检查点
	Message   string
	Output    string
	Status    string // 诊断图目录
}

// Paths 解析作业文件路径，相对路径以 workspace 为根
func (p *Params) Paths(workspace string) Paths {
	resolve := func(name string) string {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(workspace, name)
	}
	return Paths{
		Workspace: workspace,
		Para:      filepath.Join(workspace, fmt.Sprintf("%d_DYSON_para%s", p.Job.PID, store.DictExt)),
		Weight:    resolve(p.Job.WeightFile) + store.BigDictExt,
		Message:   resolve(p.Job.MessageFile) + store.DictExt,
		Output:    resolve(p.Job.OutputFile) + store.DictExt,
		Status:    filepath.Join(workspace, "status"),
	}
}

// InputFile 由进程号定位输入文件
func InputFile(workspace string, pid int) string {
	return filepath.Join(workspace, "infile", fmt.Sprintf("_in_DYSON_%d", pid))
}
