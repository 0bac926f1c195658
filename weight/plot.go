package weight

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// StatusPlotter 把最大误差切片的原始数据与平滑结果画到 Dir 下
type StatusPlotter struct {
	Dir string
	Map *IndexMap
}

// NewStatusPlotter 创建诊断图绘制器，目录不存在时自动创建
func NewStatusPlotter(dir string, m *IndexMap) (*StatusPlotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &StatusPlotter{Dir: dir, Map: m}, nil
}

// Path 诊断图文件名
func (p *StatusPlotter) Path(name string, order int) string {
	return filepath.Join(p.Dir, fmt.Sprintf("%s_Smoothed_Order%d.png", name, order+1))
}

// PlotSmoothed 上半部分画实部，下半部分画虚部
func (p *StatusPlotter) PlotSmoothed(name string, x []float64, rep OrderReport, threshold float64) error {
	state := fmt.Sprintf("Accepted with relative error %.3g (Threshold %g)", rep.MaxRelative, threshold)
	if !rep.Accepted {
		state = "NOT " + state
	}
	spinIn, spinOut := p.Map.IndexToSpinPair(rep.Position[1])
	subA, subB := p.Map.IndexToSublat(rep.Position[2])
	title := fmt.Sprintf("Order %d at Spin:(%d,%d), Sublat:(%d,%d), Coordi:%v\n%s",
		rep.Order+1, spinIn, spinOut, subA, subB, p.Map.IndexToCoordi(rep.Position[3]), state)

	re, err := p.part(x, rep, func(c complex128) float64 { return real(c) }, fmt.Sprintf("Error %.2g", real(rep.Sigma)))
	if err != nil {
		return err
	}
	re.Title.Text = title
	im, err := p.part(x, rep, func(c complex128) float64 { return imag(c) }, fmt.Sprintf("Error %.2g", imag(rep.Sigma)))
	if err != nil {
		return err
	}
	im.X.Label.Text = "Tau"

	img := vgimg.New(vg.Points(640), vg.Points(720))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadX: vg.Millimeter, PadY: vg.Millimeter * 4}
	plots := [][]*plot.Plot{{re}, {im}}
	canvases := plot.Align(plots, tiles, dc)
	plots[0][0].Draw(canvases[0][0])
	plots[1][0].Draw(canvases[1][0])

	f, err := os.Create(p.Path(name, rep.Order))
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		return err
	}
	return f.Close()
}

// part 画出一个分量（实部或虚部）
func (p *StatusPlotter) part(x []float64, rep OrderReport, component func(complex128) float64, label string) (*plot.Plot, error) {
	raw := make(plotter.XYs, len(x))
	fit := make(plotter.XYs, len(x))
	for i := range x {
		raw[i].X, raw[i].Y = x[i], component(rep.Original[i])
		fit[i].X, fit[i].Y = x[i], component(rep.Smoothed[i])
	}
	pl := plot.New()
	scatter, err := plotter.NewScatter(raw)
	if err != nil {
		return nil, err
	}
	line, err := plotter.NewLine(fit)
	if err != nil {
		return nil, err
	}
	pl.Add(scatter, line)
	pl.Legend.Add("data", scatter)
	pl.Legend.Add(label, line)
	pl.Legend.Top = true
	return pl, nil
}
