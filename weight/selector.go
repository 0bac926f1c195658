package weight

import (
	"fmt"
	"math"
	"math/cmplx"

	"dyson/maths"
	"dyson/smooth"
)

// ZeroTolerance 切片所有元素绝对值不超过该值时视为全零
const ZeroTolerance = 1e-10

// OrderReport 单个阶数的平滑诊断
type OrderReport struct {
	Order       int          // 阶数下标（物理阶数 = Order+1）
	MaxRelative float64      // 该阶所有切片中最大的相对误差
	Sigma       complex128   // 最大相对误差切片的噪声估计
	Position    [4]int       // 最大相对误差切片 (阶数, 自旋对, 子格对, 空间)
	Original    []complex128 // 最大相对误差切片的原始数据，nil 表示该阶没有可平滑的切片
	Smoothed    []complex128 // 最大相对误差切片的平滑结果
	Failed      int          // 无法平滑而被跳过的切片数量
	Accepted    bool         // 最大相对误差是否低于阈值
}

// observe 记录一个切片的相对误差；0/0 得到的 NaN 不参与比较
func (rep *OrderReport) observe(relative float64, res smooth.Result, pos [4]int, original []complex128) {
	if math.IsNaN(relative) {
		return
	}
	if rep.Original == nil || relative > rep.MaxRelative {
		rep.MaxRelative = relative
		rep.Sigma = res.Sigma
		rep.Position = pos
		rep.Original = original
		rep.Smoothed = res.Smoothed
	}
}

// Selection 阶数选择结果
type Selection struct {
	Accepted int           // 接受的最高阶数下标
	Smoothed *maths.Tensor // 平滑后的权重副本
	Reports  []OrderReport // 每个处理过的阶数的诊断
}

// SelectOrder 从 floor 阶开始逐阶平滑 orderWeight 的每个切片，
// 直到某阶的最大相对误差 >= threshold，并接受该阶本身。
// 输入张量不会被修改。
func SelectOrder(orderWeight *maths.Tensor, x []float64, threshold float64, floor int) (Selection, error) {
	shape := orderWeight.Shape()
	if len(shape) != 5 {
		return Selection{}, fmt.Errorf("%w: order weight must have 5 axes, got %v", ErrShapeMismatch, shape)
	}
	if shape[4] != len(x) {
		return Selection{}, fmt.Errorf("%w: %d sample points for %d time bins", ErrShapeMismatch, len(x), shape[4])
	}
	sel := Selection{Smoothed: orderWeight.Clone()}
	if shape[0] == 0 {
		return sel, fmt.Errorf("%w: no orders to select from", ErrShapeMismatch)
	}
	floor = max(floor, 0)
	if floor >= shape[0] {
		sel.Accepted = shape[0] - 1
		return sel, nil
	}
	for order := floor; order < shape[0]; order++ {
		rep := OrderReport{Order: order}
		for sp := 0; sp < shape[1]; sp++ {
			for sub := 0; sub < shape[2]; sub++ {
				for vol := 0; vol < shape[3]; vol++ {
					y := sel.Smoothed.Slice(order, sp, sub, vol)
					if isZero(y) {
						continue
					}
					res, err := smooth.Smooth(x, y)
					if err != nil {
						rep.Failed++
						continue
					}
					relative := cmplx.Abs(res.Sigma) / cmplx.Abs(smooth.Mean(res.Smoothed))
					rep.observe(relative, res, [4]int{order, sp, sub, vol}, y)
					sel.Smoothed.SetSlice(res.Smoothed, order, sp, sub, vol)
				}
			}
		}
		rep.Accepted = rep.MaxRelative < threshold
		sel.Reports = append(sel.Reports, rep)
		sel.Accepted = order
		if !rep.Accepted {
			break
		}
	}
	return sel, nil
}

// isZero 判断切片是否全零
func isZero(y []complex128) bool {
	for _, v := range y {
		if cmplx.Abs(v) > ZeroTolerance {
			return false
		}
	}
	return true
}
