package maths

import (
	"errors"
	"fmt"
)

// NewLU 创建稠密矩阵LU分解器（输入矩阵维度n）
// 参数:
//
//	n - 矩阵维度（必须为正整数）
//
// 返回:
//
//	LU接口实例，错误信息
func NewLU[T Number](n int) (LU[T], error) {
	if n < 1 {
		return nil, errors.New("lu dimension must be positive")
	}
	return &luDense[T]{
		n:        n,
		L:        NewDenseMatrix[T](n, n),
		U:        NewDenseMatrix[T](n, n),
		Y:        NewDenseVector[T](n),
		P:        make([]int, n),
		pinverse: make([]int, n),
	}, nil
}

// luDense 稠密矩阵LU分解实现（PA=LU，带部分主元）
//
//	P - 置换矩阵（用向量表示）
//	L - 单位下三角矩阵（对角线为1）
//	U - 上三角矩阵
type luDense[T Number] struct {
	n        int       // 矩阵维度（方阵n×n）
	L        Matrix[T] // 下三角矩阵L（严格下三角存储消元因子）
	U        Matrix[T] // 上三角矩阵U
	Y        Vector[T] // 中间变量：存储前向替换结果Ly=Pb
	P        []int     // 置换向量：P[i] = 分解后第i行对应的原始矩阵行索引
	pinverse []int     // 逆置换向量
	swaps    int       // 行交换次数（行列式符号）
	ok       bool      // 是否已成功分解
}

// init 初始化置换向量和L矩阵的对角线
func (lu *luDense[T]) init(matrix Matrix[T]) {
	lu.L.Zero()
	lu.U.Zero()
	matrix.Copy(lu.U) // 将A拷贝到U，后续在U上进行原位消元
	for i := 0; i < lu.n; i++ {
		lu.P[i] = i
		lu.pinverse[i] = i
		lu.L.Set(i, i, 1)
	}
	lu.swaps = 0
	lu.ok = false
}

// updatePermutation 更新置换向量（交换并同步更新逆置换）
func (lu *luDense[T]) updatePermutation(k, maxRow int) {
	lu.P[k], lu.P[maxRow] = lu.P[maxRow], lu.P[k]
	lu.pinverse[lu.P[k]] = k
	lu.pinverse[lu.P[maxRow]] = maxRow
	lu.swaps++
}

// Decompose 执行稠密矩阵LU分解（高斯消元+部分主元）
//
// 主元绝对值小于 Epsilon 时返回 ErrSingular。
func (lu *luDense[T]) Decompose(matrix Matrix[T]) error {
	if !matrix.IsSquare() {
		return errors.New("lu dense decompose: input must be square matrix")
	}
	if matrix.Rows() != lu.n {
		return errors.New("lu dense decompose: matrix dimension mismatch")
	}
	lu.init(matrix)
	for k := 0; k < lu.n; k++ {
		// 部分主元选择
		maxRow := k
		maxAbsVal := Abs(lu.U.Get(k, k))
		for i := k + 1; i < lu.n; i++ {
			if v := Abs(lu.U.Get(i, k)); v > maxAbsVal {
				maxAbsVal = v
				maxRow = i
			}
		}
		if maxAbsVal < Epsilon {
			return fmt.Errorf("lu dense decompose: %w (pivot %d = %.1e)", ErrSingular, k, maxAbsVal)
		}
		// 行交换
		if maxRow != k {
			lu.U.SwapRows(k, maxRow)
			for j := 0; j < k; j++ {
				val1 := lu.L.Get(k, j)
				lu.L.Set(k, j, lu.L.Get(maxRow, j))
				lu.L.Set(maxRow, j, val1)
			}
			lu.updatePermutation(k, maxRow)
		}
		// 高斯消元
		pivotVal := lu.U.Get(k, k)
		for i := k + 1; i < lu.n; i++ {
			factor := lu.U.Get(i, k) / pivotVal
			lu.L.Set(i, k, factor)
			lu.U.Set(i, k, 0)
			for j := k + 1; j < lu.n; j++ {
				lu.U.Set(i, j, lu.U.Get(i, j)-factor*lu.U.Get(k, j))
			}
		}
	}
	lu.ok = true
	return nil
}

// SolveReuse 利用分解结果求解Ax=b（重用预分配向量）
//
//  1. 前向替换：求解Ly = Pb
//  2. 后向替换：求解Ux = y
func (lu *luDense[T]) SolveReuse(b, x Vector[T]) error {
	if !lu.ok {
		return errors.New("lu dense solve: matrix not decomposed")
	}
	if b.Length() != lu.n || x.Length() != lu.n {
		return errors.New("lu dense solve: vector dimension mismatch")
	}
	lu.Y.Zero()
	for i := 0; i < lu.n; i++ {
		sum := b.Get(lu.P[i])
		for j := 0; j < i; j++ {
			sum -= lu.L.Get(i, j) * lu.Y.Get(j)
		}
		lu.Y.Set(i, sum)
	}
	x.Zero()
	for i := lu.n - 1; i >= 0; i-- {
		sum := lu.Y.Get(i)
		for j := i + 1; j < lu.n; j++ {
			sum -= lu.U.Get(i, j) * x.Get(j)
		}
		diagVal := lu.U.Get(i, i)
		if Abs(diagVal) < Epsilon {
			return fmt.Errorf("lu dense solve: %w (U diagonal %d is zero)", ErrSingular, i)
		}
		x.Set(i, sum/diagVal)
	}
	return nil
}

// Inverse 逐列求解 A·X = I 得到逆矩阵
func (lu *luDense[T]) Inverse(out Matrix[T]) error {
	if out.Rows() != lu.n || out.Cols() != lu.n {
		return errors.New("lu dense inverse: matrix dimension mismatch")
	}
	e := NewDenseVector[T](lu.n)
	x := NewDenseVector[T](lu.n)
	for j := 0; j < lu.n; j++ {
		e.Zero()
		e.Set(j, 1)
		if err := lu.SolveReuse(e, x); err != nil {
			return err
		}
		for i := 0; i < lu.n; i++ {
			out.Set(i, j, x.Get(i))
		}
	}
	return nil
}

// Det 行列式 = (-1)^swaps * prod(U[i][i])
func (lu *luDense[T]) Det() T {
	if !lu.ok {
		return 0
	}
	var det T = 1
	for i := 0; i < lu.n; i++ {
		det *= lu.U.Get(i, i)
	}
	if lu.swaps%2 == 1 {
		det = -det
	}
	return det
}
