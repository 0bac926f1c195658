package maths

import (
	"fmt"
	"strings"
)

// denseMatrix 稠密矩阵实现（行优先，全量存储所有元素）
type denseMatrix[T Number] struct {
	rows, cols int
	data       []T
}

// NewDenseMatrix 创建指定维度的空稠密矩阵
func NewDenseMatrix[T Number](rows, cols int) Matrix[T] {
	return &denseMatrix[T]{rows: rows, cols: cols, data: make([]T, rows*cols)}
}

func (m *denseMatrix[T]) Rows() int      { return m.rows }
func (m *denseMatrix[T]) Cols() int      { return m.cols }
func (m *denseMatrix[T]) IsSquare() bool { return m.rows == m.cols }

// index 行列转一维索引（越界panic）
func (m *denseMatrix[T]) index(row, col int) int {
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		panic(fmt.Sprintf("matrix index out of range: row=%d, col=%d (rows=%d, cols=%d)", row, col, m.rows, m.cols))
	}
	return row*m.cols + col
}

// Get 获取指定行列元素值
func (m *denseMatrix[T]) Get(row, col int) T { return m.data[m.index(row, col)] }

// Set 设置指定行列元素值
func (m *denseMatrix[T]) Set(row, col int, value T) { m.data[m.index(row, col)] = value }

// Increment 增量更新矩阵元素
func (m *denseMatrix[T]) Increment(row, col int, value T) { m.data[m.index(row, col)] += value }

// Zero 清空矩阵为零矩阵
func (m *denseMatrix[T]) Zero() { clear(m.data) }

// Copy 复制自身数据到目标矩阵
func (m *denseMatrix[T]) Copy(a Matrix[T]) {
	if a.Rows() != m.rows || a.Cols() != m.cols {
		panic(fmt.Sprintf("dimension mismatch: source %dx%d, target %dx%d", m.rows, m.cols, a.Rows(), a.Cols()))
	}
	switch target := a.(type) {
	case *denseMatrix[T]:
		copy(target.data, m.data)
	default:
		for i := 0; i < m.rows; i++ {
			for j := 0; j < m.cols; j++ {
				target.Set(i, j, m.data[i*m.cols+j])
			}
		}
	}
}

// SwapRows 交换两行
func (m *denseMatrix[T]) SwapRows(row1, row2 int) {
	if row1 == row2 {
		return
	}
	r1 := m.data[m.index(row1, 0) : m.index(row1, 0)+m.cols]
	r2 := m.data[m.index(row2, 0) : m.index(row2, 0)+m.cols]
	for j := range r1 {
		r1[j], r2[j] = r2[j], r1[j]
	}
}

// MatrixMultiply 矩阵乘法
func (m *denseMatrix[T]) MatrixMultiply(b Matrix[T]) Matrix[T] {
	if b.Rows() != m.cols {
		panic("matrix dimension mismatch")
	}
	out := NewDenseMatrix[T](m.rows, b.Cols())
	for i := 0; i < m.rows; i++ {
		for k := 0; k < m.cols; k++ {
			a := m.data[i*m.cols+k]
			if a == 0 {
				continue
			}
			for j := 0; j < b.Cols(); j++ {
				out.Increment(i, j, a*b.Get(k, j))
			}
		}
	}
	return out
}

// String 格式化字符串输出
func (m *denseMatrix[T]) String() string {
	var sb strings.Builder
	for i := 0; i < m.rows; i++ {
		sb.WriteByte('[')
		for j := 0; j < m.cols; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprint(&sb, m.data[i*m.cols+j])
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}
