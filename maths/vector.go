package maths

import (
	"fmt"
	"strings"
)

// denseVector 稠密向量实现
type denseVector[T Number] struct {
	data []T
}

// NewDenseVector 创建新的稠密向量
func NewDenseVector[T Number](length int) Vector[T] {
	return &denseVector[T]{data: make([]T, length)}
}

// Zero 清空向量，重置为零向量
func (v *denseVector[T]) Zero() {
	clear(v.data)
}

// Get 获取指定位置的元素值
func (v *denseVector[T]) Get(index int) T { return v.data[index] }

// Set 设置向量元素值
func (v *denseVector[T]) Set(index int, value T) { v.data[index] = value }

// Length 返回向量长度
func (v *denseVector[T]) Length() int { return len(v.data) }

// String 返回向量的字符串表示
func (v *denseVector[T]) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, value := range v.data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprint(&sb, value)
	}
	sb.WriteByte(']')
	return sb.String()
}
