package utils

import (
	"os"

	"github.com/shirou/gopsutil/process"
)

// MemoryUsage 当前进程的常驻内存（MB）
func MemoryUsage() (float64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / (1 << 20), nil
}
