package utils

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// ErrInterrupted 写入过程中收到了中断信号
var ErrInterrupted = errors.New("interrupted")

// DelayedInterrupt 执行 fn 期间暂缓 SIGINT/SIGTERM
//
// fn 完成后若收到过信号，返回 ErrInterrupted（与 fn 的错误合并）。
func DelayedInterrupt(fn func() error) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	err := fn()
	select {
	case s := <-sig:
		return errors.Join(err, fmt.Errorf("%w by %v", ErrInterrupted, s))
	default:
		return err
	}
}
