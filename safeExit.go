package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

func InitSafeExit() {
	SafeExitInst = NewSafeExit()
	go SafeExitInst.ListenSignal()
}

// SafeExit 收到信号时取消正在进行的转换; 再次收到信号则执行清理后立即退出
type SafeExit struct {
	ctx    context.Context
	cancel context.CancelFunc
	funcs  []func()
	mu     sync.Mutex
	once   sync.Once
}

func NewSafeExit() *SafeExit {
	ctx, cancel := context.WithCancel(context.Background())
	return &SafeExit{ctx: ctx, cancel: cancel}
}

// Context 收到退出信号后被取消
func (s *SafeExit) Context() context.Context {
	return s.ctx
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Close 按注册的逆序执行清理, 只执行一次
func (s *SafeExit) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i := len(s.funcs) - 1; i >= 0; i-- {
			s.funcs[i]()
		}
	})
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	first := true
	for sig := range sigs {
		if first {
			first = false
			fmt.Fprintf(os.Stderr, "收到系统信号 %s, 正在停止任务, 请稍后\n", sig)
			s.cancel()
			continue
		}
		fmt.Fprintf(os.Stderr, "收到系统信号 %s, 强制退出\n", sig)
		s.Close()
		os.Exit(1)
	}
}
