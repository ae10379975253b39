package main

import (
	"fmt"

	"chartiler/chart"
)

func main() {
	Execute()
}

// setup 命令执行前的初始化
func setup() error {
	// 开始安全退出任务
	InitSafeExit()
	// 初始化配置
	if err := InitConf(configPath); err != nil {
		return err
	}
	// 初始化日志
	InitLog()
	// 初始化失败记录
	return InitLedger()
}

// runTask 转换航图, 有失败或被中断时返回错误
func runTask(records []chart.Record) error {
	task, err := NewTask(records, conf.Output.Directory)
	if err != nil {
		return err
	}
	// 注册安全退出
	SafeExitInst.Register(task.AbortFun)

	failed := task.Run()
	if err := SafeExitInst.Context().Err(); err != nil {
		return fmt.Errorf("task %s interrupted", task.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d charts failed", failed, len(records))
	}
	return nil
}
