package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chartiler/chart"
	"chartiler/tiler"
)

var LedgerInst *Ledger

// InitLedger 打开当天的失败记录文件, 未配置目录时不记录
func InitLedger() error {
	dir := conf.Failures.SaveFilePath
	if dir == "" {
		LedgerInst = &Ledger{}
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure ledger: %w", err)
	}
	LedgerInst = NewLedger(file, conf.Task.Workers)
	SafeExitInst.Register(LedgerInst.Close)

	// 开始记录任务
	go LedgerInst.Start()
	return nil
}

// Ledger 失败瓦片和失败航图的追加记录, 由单独的协程写文件
type Ledger struct {
	file     *os.File
	saveChan chan string
	done     chan struct{}
	mu       sync.Mutex
	isClose  bool
}

func NewLedger(file *os.File, buf int) *Ledger {
	return &Ledger{
		file:     file,
		saveChan: make(chan string, buf),
		done:     make(chan struct{}),
	}
}

func (l *Ledger) send(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || l.isClose {
		return
	}
	l.saveChan <- line
}

// TileFailed 记录失败瓦片: 航图 z-x-y 原因
func (l *Ledger) TileFailed(rec chart.Record, job tiler.Job, err error) {
	l.send(fmt.Sprintf("%s tile %s %v", rec.Name, job, err))
}

// ChartFailed 记录失败航图
func (l *Ledger) ChartFailed(rec chart.Record, err error) {
	l.send(fmt.Sprintf("%s chart %s %v", rec.Name, rec.RasterPath, err))
}

func (l *Ledger) Start() {
	defer close(l.done)
	for line := range l.saveChan {
		l.file.WriteString(time.Now().Format("15:04:05 ") + line + "\n")
	}
}

// Close 写完缓冲中的记录后关闭文件
func (l *Ledger) Close() {
	l.mu.Lock()
	if l.file == nil || l.isClose {
		l.mu.Unlock()
		return
	}
	l.isClose = true
	close(l.saveChan)
	l.mu.Unlock()

	<-l.done
	l.file.Close()
	log.Infof("失败记录已安全关闭")
}
