package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"chartiler/chart"
	"chartiler/tiler"
)

// Task 一批航图的转换任务
type Task struct {
	ID        string
	Records   []chart.Record
	OutDir    string
	Bar       *pb.ProgressBar
	converter *tiler.Converter
	mu        sync.Mutex
	current   string
}

// NewTask 创建转换任务, 进度条和失败记录挂到转换器的回调上
func NewTask(records []chart.Record, outDir string) (*Task, error) {
	if len(records) == 0 {
		return nil, errors.New("no charts to convert")
	}
	id, _ := shortid.Generate()
	task := &Task{ID: id, Records: records, OutDir: outDir}

	opts, err := conf.TilerOptions()
	if err != nil {
		return nil, err
	}
	opts.OutputDir = outDir
	opts.Start = task.startChart
	opts.Progress = task.progress
	opts.TileFailed = LedgerInst.TileFailed
	task.converter, err = tiler.New(opts)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (task *Task) startChart(rec chart.Record, jobs int) {
	task.finishBar()
	task.mu.Lock()
	task.current = rec.Output(task.OutDir)
	task.mu.Unlock()

	bar := pb.New(jobs).Prefix(fmt.Sprintf("%s : ", rec.Name))
	bar.SetRefreshRate(time.Second)
	bar.Start()
	task.Bar = bar
}

func (task *Task) progress(done, total int) {
	if task.Bar != nil {
		task.Bar.Increment()
	}
}

func (task *Task) finishBar() {
	if task.Bar != nil {
		task.Bar.Finish()
		task.Bar = nil
	}
}

// AbortFun 强制退出时删除未完成的瓦片库
func (task *Task) AbortFun() {
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.current != "" {
		os.Remove(task.current)
	}
}

// Run 依次转换, 返回失败的航图数
func (task *Task) Run() int {
	start := time.Now()
	log.Infof("task %s: %d charts -> %s", task.ID, len(task.Records), task.OutDir)

	outcomes := task.converter.ConvertBatch(SafeExitInst.Context(), task.Records, task.OutDir)
	task.finishBar()
	task.mu.Lock()
	task.current = ""
	task.mu.Unlock()

	var written, bytes int64
	failed := tiler.FailedOutcomes(outcomes)
	for _, o := range outcomes {
		if o.Report != nil {
			written += int64(o.Report.Written())
			bytes += o.Report.Bytes()
		}
	}
	for _, o := range failed {
		LedgerInst.ChartFailed(o.Record, o.Err)
		log.WithField("chart", o.Record.Name).Errorf("failed: %v", o.Err)
	}
	log.Infof("task %s finished: %d/%d charts, %s tiles, %s, %.3fs",
		task.ID, len(outcomes)-len(failed), len(task.Records),
		humanize.Comma(written), humanize.Bytes(uint64(bytes)), time.Since(start).Seconds())
	return len(failed)
}
