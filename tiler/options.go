package tiler

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"

	"chartiler/chart"
	"chartiler/prepared"
)

// Options 转换参数
type Options struct {
	MinZoom  int
	MaxZoom  int
	TileSize int
	// AlphaThreshold 掩膜最大值不超过该值的瓦片被丢弃
	AlphaThreshold uint8
	JPEGQuality    int
	Workers        int
	// BufSize 结果队列长度
	BufSize        int
	CommitInterval int
	// OutputDir 记录未指定输出路径时使用
	OutputDir    string
	TempDir      string
	Codec        prepared.Codec
	MaxOverviews int
	// CacheBlocks 每个读取器缓存的块数
	CacheBlocks int
	// MaxFailures 报告中保留的失败瓦片数
	MaxFailures int

	Logger logrus.FieldLogger
	// Start 开始渲染前调用, jobs 为任务总数
	Start func(rec chart.Record, jobs int)
	// Progress 每收到一个结果调用一次
	Progress func(done, total int)
	// TileFailed 单个瓦片失败时调用
	TileFailed func(rec chart.Record, job Job, err error)
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		MinZoom:        6,
		MaxZoom:        12,
		TileSize:       512,
		AlphaThreshold: 1,
		JPEGQuality:    75,
		Workers:        max(2, runtime.NumCPU()-2),
		BufSize:        64,
		CommitInterval: 500,
		OutputDir:      "output",
		TempDir:        os.TempDir(),
		Codec:          prepared.Zstd,
		MaxOverviews:   5,
		CacheBlocks:    64,
		MaxFailures:    20,
	}
}

// maxZoomLevel 瓦片行列号仍可用 uint32 表示
const maxZoomLevel = 24

func (o *Options) validate() error {
	if o.MinZoom < 0 || o.MaxZoom > maxZoomLevel || o.MinZoom > o.MaxZoom {
		return fmt.Errorf("invalid zoom range %d..%d", o.MinZoom, o.MaxZoom)
	}
	if o.TileSize <= 0 {
		return fmt.Errorf("invalid tile size %d", o.TileSize)
	}
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality %d", o.JPEGQuality)
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.BufSize <= 0 {
		o.BufSize = o.Workers
	}
	if o.CommitInterval <= 0 {
		o.CommitInterval = 500
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.MaxOverviews < 0 {
		o.MaxOverviews = 0
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return nil
}
