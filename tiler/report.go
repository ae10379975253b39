package tiler

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"chartiler/mbtiles"
)

// ZoomStats 单个级别的统计
type ZoomStats struct {
	Jobs    int
	Written int
	Dropped int
	Alpha   int
	Failed  int
	Bytes   int64
}

// AvgSize 平均瓦片字节数
func (zs *ZoomStats) AvgSize() int64 {
	if zs.Written == 0 {
		return 0
	}
	return zs.Bytes / int64(zs.Written)
}

// TileFailure 失败瓦片及原因
type TileFailure struct {
	Tile   maptile.Tile
	Reason string
}

// Report 一次转换的统计
type Report struct {
	ID     string
	Chart  string
	Output string
	Sample SampleStats
	Jobs   int
	Zooms  map[int]*ZoomStats
	// Failures 保留的前若干个失败瓦片, FailedTiles 为总数
	Failures    []TileFailure
	FailedTiles int
	Format      string
	// MinZoom, MaxZoom 校验后瓦片库中实际的级别范围
	MinZoom      int
	MaxZoom      int
	PreparedSize int64
	Elapsed      time.Duration
}

func newReport(id, name, output string) *Report {
	return &Report{ID: id, Chart: name, Output: output, Zooms: make(map[int]*ZoomStats)}
}

func (r *Report) zoom(z int) *ZoomStats {
	zs, ok := r.Zooms[z]
	if !ok {
		zs = &ZoomStats{}
		r.Zooms[z] = zs
	}
	return zs
}

func (r *Report) add(res Result, keep int) {
	zs := r.zoom(int(res.Job.Tile.Z))
	switch res.Status {
	case Rendered:
		zs.Written++
		zs.Bytes += int64(len(res.Data))
		if res.HasAlpha {
			zs.Alpha++
		}
	case Dropped:
		zs.Dropped++
	case Failed:
		zs.Failed++
		r.FailedTiles++
		if len(r.Failures) < keep {
			r.Failures = append(r.Failures, TileFailure{Tile: res.Job.Tile, Reason: res.Err.Error()})
		}
	}
}

// Written 写入的瓦片总数
func (r *Report) Written() int {
	n := 0
	for _, zs := range r.Zooms {
		n += zs.Written
	}
	return n
}

// Bytes 写入的瓦片总字节数
func (r *Report) Bytes() int64 {
	var n int64
	for _, zs := range r.Zooms {
		n += zs.Bytes
	}
	return n
}

// format 全部不透明为 jpg, 全部带透明为 png, 否则 mixed
func (r *Report) format() string {
	written, alpha := 0, 0
	for _, zs := range r.Zooms {
		written += zs.Written
		alpha += zs.Alpha
	}
	switch {
	case alpha == 0:
		return mbtiles.JPG
	case alpha == written:
		return mbtiles.PNG
	}
	return mbtiles.Mixed
}

// Levels 有统计的级别, 升序
func (r *Report) Levels() []int {
	zs := make([]int, 0, len(r.Zooms))
	for z := range r.Zooms {
		zs = append(zs, z)
	}
	sort.Ints(zs)
	return zs
}

// Log 输出转换摘要
func (r *Report) Log(log logrus.FieldLogger) {
	log = log.WithField("chart", r.Chart)
	for _, z := range r.Levels() {
		zs := r.Zooms[z]
		log.WithField("zoom", z).Infof("jobs %d, written %d (alpha %d), dropped %d, failed %d, %s, avg %s",
			zs.Jobs, zs.Written, zs.Alpha, zs.Dropped, zs.Failed,
			humanize.Bytes(uint64(zs.Bytes)), humanize.Bytes(uint64(zs.AvgSize())))
	}
	for _, f := range r.Failures {
		log.WithField("tile", f.Tile).Warnf("tile failed: %s", f.Reason)
	}
	log.Infof("%s written, %s tiles in zoom %d..%d, format %s, prepared raster %s, %.3fs",
		r.Output, humanize.Comma(int64(r.Written())), r.MinZoom, r.MaxZoom, r.Format,
		humanize.Bytes(uint64(r.PreparedSize)), r.Elapsed.Seconds())
}
