// Package tiler 把带地理参考的航图栅格转换为 Web 墨卡托瓦片金字塔并写入 MBTiles.
package tiler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"chartiler/chart"
	"chartiler/mbtiles"
	"chartiler/prepared"
	"chartiler/proj"
	"chartiler/raster"
)

// Converter 航图转换器. 同一时刻只转换一张航图.
type Converter struct {
	opts Options
	log  logrus.FieldLogger
	open func(path string) (*raster.Dataset, error)
}

// New 校验参数并创建转换器
func New(opts Options) (*Converter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Converter{opts: opts, log: opts.Logger, open: raster.Open}, nil
}

// Options 生效的参数
func (c *Converter) Options() Options { return c.opts }

// Convert 转换一张航图. 任何致命错误都会删除未完成的瓦片库.
func (c *Converter) Convert(ctx context.Context, rec chart.Record) (*Report, error) {
	start := time.Now()
	id, err := shortid.Generate()
	if err != nil {
		id = fmt.Sprintf("%d", start.UnixNano())
	}
	output := rec.Output(c.opts.OutputDir)
	log := c.log.WithFields(logrus.Fields{"chart": rec.Name, "id": id})
	report := newReport(id, rec.Name, output)

	// 上次留下的瓦片库不能代表本次结果
	if err := removeStale(output); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}

	ds, err := c.open(rec.RasterPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputUnreadable, err)
	}
	log.Infof("opened %s: %dx%d, %d bands, %s", rec.RasterPath, ds.Width, ds.Height, ds.Bands, ds.CRS)

	if ds.Paletted() {
		nds, err := raster.Normalize(ds)
		if err != nil {
			log.Warnf("palette expansion failed, reading raw indices: %v", err)
		}
		ds = nds
	}

	bound := proj.ClampMercator(ds.GeoBounds())
	if !(bound.Max[0] > bound.Min[0] && bound.Max[1] > bound.Min[1]) {
		return nil, fmt.Errorf("%w: raster bounds %v cannot be placed on the map", ErrInputUnreadable, bound)
	}

	tmp := filepath.Join(c.opts.TempDir, "chartiler-"+id)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOptimizationFailed, err)
	}
	defer os.RemoveAll(tmp)

	overviews := prepared.OverviewCount(ds.Width, ds.Height, c.opts.TileSize, c.decimation(ds, bound), c.opts.MaxOverviews)
	pr, err := prepared.Build(ctx, ds, filepath.Join(tmp, "prepared.bin"), prepared.Options{
		BlockSize: c.opts.TileSize,
		Codec:     c.opts.Codec,
		Overviews: overviews,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrOptimizationFailed, err)
	}
	defer pr.Remove()
	report.PreparedSize = pr.Size()
	log.Debugf("prepared raster: %d levels, %d bytes, codec %s", len(pr.Levels), pr.Size(), pr.Codec)

	baseZoom := maptile.Zoom(c.opts.MinZoom)
	sampler, err := pr.NewReader(c.opts.CacheBlocks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOptimizationFailed, err)
	}
	cov, stats := SampleCoverage(sampler, bound, baseZoom, c.opts.TileSize, c.opts.AlphaThreshold)
	sampler.Close()
	report.Sample = stats
	if stats.Fallback {
		log.Warnf("no tile at zoom %d passed the alpha threshold, rendering all %d candidates", baseZoom, stats.Candidates)
	}
	log.Infof("zoom %d: %d of %d candidate tiles have data", baseZoom, stats.Valid, stats.Candidates)

	jobs := ExpandJobs(cov, baseZoom, maptile.Zoom(c.opts.MaxZoom), c.opts.TileSize, c.opts.AlphaThreshold)
	report.Jobs = len(jobs)
	for _, j := range jobs {
		report.zoom(int(j.Tile.Z)).Jobs++
	}
	if c.opts.Start != nil {
		c.opts.Start(rec, len(jobs))
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}
	w, err := mbtiles.Create(output, c.opts.CommitInterval)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}

	done := 0
	err = renderAll(ctx, pr, jobs, &c.opts, log, func(res Result) error {
		done++
		report.add(res, c.opts.MaxFailures)
		switch res.Status {
		case Rendered:
			if err := w.PutTile(res.Job.Tile, res.Data); err != nil {
				return err
			}
		case Failed:
			log.WithField("tile", res.Job).Debug(res.Err)
			if c.opts.TileFailed != nil {
				c.opts.TileFailed(rec, res.Job, res.Err)
			}
		}
		if c.opts.Progress != nil {
			c.opts.Progress(done, len(jobs))
		}
		return nil
	})
	if err != nil {
		w.Discard()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}

	if w.Count() == 0 {
		w.Discard()
		return nil, fmt.Errorf("%w: %d jobs, %d failed", ErrEmptyOutput, len(jobs), report.FailedTiles)
	}

	report.Format = report.format()
	name := chart.DisplayName(chart.Stem(output))
	err = w.WriteMetadata(mbtiles.Metadata{
		Name:        name,
		Description: name,
		Format:      report.Format,
		Bounds:      bound,
		MinZoom:     c.opts.MinZoom,
		MaxZoom:     c.opts.MaxZoom,
	})
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		w.Discard()
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}

	v, err := mbtiles.Verify(output)
	if err != nil {
		os.Remove(output)
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}
	if v.Reconciled {
		log.Infof("zoom range reconciled to %d..%d", v.MinZoom, v.MaxZoom)
	}
	report.MinZoom, report.MaxZoom = v.MinZoom, v.MaxZoom
	report.Elapsed = time.Since(start)
	report.Log(log)
	return report, nil
}

// decimation 最小级别的瓦片像素相对源像素的倍数, 决定需要的概览层数
func (c *Converter) decimation(ds *raster.Dataset, b orb.Bound) float64 {
	lo := project.WGS84.ToMercator(b.Min)
	hi := project.WGS84.ToMercator(b.Max)
	srcRes := math.Max((hi[0]-lo[0])/float64(ds.Width), (hi[1]-lo[1])/float64(ds.Height))
	if !(srcRes > 0) {
		return 1
	}
	return proj.Resolution(c.opts.MinZoom, c.opts.TileSize) / srcRes
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Outcome 批量转换中一张航图的结果
type Outcome struct {
	Record chart.Record
	Report *Report
	Err    error
}

// ConvertBatch 依次转换多张航图. 单张失败只记录原因, 不影响其余航图.
func (c *Converter) ConvertBatch(ctx context.Context, records []chart.Record, outDir string) []Outcome {
	out := make([]Outcome, 0, len(records))
	for _, rec := range records {
		if rec.OutputPath == "" {
			rec.OutputPath = filepath.Join(outDir, rec.FileName())
		}
		o := Outcome{Record: rec}
		switch {
		case ctx.Err() != nil:
			o.Err = ctx.Err()
		default:
			if _, err := os.Stat(rec.RasterPath); err != nil {
				o.Err = fmt.Errorf("%w: %w", ErrInputUnreadable, err)
				removeStale(rec.OutputPath)
				break
			}
			o.Report, o.Err = c.Convert(ctx, rec)
		}
		if o.Err != nil {
			c.log.WithField("chart", rec.Name).Errorf("conversion failed: %v", o.Err)
		}
		out = append(out, o)
	}
	return out
}

// FailedOutcomes 失败的航图, 不含被取消的
func FailedOutcomes(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if o.Err != nil && !errors.Is(o.Err, context.Canceled) {
			failed = append(failed, o)
		}
	}
	return failed
}
