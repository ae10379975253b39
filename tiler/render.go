package tiler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"chartiler/prepared"
)

// workerState 每个工作协程私有的状态, 读取器在第一次渲染时打开
type workerState struct {
	id          int
	raster      *prepared.Raster
	cacheBlocks int
	quality     int
	reader      *prepared.Reader
	png         png.Encoder
	buf         bytes.Buffer
	log         logrus.FieldLogger
}

func newWorkerState(id int, pr *prepared.Raster, opts *Options, log logrus.FieldLogger) *workerState {
	return &workerState{
		id:          id,
		raster:      pr,
		cacheBlocks: opts.CacheBlocks,
		quality:     opts.JPEGQuality,
		png:         png.Encoder{CompressionLevel: png.BestCompression},
		log:         log.WithField("worker", id),
	}
}

func (w *workerState) close() {
	if w.reader != nil {
		w.reader.Close()
		w.reader = nil
	}
}

// render 读取并编码一个瓦片, 错误只体现在结果中
func (w *workerState) render(job Job) Result {
	if w.reader == nil {
		rd, err := w.raster.NewReader(w.cacheBlocks)
		if err != nil {
			return Result{Job: job, Status: Failed, Err: fmt.Errorf("%w: open reader: %w", ErrTileDecode, err)}
		}
		w.reader = rd
		w.log.Debug("reader opened")
	}
	td, err := w.reader.Tile(job.Tile, job.Size)
	if err != nil {
		return Result{Job: job, Status: Failed, Err: fmt.Errorf("%w: %w", ErrTileDecode, err)}
	}
	lo, hi := td.MaskRange()
	if hi <= job.Threshold {
		return Result{Job: job, Status: Dropped}
	}
	hasAlpha := lo < 0xff
	data, err := w.encode(td, hasAlpha)
	if err != nil {
		return Result{Job: job, Status: Failed, Err: fmt.Errorf("%w: encode: %w", ErrTileDecode, err)}
	}
	return Result{Job: job, Status: Rendered, Data: data, HasAlpha: hasAlpha}
}

// encode 有透明像素时输出 PNG (RGBA), 否则输出 JPEG (RGB). 单波段复制为三通道.
func (w *workerState) encode(td *prepared.TileData, hasAlpha bool) ([]byte, error) {
	rect := image.Rect(0, 0, td.Size, td.Size)
	var img image.Image
	var pix []byte
	if hasAlpha {
		m := image.NewNRGBA(rect)
		img, pix = m, m.Pix
	} else {
		m := image.NewRGBA(rect)
		img, pix = m, m.Pix
	}
	n := td.Size * td.Size
	for i := 0; i < n; i++ {
		o := i * 4
		if td.Bands == 1 {
			v := td.Pix[i]
			pix[o], pix[o+1], pix[o+2] = v, v, v
		} else {
			copy(pix[o:o+3], td.Pix[i*3:i*3+3])
		}
		if hasAlpha {
			pix[o+3] = td.Mask[i]
		} else {
			pix[o+3] = 0xff
		}
	}

	w.buf.Reset()
	var err error
	if hasAlpha {
		err = w.png.Encode(&w.buf, img)
	} else {
		err = jpeg.Encode(&w.buf, img, &jpeg.Options{Quality: w.quality})
	}
	if err != nil {
		return nil, err
	}
	return bytes.Clone(w.buf.Bytes()), nil
}

// renderAll 用固定数量的工作协程渲染全部任务, 结果在调用方协程中按到达顺序交给 handle.
// handle 返回错误或 ctx 取消时停止派发并等待工作协程退出.
func renderAll(ctx context.Context, pr *prepared.Raster, jobs []Job, opts *Options, log logrus.FieldLogger, handle func(Result) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	feed := make(chan Job, opts.Workers)
	results := make(chan Result, opts.BufSize)

	g.Go(func() error {
		defer close(feed)
		for _, j := range jobs {
			select {
			case feed <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		ws := newWorkerState(i, pr, opts, log)
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			defer ws.close()
			for j := range feed {
				r := ws.render(j)
				select {
				case results <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var herr error
	for r := range results {
		if herr != nil {
			continue
		}
		if herr = handle(r); herr != nil {
			cancel()
		}
	}
	err := g.Wait()
	if herr != nil {
		return herr
	}
	return err
}
