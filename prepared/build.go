// Package prepared 把源栅格整理成按瓦片大小分块、带多级概览的临时栅格,
// 供工作协程各自打开读取器并发随机读.
package prepared

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"chartiler/proj"
	"chartiler/raster"
)

// Options 构建参数
type Options struct {
	// BlockSize 块边长, 与瓦片大小一致
	BlockSize int
	Codec     Codec
	// Overviews 全分辨率之外的概览层数
	Overviews int
}

// Level 金字塔中的一层
type Level struct {
	Width, Height int
	Cols, Rows    int
	blocks        []extent
}

type extent struct {
	off int64
	n   int32
}

func newLevel(w, h, bs int) Level {
	cols, rows := ceilDiv(w, bs), ceilDiv(h, bs)
	return Level{Width: w, Height: h, Cols: cols, Rows: rows, blocks: make([]extent, cols*rows)}
}

// Raster 已构建的分块栅格. 块索引常驻内存, 块数据在 Path 指向的文件中.
type Raster struct {
	Path      string
	BlockSize int
	// Bands 数据波段数 (1 或 3), 另有一个掩膜通道
	Bands     int
	Codec     Codec
	Transform raster.GeoTransform
	CRS       proj.CRS
	Levels    []Level

	inverse raster.GeoTransform
	size    int64
}

// Channels 每像素的通道数
func (r *Raster) Channels() int { return r.Bands + 1 }

// Size 文件字节数
func (r *Raster) Size() int64 { return r.size }

// Remove 删除临时文件
func (r *Raster) Remove() error {
	err := os.Remove(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// OverviewCount 概览层数: 抽稀到 decimation 倍, 或整幅栅格落入一个块时停止, 且不超过 max
func OverviewCount(width, height, blockSize int, decimation float64, max int) int {
	n := 0
	for n < max {
		f := 1 << n
		if float64(f) >= decimation {
			break
		}
		if ceilDiv(width, f) <= blockSize && ceilDiv(height, f) <= blockSize {
			break
		}
		n++
	}
	return n
}

// Build 把数据集写成分块栅格文件. 失败时删除已写入的部分.
func Build(ctx context.Context, ds *raster.Dataset, path string, opts Options) (*Raster, error) {
	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", opts.BlockSize)
	}
	if ds.Width <= 0 || ds.Height <= 0 {
		return nil, errors.New("raster has no pixels")
	}
	inv, err := ds.Transform.Invert()
	if err != nil {
		return nil, err
	}
	bands := 3
	if ds.Bands == 1 {
		bands = 1
	}
	r := &Raster{
		Path:      path,
		BlockSize: opts.BlockSize,
		Bands:     bands,
		Codec:     opts.Codec,
		Transform: ds.Transform,
		CRS:       ds.CRS,
		inverse:   inv,
	}

	enc, err := newEncoder(opts.Codec)
	if err != nil {
		return nil, err
	}
	defer enc.close()
	dec, err := newDecoder()
	if err != nil {
		return nil, err
	}
	defer dec.close()

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	b := &builder{r: r, f: f, enc: enc, dec: dec}
	if err = b.base(ctx, ds); err == nil {
		for i := 0; i < opts.Overviews; i++ {
			last := r.Levels[len(r.Levels)-1]
			if last.Width == 1 && last.Height == 1 {
				break
			}
			if err = b.overview(ctx); err != nil {
				break
			}
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	r.size = b.off
	return r, nil
}

type builder struct {
	r   *Raster
	f   *os.File
	enc *encoder
	dec *decoder
	off int64
}

func (b *builder) write(data []byte) (extent, error) {
	payload := b.enc.encode(data)
	n, err := b.f.Write(payload)
	if err != nil {
		return extent{}, err
	}
	e := extent{off: b.off, n: int32(n)}
	b.off += int64(n)
	return e, nil
}

// base 全分辨率层, 从源影像逐块读取
func (b *builder) base(ctx context.Context, ds *raster.Dataset) error {
	bs := b.r.BlockSize
	lv := newLevel(ds.Width, ds.Height, bs)
	read := pixelReader(ds.Image)
	buf := make([]byte, bs*bs*b.r.Channels())
	for by := 0; by < lv.Rows; by++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for bx := 0; bx < lv.Cols; bx++ {
			fillBlock(ds, read, b.r.Bands, bx*bs, by*bs, bs, buf)
			e, err := b.write(buf)
			if err != nil {
				return err
			}
			lv.blocks[by*lv.Cols+bx] = e
		}
	}
	b.r.Levels = append(b.r.Levels, lv)
	return nil
}

// overview 由上一层 2x2 平均得到新的一层
func (b *builder) overview(ctx context.Context) error {
	prev := b.r.Levels[len(b.r.Levels)-1]
	bs, ch := b.r.BlockSize, b.r.Channels()
	lv := newLevel(ceilDiv(prev.Width, 2), ceilDiv(prev.Height, 2), bs)
	region := make([]byte, 4*bs*bs*ch)
	out := make([]byte, bs*bs*ch)
	row := bs * ch
	for by := 0; by < lv.Rows; by++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for bx := 0; bx < lv.Cols; bx++ {
			for i := range region {
				region[i] = 0
			}
			for j := 0; j < 2; j++ {
				for i := 0; i < 2; i++ {
					sx, sy := 2*bx+i, 2*by+j
					if sx >= prev.Cols || sy >= prev.Rows {
						continue
					}
					data, err := b.r.readBlock(b.f, b.dec, &prev, sx, sy)
					if err != nil {
						return err
					}
					for y := 0; y < bs; y++ {
						dst := ((j*bs+y)*2*bs + i*bs) * ch
						copy(region[dst:dst+row], data[y*row:(y+1)*row])
					}
				}
			}
			downsample(region, bs, ch, out)
			e, err := b.write(out)
			if err != nil {
				return err
			}
			lv.blocks[by*lv.Cols+bx] = e
		}
	}
	b.r.Levels = append(b.r.Levels, lv)
	return nil
}

func (r *Raster) readBlock(f io.ReaderAt, dec *decoder, lv *Level, bx, by int) ([]byte, error) {
	e := lv.blocks[by*lv.Cols+bx]
	buf := make([]byte, e.n)
	if _, err := f.ReadAt(buf, e.off); err != nil {
		return nil, err
	}
	return dec.decode(buf, r.BlockSize*r.BlockSize*r.Channels())
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
