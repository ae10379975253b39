package prepared

import (
	"fmt"
	"math"
	"os"

	"github.com/golang/groupcache/lru"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

// gridStep 瓦片内精确投影的网格间距(像素), 网格之间双线性插值
const gridStep = 16

// TileData 一个瓦片窗口的读取结果
type TileData struct {
	Size  int
	Bands int
	// Pix 按行交错的数据波段, Size*Size*Bands
	Pix []byte
	// Mask 0 无数据, 255 有效
	Mask []byte
}

// MaskRange 掩膜的最小值和最大值
func (td *TileData) MaskRange() (lo, hi uint8) {
	lo = 0xff
	for _, m := range td.Mask {
		if m < lo {
			lo = m
		}
		if m > hi {
			hi = m
		}
	}
	return lo, hi
}

type blockKey struct {
	level, x, y int
}

// Reader 私有的块读取器: 独立的文件句柄、解码器和块缓存. 非并发安全.
type Reader struct {
	r     *Raster
	f     *os.File
	dec   *decoder
	cache *lru.Cache
}

// NewReader 打开一个读取器, cacheBlocks 为缓存的块数
func (r *Raster) NewReader(cacheBlocks int) (*Reader, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder()
	if err != nil {
		f.Close()
		return nil, err
	}
	if cacheBlocks <= 0 {
		cacheBlocks = 16
	}
	return &Reader{r: r, f: f, dec: dec, cache: lru.New(cacheBlocks)}, nil
}

// Close 释放文件句柄和解码器
func (rd *Reader) Close() error {
	rd.dec.close()
	rd.cache.Clear()
	return rd.f.Close()
}

func (rd *Reader) block(level, bx, by int) ([]byte, error) {
	k := blockKey{level, bx, by}
	if v, ok := rd.cache.Get(k); ok {
		return v.([]byte), nil
	}
	data, err := rd.r.readBlock(rd.f, rd.dec, &rd.r.Levels[level], bx, by)
	if err != nil {
		return nil, fmt.Errorf("block %d/%d/%d: %w", level, bx, by, err)
	}
	rd.cache.Add(k, data)
	return data, nil
}

// Tile 读取 Web 墨卡托瓦片窗口, 最近邻采样. 栅格范围之外的像素掩膜为 0.
func (rd *Reader) Tile(t maptile.Tile, size int) (*TileData, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid tile size %d", size)
	}
	r := rd.r
	b := t.Bound()
	tl := project.WGS84.ToMercator(orb.Point{b.Min[0], b.Max[1]})
	br := project.WGS84.ToMercator(orb.Point{b.Max[0], b.Min[1]})
	resX := (br[0] - tl[0]) / float64(size)
	resY := (tl[1] - br[1]) / float64(size)

	// 瓦片内像素坐标 -> 源栅格全分辨率像素坐标
	toSource := func(u, v float64) (float64, float64) {
		ll := project.Mercator.ToWGS84(orb.Point{tl[0] + u*resX, tl[1] - v*resY})
		x, y := r.CRS.FromLonLat(ll[0], ll[1])
		return r.inverse.Apply(x, y)
	}

	level := rd.level(toSource, float64(size)/2)
	lv := &r.Levels[level]
	scale := math.Exp2(-float64(level))

	n := ceilDiv(size, gridStep) + 1
	node := func(i int) float64 {
		return math.Min(float64(i*gridStep), float64(size))
	}
	gx := make([]float64, n*n)
	gy := make([]float64, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			gx[j*n+i], gy[j*n+i] = toSource(node(i), node(j))
		}
	}

	td := &TileData{
		Size:  size,
		Bands: r.Bands,
		Pix:   make([]byte, size*size*r.Bands),
		Mask:  make([]byte, size*size),
	}
	bs, ch := r.BlockSize, r.Channels()
	var (
		cur    []byte
		curKey = -1
	)
	for py := 0; py < size; py++ {
		v := float64(py) + 0.5
		j := int(v) / gridStep
		fy := (v - node(j)) / (node(j+1) - node(j))
		for px := 0; px < size; px++ {
			u := float64(px) + 0.5
			i := int(u) / gridStep
			fx := (u - node(i)) / (node(i+1) - node(i))
			k := j*n + i
			sx := bilinear(gx[k], gx[k+1], gx[k+n], gx[k+n+1], fx, fy)
			sy := bilinear(gy[k], gy[k+1], gy[k+n], gy[k+n+1], fx, fy)
			lx := math.Floor(sx * scale)
			ly := math.Floor(sy * scale)
			if !(lx >= 0 && ly >= 0 && lx < float64(lv.Width) && ly < float64(lv.Height)) {
				continue
			}
			ix, iy := int(lx), int(ly)
			bx, by := ix/bs, iy/bs
			if key := by*lv.Cols + bx; key != curKey {
				data, err := rd.block(level, bx, by)
				if err != nil {
					return nil, err
				}
				cur, curKey = data, key
			}
			o := ((iy-by*bs)*bs + ix - bx*bs) * ch
			p := py*size + px
			copy(td.Pix[p*r.Bands:(p+1)*r.Bands], cur[o:o+r.Bands])
			td.Mask[p] = cur[o+r.Bands]
		}
	}
	return td, nil
}

// level 按瓦片中心一个输出像素覆盖的源像素数选择概览层
func (rd *Reader) level(toSource func(u, v float64) (float64, float64), c float64) int {
	x0, y0 := toSource(c, c)
	x1, y1 := toSource(c+1, c)
	x2, y2 := toSource(c, c+1)
	d := math.Min(math.Hypot(x1-x0, y1-y0), math.Hypot(x2-x0, y2-y0))
	if math.IsNaN(d) || d <= 1 {
		return 0
	}
	level := int(math.Floor(math.Log2(d) + 1e-9))
	if level > len(rd.r.Levels)-1 {
		level = len(rd.r.Levels) - 1
	}
	return level
}

func bilinear(a, b, c, d, fx, fy float64) float64 {
	top := a + (b-a)*fx
	bottom := c + (d-c)*fx
	return top + (bottom-top)*fy
}
