package tiler

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"

	"chartiler/prepared"
	"chartiler/proj"
)

// TileReader 读取瓦片窗口的数据和掩膜
type TileReader interface {
	Tile(t maptile.Tile, size int) (*prepared.TileData, error)
}

// Coverage 基准级别上有数据的瓦片集合
type Coverage struct {
	Zoom maptile.Zoom
	set  maptile.Set
}

// NewCoverage 由瓦片列表构造, 所有瓦片须在同一级别
func NewCoverage(zoom maptile.Zoom, tiles ...maptile.Tile) Coverage {
	c := Coverage{Zoom: zoom, set: make(maptile.Set, len(tiles))}
	for _, t := range tiles {
		if t.Z == zoom {
			c.set[t] = true
		}
	}
	return c
}

// Len 基准瓦片数
func (c Coverage) Len() int { return len(c.set) }

// Tiles 按列、行排序的基准瓦片
func (c Coverage) Tiles() []maptile.Tile {
	tiles := make([]maptile.Tile, 0, len(c.set))
	for t := range c.set {
		tiles = append(tiles, t)
	}
	sortTiles(tiles)
	return tiles
}

// Contains 瓦片在基准级别上的祖先是否在集合中
func (c Coverage) Contains(t maptile.Tile) bool {
	if t.Z < c.Zoom {
		return false
	}
	d := t.Z - c.Zoom
	return c.set[maptile.New(t.X>>d, t.Y>>d, c.Zoom)]
}

// SampleStats 采样统计
type SampleStats struct {
	Candidates int
	Valid      int
	ReadErrors int
	// Fallback 没有瓦片通过阈值, 退回全部候选瓦片
	Fallback bool
}

// boundEpsilon 边界恰好落在瓦片边上时不计入相邻瓦片
const boundEpsilon = 1e-9

// Candidates 与经纬度范围相交的瓦片, 按列、行排序
func Candidates(b orb.Bound, zoom maptile.Zoom) []maptile.Tile {
	b = proj.ClampMercator(b)
	if b.Max[0]-b.Min[0] > 2*boundEpsilon {
		b.Min[0] += boundEpsilon
		b.Max[0] -= boundEpsilon
	}
	if b.Max[1]-b.Min[1] > 2*boundEpsilon {
		b.Min[1] += boundEpsilon
		b.Max[1] -= boundEpsilon
	}
	set := tilecover.Bound(b, zoom)
	tiles := make([]maptile.Tile, 0, len(set))
	for t := range set {
		tiles = append(tiles, t)
	}
	sortTiles(tiles)
	return tiles
}

// SampleCoverage 在基准级别读取每个候选瓦片, 掩膜最大值超过阈值的视为有数据.
// 读取失败的瓦片跳过; 若没有任何瓦片有效, 则退回全部候选瓦片.
func SampleCoverage(r TileReader, b orb.Bound, zoom maptile.Zoom, size int, threshold uint8) (Coverage, SampleStats) {
	candidates := Candidates(b, zoom)
	stats := SampleStats{Candidates: len(candidates)}
	cov := Coverage{Zoom: zoom, set: make(maptile.Set)}
	for _, t := range candidates {
		td, err := r.Tile(t, size)
		if err != nil {
			stats.ReadErrors++
			continue
		}
		if _, hi := td.MaskRange(); hi > threshold {
			cov.set[t] = true
		}
	}
	stats.Valid = len(cov.set)
	if stats.Valid == 0 && len(candidates) > 0 {
		stats.Fallback = true
		for _, t := range candidates {
			cov.set[t] = true
		}
	}
	return cov, stats
}

// ExpandJobs 把基准瓦片展开到 [minZoom, maxZoom] 的全部子孙瓦片.
// 顺序确定: 级别升序, 基准瓦片按列、行, 子瓦片按列、行.
func ExpandJobs(cov Coverage, minZoom, maxZoom maptile.Zoom, size int, threshold uint8) []Job {
	if minZoom < cov.Zoom {
		minZoom = cov.Zoom
	}
	base := cov.Tiles()
	var jobs []Job
	for z := minZoom; z <= maxZoom; z++ {
		scale := uint32(1) << (z - cov.Zoom)
		for _, b := range base {
			for dx := uint32(0); dx < scale; dx++ {
				for dy := uint32(0); dy < scale; dy++ {
					jobs = append(jobs, Job{
						Tile:      maptile.New(b.X*scale+dx, b.Y*scale+dy, z),
						Size:      size,
						Threshold: threshold,
					})
				}
			}
		}
	}
	return jobs
}

func sortTiles(tiles []maptile.Tile) {
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})
}
