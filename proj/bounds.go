package proj

import (
	"math"

	"github.com/paulmach/orb"
)

// densifyPoints 每条边额外插值的点数, 与 rasterio transform_bounds 的默认值一致
const densifyPoints = 21

// TransformBounds 将投影坐标范围转换为 WGS84 经纬度范围.
// 投影后的边不再是直线, 因此沿四条边加密取点后再取外包.
func TransformBounds(crs CRS, minx, miny, maxx, maxy float64) orb.Bound {
	b := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
	add := func(x, y float64) {
		lon, lat := crs.ToLonLat(x, y)
		if math.IsNaN(lon) || math.IsNaN(lat) {
			return
		}
		b.Min[0] = math.Min(b.Min[0], lon)
		b.Min[1] = math.Min(b.Min[1], lat)
		b.Max[0] = math.Max(b.Max[0], lon)
		b.Max[1] = math.Max(b.Max[1], lat)
	}
	steps := densifyPoints + 1
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		x := minx + (maxx-minx)*f
		y := miny + (maxy-miny)*f
		add(x, miny)
		add(x, maxy)
		add(minx, y)
		add(maxx, y)
	}
	return b
}

// ClampMercator 将经纬度范围限制在 Web 墨卡托可表示的纬度内
func ClampMercator(b orb.Bound) orb.Bound {
	const maxLat = 85.0511287798066
	b.Min[1] = math.Max(b.Min[1], -maxLat)
	b.Max[1] = math.Min(b.Max[1], maxLat)
	b.Min[0] = math.Max(b.Min[0], -180)
	b.Max[0] = math.Min(b.Max[0], 180)
	return b
}
