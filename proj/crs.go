// Package proj 提供航图栅格用到的坐标参考系: 地理坐标、Web 墨卡托和兰伯特等角圆锥投影.
package proj

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// CRS 坐标参考系, 负责投影坐标与 WGS84 经纬度之间的转换
type CRS interface {
	// ToLonLat 投影坐标 -> 经纬度(度)
	ToLonLat(x, y float64) (lon, lat float64)
	// FromLonLat 经纬度(度) -> 投影坐标
	FromLonLat(lon, lat float64) (x, y float64)
	String() string
}

// Geographic 经纬度坐标系, 单位为度
type Geographic struct {
	EPSG int
}

func (g Geographic) ToLonLat(x, y float64) (float64, float64) { return x, y }

func (g Geographic) FromLonLat(lon, lat float64) (float64, float64) { return lon, lat }

func (g Geographic) String() string {
	if g.EPSG == 0 {
		return "EPSG:4326"
	}
	return fmt.Sprintf("EPSG:%d", g.EPSG)
}

// WebMercator 球面墨卡托 (EPSG:3857)
type WebMercator struct{}

func (WebMercator) ToLonLat(x, y float64) (float64, float64) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p[0], p[1]
}

func (WebMercator) FromLonLat(lon, lat float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p[0], p[1]
}

func (WebMercator) String() string { return "EPSG:3857" }

// FromEPSG 根据 EPSG 编码构造坐标系
func FromEPSG(code int) (CRS, error) {
	switch code {
	case 4326, 4269, 4267, 4258:
		return Geographic{EPSG: code}, nil
	case 3857, 3785, 900913, 102100:
		return WebMercator{}, nil
	}
	return nil, fmt.Errorf("unsupported EPSG code %d", code)
}

// EarthCircumference Web 墨卡托赤道周长(米)
const EarthCircumference = 2 * math.Pi * 6378137

// Resolution 指定级别下每像素对应的墨卡托米数
func Resolution(zoom int, tileSize int) float64 {
	return EarthCircumference / (float64(tileSize) * math.Exp2(float64(zoom)))
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
