// Package raster 读取带地理参考的航图栅格 (GeoTIFF), 并把调色板栅格规整为 RGBA 视图.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"

	"chartiler/proj"
)

// GeoTransform GDAL 顺序的仿射变换:
// x = gt[0] + px*gt[1] + py*gt[2], y = gt[3] + px*gt[4] + py*gt[5]
type GeoTransform [6]float64

// Apply 像素坐标 -> 投影坐标
func (gt GeoTransform) Apply(px, py float64) (float64, float64) {
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

// Invert 求逆变换, 用于投影坐标 -> 像素坐标
func (gt GeoTransform) Invert() (GeoTransform, error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if math.Abs(det) < 1e-15 {
		return GeoTransform{}, errors.New("geotransform is not invertible")
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(-gt[1]*gt[3] + gt[0]*gt[4]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, nil
}

// Dataset 源栅格, 一次转换内只读
type Dataset struct {
	Path      string
	Image     image.Image
	Width     int
	Height    int
	Transform GeoTransform
	CRS       proj.CRS
	// Bands 数据波段数: 1 灰度/调色板, 3 RGB, 4 RGBA
	Bands int
	// Palette 第一波段的颜色表, 非调色板栅格为 nil
	Palette color.Palette
}

// New 由内存影像构造数据集
func New(img image.Image, gt GeoTransform, crs proj.CRS) *Dataset {
	b := img.Bounds()
	ds := &Dataset{
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Transform: gt,
		CRS:       crs,
		Bands:     bandsOf(img),
	}
	if p, ok := img.(*image.Paletted); ok {
		ds.Palette = p.Palette
	}
	return ds
}

func bandsOf(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.Paletted:
		return 1
	case *image.YCbCr, *image.CMYK:
		return 3
	}
	return 4
}

// Open 打开 GeoTIFF, 解析地理参考并解码像素
func Open(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tags, err := readTags(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	gk, err := tags.geoKeys()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	gt, err := tags.geoTransform(gk)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	crs, err := gk.crs()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", path, err)
	}

	ds := New(img, gt, crs)
	ds.Path = path
	if tags.uint(tagPhotometric, 1) != photometricPalette {
		ds.Bands = int(tags.uint(tagSamplesPerPixel, uint32(ds.Bands)))
	}
	if ds.Bands == 2 {
		// 灰度 + alpha
		ds.Bands = 4
	}
	return ds, nil
}

// Bounds 数据集在自身坐标系下的外包范围
func (d *Dataset) Bounds() (minx, miny, maxx, maxy float64) {
	minx, miny = math.Inf(1), math.Inf(1)
	maxx, maxy = math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {float64(d.Width), 0}, {0, float64(d.Height)}, {float64(d.Width), float64(d.Height)}} {
		x, y := d.Transform.Apply(c[0], c[1])
		minx, maxx = math.Min(minx, x), math.Max(maxx, x)
		miny, maxy = math.Min(miny, y), math.Max(maxy, y)
	}
	return
}

// GeoBounds 数据集的 WGS84 经纬度范围
func (d *Dataset) GeoBounds() orb.Bound {
	minx, miny, maxx, maxy := d.Bounds()
	return proj.TransformBounds(d.CRS, minx, miny, maxx, maxy)
}

// Paletted 第一波段是否带颜色表
func (d *Dataset) Paletted() bool {
	return d.Palette != nil
}
