package raster

import (
	"errors"
	"image"
	"image/color"
)

// ExpandedView 调色板栅格的 RGBA 虚拟视图.
// 不复制像素, 读取时按颜色表展开; 展开后四个分量全为 0 的像素视为无数据.
type ExpandedView struct {
	src *image.Paletted
	lut []color.NRGBA
}

// NewExpandedView 按颜色表构造虚拟视图
func NewExpandedView(src *image.Paletted) (*ExpandedView, error) {
	if src == nil || len(src.Palette) == 0 {
		return nil, errors.New("raster has no usable color table")
	}
	if len(src.Palette) > 256 {
		return nil, errors.New("color table has more than 256 entries")
	}
	lut := make([]color.NRGBA, len(src.Palette))
	for i, c := range src.Palette {
		if c == nil {
			return nil, errors.New("color table has empty entries")
		}
		lut[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
	}
	return &ExpandedView{src: src, lut: lut}, nil
}

func (v *ExpandedView) ColorModel() color.Model { return color.NRGBAModel }

func (v *ExpandedView) Bounds() image.Rectangle { return v.src.Rect }

func (v *ExpandedView) At(x, y int) color.Color { return v.NRGBAAt(x, y) }

// NRGBAAt 读取单个像素的展开值
func (v *ExpandedView) NRGBAAt(x, y int) color.NRGBA {
	if !(image.Point{x, y}.In(v.src.Rect)) {
		return color.NRGBA{}
	}
	i := v.src.Pix[v.src.PixOffset(x, y)]
	if int(i) >= len(v.lut) {
		return color.NRGBA{}
	}
	return v.lut[i]
}

// Normalize 保证返回的数据集可按 RGB/RGBA 读取.
// 调色板栅格返回 4 波段虚拟视图; 展开失败时返回原数据集和错误, 由调用方按非调色板处理.
func Normalize(ds *Dataset) (*Dataset, error) {
	if !ds.Paletted() {
		return ds, nil
	}
	p, ok := ds.Image.(*image.Paletted)
	if !ok {
		return ds, errors.New("color table present but pixels are not indexed")
	}
	view, err := NewExpandedView(p)
	if err != nil {
		return ds, err
	}
	out := *ds
	out.Image = view
	out.Bands = 4
	out.Palette = nil
	return &out, nil
}
