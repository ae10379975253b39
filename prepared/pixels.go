package prepared

import (
	"image"
	"image/color"

	"chartiler/raster"
)

type pixelFunc func(x, y int) (r, g, b, a uint8)

// pixelReader 按影像类型选择读取像素的方式, 避免逐像素走 color.Model
func pixelReader(img image.Image) pixelFunc {
	switch m := img.(type) {
	case *raster.ExpandedView:
		return func(x, y int) (uint8, uint8, uint8, uint8) {
			c := m.NRGBAAt(x, y)
			return c.R, c.G, c.B, c.A
		}
	case *image.NRGBA:
		return func(x, y int) (uint8, uint8, uint8, uint8) {
			i := m.PixOffset(x, y)
			return m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3]
		}
	case *image.RGBA:
		return func(x, y int) (uint8, uint8, uint8, uint8) {
			i := m.PixOffset(x, y)
			r, g, b, a := m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3]
			if a == 0xff || a == 0 {
				return r, g, b, a
			}
			return unpremul(r, a), unpremul(g, a), unpremul(b, a), a
		}
	case *image.Gray:
		return func(x, y int) (uint8, uint8, uint8, uint8) {
			v := m.Pix[m.PixOffset(x, y)]
			return v, v, v, 0xff
		}
	case *image.Paletted:
		// 颜色表不可用时按单波段灰度读取索引值
		return func(x, y int) (uint8, uint8, uint8, uint8) {
			v := m.Pix[m.PixOffset(x, y)]
			return v, v, v, 0xff
		}
	}
	return func(x, y int) (uint8, uint8, uint8, uint8) {
		c := img.At(x, y)
		if c == nil {
			return 0, 0, 0, 0
		}
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		return n.R, n.G, n.B, n.A
	}
}

func unpremul(v, a uint8) uint8 {
	return uint8((uint32(v)*0xff + uint32(a)/2) / uint32(a))
}

// fillBlock 从源影像读取一个块, 输出按 数据波段+掩膜 交错排列; 超出影像的部分掩膜为 0.
// 无 alpha 的栅格以 0 为无数据值: 所有数据波段为 0 的像素掩膜为 0.
func fillBlock(ds *raster.Dataset, read pixelFunc, bands, x0, y0, bs int, dst []byte) {
	for i := range dst {
		dst[i] = 0
	}
	ch := bands + 1
	b := ds.Image.Bounds()
	hasAlpha := ds.Bands == 4
	for y := 0; y < bs; y++ {
		sy := y0 + y
		if sy >= ds.Height {
			break
		}
		row := dst[y*bs*ch:]
		for x := 0; x < bs; x++ {
			sx := x0 + x
			if sx >= ds.Width {
				break
			}
			r, g, bl, a := read(b.Min.X+sx, b.Min.Y+sy)
			o := x * ch
			var mask uint8
			if bands == 1 {
				row[o] = r
				if r != 0 && a != 0 {
					mask = 0xff
				}
			} else {
				row[o], row[o+1], row[o+2] = r, g, bl
				switch {
				case hasAlpha:
					mask = a
				case r|g|bl != 0:
					mask = 0xff
				}
			}
			row[o+bands] = mask
		}
	}
}

// downsample 对 2bs x 2bs 的区域做 2x2 掩膜加权平均, 得到 bs x bs 的块
func downsample(src []byte, bs, ch int, dst []byte) {
	sw := bs * 2
	bands := ch - 1
	for y := 0; y < bs; y++ {
		for x := 0; x < bs; x++ {
			var sums [3]uint32
			var wsum uint32
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					p := src[((2*y+dy)*sw+2*x+dx)*ch:]
					w := uint32(p[bands])
					for c := 0; c < bands; c++ {
						sums[c] += uint32(p[c]) * w
					}
					wsum += w
				}
			}
			o := dst[(y*bs+x)*ch:]
			if wsum == 0 {
				for c := 0; c < ch; c++ {
					o[c] = 0
				}
				continue
			}
			for c := 0; c < bands; c++ {
				o[c] = uint8((sums[c] + wsum/2) / wsum)
			}
			o[bands] = uint8((wsum + 2) / 4)
		}
	}
}
