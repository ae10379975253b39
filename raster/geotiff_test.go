package raster

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"chartiler/proj"
)

type testEntry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

type testGeo struct {
	tiepoint []float64
	scale    []float64
	keys     []uint16 // 不含目录头, 每 4 个一组
	doubles  []float64
}

func shortsLE(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[i*2:], x)
	}
	return b
}

func longLE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func doublesLE(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(x))
	}
	return b
}

// writeGeoTIFF 手工编码未压缩、单条带的 GeoTIFF
func writeGeoTIFF(t *testing.T, path string, img image.Image, geo testGeo) {
	t.Helper()
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var (
		pix         []byte
		spp         uint16
		photometric uint16
		bits        []uint16
		entries     []testEntry
	)
	switch m := img.(type) {
	case *image.Paletted:
		spp, photometric, bits = 1, 3, []uint16{8}
		for y := 0; y < h; y++ {
			pix = append(pix, m.Pix[y*m.Stride:y*m.Stride+w]...)
		}
		cmap := make([]uint16, 768)
		for i, c := range m.Palette {
			r, g, bl, _ := c.RGBA()
			cmap[i], cmap[256+i], cmap[512+i] = uint16(r), uint16(g), uint16(bl)
		}
		entries = append(entries, testEntry{320, 3, 768, shortsLE(cmap...)})
	case *image.Gray:
		spp, photometric, bits = 1, 1, []uint16{8}
		for y := 0; y < h; y++ {
			pix = append(pix, m.Pix[y*m.Stride:y*m.Stride+w]...)
		}
	default:
		spp, photometric, bits = 3, 2, []uint16{8, 8, 8}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				pix = append(pix, c.R, c.G, c.B)
			}
		}
	}

	entries = append(entries,
		testEntry{256, 4, 1, longLE(uint32(w))},
		testEntry{257, 4, 1, longLE(uint32(h))},
		testEntry{258, 3, uint32(len(bits)), shortsLE(bits...)},
		testEntry{259, 3, 1, shortsLE(1)},
		testEntry{262, 3, 1, shortsLE(photometric)},
		testEntry{273, 4, 1, nil}, // 像素偏移稍后回填
		testEntry{277, 3, 1, shortsLE(spp)},
		testEntry{278, 4, 1, longLE(uint32(h))},
		testEntry{279, 4, 1, longLE(uint32(len(pix)))},
	)
	if geo.scale != nil {
		entries = append(entries, testEntry{tagModelPixelScale, 12, uint32(len(geo.scale)), doublesLE(geo.scale...)})
	}
	if geo.tiepoint != nil {
		entries = append(entries, testEntry{tagModelTiepoint, 12, uint32(len(geo.tiepoint)), doublesLE(geo.tiepoint...)})
	}
	if geo.keys != nil {
		dir := append([]uint16{1, 1, 0, uint16(len(geo.keys) / 4)}, geo.keys...)
		entries = append(entries, testEntry{tagGeoKeyDirectory, 3, uint32(len(dir)), shortsLE(dir...)})
	}
	if geo.doubles != nil {
		entries = append(entries, testEntry{tagGeoDoubleParams, 12, uint32(len(geo.doubles)), doublesLE(geo.doubles...)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdSize := 2 + 12*len(entries) + 4
	extOff := uint32(8 + ifdSize)
	var ext bytes.Buffer
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			offsets[i] = extOff + uint32(ext.Len())
			ext.Write(e.data)
			if ext.Len()%2 == 1 {
				ext.WriteByte(0)
			}
		}
	}
	pixOff := extOff + uint32(ext.Len())

	var out bytes.Buffer
	out.WriteString("II")
	out.Write(shortsLE(42))
	out.Write(longLE(8))
	out.Write(shortsLE(uint16(len(entries))))
	for i, e := range entries {
		out.Write(shortsLE(e.tag, e.typ))
		out.Write(longLE(e.count))
		switch {
		case e.tag == 273:
			out.Write(longLE(pixOff))
		case len(e.data) > 4:
			out.Write(longLE(offsets[i]))
		default:
			v := make([]byte, 4)
			copy(v, e.data)
			out.Write(v)
		}
	}
	out.Write(longLE(0))
	out.Write(ext.Bytes())
	out.Write(pix)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testPalette() color.Palette {
	return color.Palette{
		color.NRGBA{0, 0, 0, 0},
		color.NRGBA{255, 0, 0, 255},
		color.NRGBA{0, 255, 0, 255},
		color.NRGBA{0, 0, 0, 255},
	}
}

// faaSectionalKeys 与 FAA 分区航图一致的自定义兰伯特 GeoKey
func faaSectionalKeys() testGeo {
	return testGeo{
		tiepoint: []float64{0, 0, 0, -360000, 220000, 0},
		scale:    []float64{42.3, 42.3, 0},
		keys: []uint16{
			keyModelType, 0, 1, modelTypeProjected,
			keyRasterType, 0, 1, 1,
			keyGeographicType, 0, 1, 4269,
			keyProjectedCSType, 0, 1, userDefined,
			keyProjCoordTrans, 0, 1, ctLambertConfConic2S,
			keyProjLinearUnits, 0, 1, 9001,
			keyStdParallel1, tagGeoDoubleParams, 1, 0,
			keyStdParallel2, tagGeoDoubleParams, 1, 1,
			keyFalseOriginLong, tagGeoDoubleParams, 1, 2,
			keyFalseOriginLat, tagGeoDoubleParams, 1, 3,
			keyFalseOriginEast, tagGeoDoubleParams, 1, 4,
			keyFalseOriginNorth, tagGeoDoubleParams, 1, 5,
		},
		doubles: []float64{45.666666666666664, 48.333333333333336, -123, 47, 0, 0},
	}
}

func TestOpenPalettedLCC(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 4, 3), testPalette())
	img.SetColorIndex(1, 1, 1)
	img.SetColorIndex(2, 1, 2)
	path := filepath.Join(t.TempDir(), "sectional.tif")
	writeGeoTIFF(t, path, img, faaSectionalKeys())

	ds, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ds.Paletted() || ds.Bands != 1 {
		t.Fatalf("paletted=%v bands=%d, want paletted single band", ds.Paletted(), ds.Bands)
	}
	if ds.Width != 4 || ds.Height != 3 {
		t.Errorf("size %dx%d", ds.Width, ds.Height)
	}
	want := GeoTransform{-360000, 42.3, 0, 220000, 0, -42.3}
	if ds.Transform != want {
		t.Errorf("transform %v, want %v", ds.Transform, want)
	}
	lcc, ok := ds.CRS.(*proj.LambertConformalConic)
	if !ok {
		t.Fatalf("crs %T, want LCC", ds.CRS)
	}
	if lcc.Lon0 != -123 || lcc.Lat0 != 47 || lcc.Ellipsoid != proj.GRS80 {
		t.Errorf("lcc params %+v", lcc)
	}
	b := ds.GeoBounds()
	if b.Min[0] < -129 || b.Max[0] > -117 || b.Min[1] < 47 || b.Max[1] > 50 {
		t.Errorf("geo bounds %v not near Seattle", b)
	}
}

func TestOpenRGBGeographic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 5))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	path := filepath.Join(t.TempDir(), "rgb.tif")
	writeGeoTIFF(t, path, img, testGeo{
		tiepoint: []float64{0, 0, 0, -120, 45, 0},
		scale:    []float64{0.5, 0.5, 0},
		keys: []uint16{
			keyModelType, 0, 1, modelTypeGeographic,
			keyGeographicType, 0, 1, 4326,
		},
	})
	ds, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Paletted() || ds.Bands != 3 {
		t.Errorf("paletted=%v bands=%d", ds.Paletted(), ds.Bands)
	}
	if ds.CRS.String() != "EPSG:4326" {
		t.Errorf("crs %s", ds.CRS)
	}
	b := ds.GeoBounds()
	if b.Min[0] != -120 || b.Max[0] != -117.5 || b.Min[1] != 42.5 || b.Max[1] != 45 {
		t.Errorf("bounds %v", b)
	}
}

func TestOpenPixelIsPoint(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	path := filepath.Join(t.TempDir(), "point.tif")
	writeGeoTIFF(t, path, img, testGeo{
		tiepoint: []float64{0, 0, 0, 100, 200, 0},
		scale:    []float64{10, 10, 0},
		keys: []uint16{
			keyModelType, 0, 1, modelTypeProjected,
			keyRasterType, 0, 1, rasterPixelIsPoint,
			keyProjectedCSType, 0, 1, 3857,
		},
	})
	ds, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Transform[0] != 95 || ds.Transform[3] != 205 {
		t.Errorf("pixel-is-point origin not shifted: %v", ds.Transform)
	}
	if ds.Bands != 1 {
		t.Errorf("bands %d", ds.Bands)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.tif")
	if err := os.WriteFile(junk, []byte("definitely not a tiff"), 0o644); err != nil {
		t.Fatal(err)
	}
	noGeo := filepath.Join(dir, "plain.tif")
	writeGeoTIFF(t, noGeo, image.NewGray(image.Rect(0, 0, 2, 2)), testGeo{})

	for _, p := range []string{filepath.Join(dir, "missing.tif"), junk, noGeo} {
		if _, err := Open(p); err == nil {
			t.Errorf("%s: expected error", filepath.Base(p))
		}
	}
}

func TestGeoTransformInvert(t *testing.T) {
	gt := GeoTransform{-360000, 42.3, 0.5, 220000, -0.25, -42.3}
	inv, err := gt.Invert()
	if err != nil {
		t.Fatal(err)
	}
	x, y := gt.Apply(123.5, 77.25)
	px, py := inv.Apply(x, y)
	if math.Abs(px-123.5) > 1e-9 || math.Abs(py-77.25) > 1e-9 {
		t.Errorf("inverse gave (%v, %v)", px, py)
	}
	if _, err := (GeoTransform{0, 0, 0, 0, 0, 0}).Invert(); err == nil {
		t.Error("degenerate transform must not invert")
	}
}
