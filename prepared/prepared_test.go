package prepared

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"chartiler/proj"
	"chartiler/raster"
)

// tileDataset 构造恰好覆盖瓦片 tile 的 Web 墨卡托栅格
func tileDataset(tile maptile.Tile, img image.Image) *raster.Dataset {
	b := tile.Bound()
	tl := project.WGS84.ToMercator(orb.Point{b.Min[0], b.Max[1]})
	br := project.WGS84.ToMercator(orb.Point{b.Max[0], b.Min[1]})
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	gt := raster.GeoTransform{tl[0], (br[0] - tl[0]) / float64(w), 0, tl[1], 0, -(tl[1] - br[1]) / float64(h)}
	return raster.New(img, gt, proj.WebMercator{})
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), uint8(x ^ y), 0xff})
		}
	}
	return img
}

func build(t *testing.T, ds *raster.Dataset, opts Options) *Raster {
	t.Helper()
	r, err := Build(context.Background(), ds, filepath.Join(t.TempDir(), "prepared.bin"), opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { r.Remove() })
	return r
}

func reader(t *testing.T, r *Raster) *Reader {
	t.Helper()
	rd, err := r.NewReader(8)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() { rd.Close() })
	return rd
}

func TestOverviewCount(t *testing.T) {
	tests := []struct {
		w, h, bs   int
		decimation float64
		max, want  int
	}{
		{16000, 12000, 512, 8, 5, 3},
		{16000, 12000, 512, 1000, 5, 5},
		{16000, 12000, 512, 1000, 2, 2},
		{1000, 600, 512, 64, 5, 1},
		{400, 300, 512, 64, 5, 0},
		{16000, 12000, 512, 1, 5, 0},
	}
	for _, tt := range tests {
		if got := OverviewCount(tt.w, tt.h, tt.bs, tt.decimation, tt.max); got != tt.want {
			t.Errorf("OverviewCount(%d, %d, %d, %v, %d) = %d, want %d", tt.w, tt.h, tt.bs, tt.decimation, tt.max, got, tt.want)
		}
	}
}

func TestBuildLevels(t *testing.T) {
	ds := tileDataset(maptile.New(10, 20, 6), gradient(1000, 600))
	r := build(t, ds, Options{BlockSize: 256, Codec: Zstd, Overviews: 3})
	want := [][4]int{{1000, 600, 4, 3}, {500, 300, 2, 2}, {250, 150, 1, 1}, {125, 75, 1, 1}}
	if len(r.Levels) != len(want) {
		t.Fatalf("levels = %d, want %d", len(r.Levels), len(want))
	}
	for i, w := range want {
		lv := r.Levels[i]
		if got := [4]int{lv.Width, lv.Height, lv.Cols, lv.Rows}; got != w {
			t.Errorf("level %d = %v, want %v", i, got, w)
		}
	}
	if r.Bands != 3 || r.Channels() != 4 {
		t.Errorf("bands = %d, channels = %d", r.Bands, r.Channels())
	}
	if r.Size() <= 0 {
		t.Errorf("size = %d", r.Size())
	}
}

func TestTileAligned(t *testing.T) {
	tile := maptile.New(10, 20, 6)
	src := gradient(256, 256)
	for _, codec := range []Codec{None, Zstd, Snappy} {
		t.Run(codec.String(), func(t *testing.T) {
			r := build(t, tileDataset(tile, src), Options{BlockSize: 128, Codec: codec, Overviews: 1})
			rd := reader(t, r)

			td, err := rd.Tile(tile, 256)
			if err != nil {
				t.Fatal(err)
			}
			if lo, hi := td.MaskRange(); lo != 0xff || hi != 0xff {
				t.Fatalf("mask range = %d..%d, want fully opaque", lo, hi)
			}
			for _, p := range []image.Point{{0, 0}, {17, 200}, {128, 127}, {255, 255}} {
				c := src.NRGBAAt(p.X, p.Y)
				o := (p.Y*256 + p.X) * 3
				if got := td.Pix[o : o+3]; !bytes.Equal(got, []byte{c.R, c.G, c.B}) {
					t.Errorf("pixel %v = %v, want %v", p, got, c)
				}
			}
		})
	}
}

func TestTileChildMagnifies(t *testing.T) {
	tile := maptile.New(10, 20, 6)
	src := gradient(256, 256)
	rd := reader(t, build(t, tileDataset(tile, src), Options{BlockSize: 256, Codec: Zstd}))

	// 左上子瓦片: 输出像素 (x, y) 取源像素 (x/2, y/2)
	td, err := rd.Tile(maptile.New(20, 40, 7), 256)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []image.Point{{0, 0}, {33, 9}, {255, 254}} {
		c := src.NRGBAAt(p.X/2, p.Y/2)
		o := (p.Y*256 + p.X) * 3
		if got := td.Pix[o : o+3]; !bytes.Equal(got, []byte{c.R, c.G, c.B}) {
			t.Errorf("pixel %v = %v, want %v", p, got, c)
		}
	}
}

func TestTileOutsideAndParent(t *testing.T) {
	tile := maptile.New(10, 20, 6)
	rd := reader(t, build(t, tileDataset(tile, gradient(256, 256)), Options{BlockSize: 256, Codec: Snappy, Overviews: 2}))

	td, err := rd.Tile(maptile.New(11, 20, 6), 256)
	if err != nil {
		t.Fatal(err)
	}
	if _, hi := td.MaskRange(); hi != 0 {
		t.Errorf("neighbour tile mask max = %d, want 0", hi)
	}

	// 父瓦片只有左上四分之一有数据, 需要读取第一层概览
	if got := rd.level(func(u, v float64) (float64, float64) { return 2 * u, 2 * v }, 128); got != 1 {
		t.Errorf("level for footprint 2 = %d, want 1", got)
	}
	td, err = rd.Tile(tile.Parent(), 256)
	if err != nil {
		t.Fatal(err)
	}
	at := func(x, y int) uint8 { return td.Mask[y*256+x] }
	if at(10, 10) != 0xff || at(127, 127) != 0xff {
		t.Errorf("covered quadrant mask = %d, %d", at(10, 10), at(127, 127))
	}
	if at(200, 10) != 0 || at(10, 200) != 0 || at(200, 200) != 0 {
		t.Errorf("uncovered quadrants are not transparent")
	}
}

func TestNoDataMask(t *testing.T) {
	tile := maptile.New(10, 20, 6)

	gray := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			gray.SetGray(x, y, color.Gray{200})
		}
	}
	r := build(t, tileDataset(tile, gray), Options{BlockSize: 64})
	if r.Bands != 1 {
		t.Fatalf("gray bands = %d", r.Bands)
	}
	td, err := reader(t, r).Tile(tile, 64)
	if err != nil {
		t.Fatal(err)
	}
	if td.Mask[5*64+10] != 0 || td.Mask[5*64+40] != 0xff || td.Pix[5*64+40] != 200 {
		t.Errorf("gray mask/value = %d %d %d", td.Mask[5*64+10], td.Mask[5*64+40], td.Pix[5*64+40])
	}

	pal := image.NewPaletted(image.Rect(0, 0, 64, 64), color.Palette{
		color.RGBA{0, 0, 0, 0},
		color.RGBA{0, 0, 0, 0xff},
		color.RGBA{10, 90, 200, 0xff},
	})
	for i := range pal.Pix {
		pal.Pix[i] = uint8(i % 3)
	}
	ds, err := raster.Normalize(tileDataset(tile, pal))
	if err != nil {
		t.Fatal(err)
	}
	td, err = reader(t, build(t, ds, Options{BlockSize: 64, Codec: Zstd})).Tile(tile, 64)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []uint8{0, 0xff, 0xff} {
		if td.Mask[i] != want {
			t.Errorf("palette index %d mask = %d, want %d", i, td.Mask[i], want)
		}
	}
	if got := td.Pix[6:9]; !bytes.Equal(got, []byte{10, 90, 200}) {
		t.Errorf("palette colour = %v", got)
	}
}

func TestDownsampleWeighted(t *testing.T) {
	// 2x2 -> 1x1, 两个有效像素, 两个无数据像素
	src := []byte{
		100, 0, 0, 0xff, 200, 0, 0, 0xff,
		50, 0, 0, 0, 50, 0, 0, 0,
	}
	out := make([]byte, 4)
	downsample(src, 1, 4, out)
	if out[0] != 150 || out[3] != 128 {
		t.Errorf("downsample = %v, want value 150 mask 128", out)
	}

	empty := make([]byte, 16)
	downsample(empty, 1, 4, out)
	if !bytes.Equal(out, []byte{0, 0, 0, 0}) {
		t.Errorf("empty downsample = %v", out)
	}
}

func TestChecksumMismatch(t *testing.T) {
	tile := maptile.New(10, 20, 6)
	r := build(t, tileDataset(tile, gradient(64, 64)), Options{BlockSize: 64, Codec: None})

	f, err := os.OpenFile(r.Path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xAA, 0xBB}, headerSize+40); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = reader(t, r).Tile(tile, 64)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"": Zstd, "ZSTD": Zstd, "snappy": Snappy, "none": None} {
		got, err := ParseCodec(in)
		if err != nil || got != want {
			t.Errorf("ParseCodec(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseCodec("lz4"); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := build(t, tileDataset(maptile.New(10, 20, 6), gradient(8, 8)), Options{BlockSize: 8})
	if err := r.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}
