package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"chartiler/proj"
)

// TIFF 标签
const (
	tagSamplesPerPixel     = 277
	tagPhotometric         = 262
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
)

// GeoKey 编号
const (
	keyModelType         = 1024
	keyRasterType        = 1025
	keyGeographicType    = 2048
	keyGeodeticDatum     = 2050
	keyEllipsoid         = 2056
	keySemiMajorAxis     = 2057
	keySemiMinorAxis     = 2058
	keyInvFlattening     = 2059
	keyProjectedCSType   = 3072
	keyProjCoordTrans    = 3075
	keyProjLinearUnits   = 3076
	keyStdParallel1      = 3078
	keyStdParallel2      = 3079
	keyNatOriginLong     = 3080
	keyNatOriginLat      = 3081
	keyFalseEasting      = 3082
	keyFalseNorthing     = 3083
	keyFalseOriginLong   = 3084
	keyFalseOriginLat    = 3085
	keyFalseOriginEast   = 3086
	keyFalseOriginNorth  = 3087
	keyScaleAtNatOrigin  = 3092
	userDefined          = 32767
	modelTypeProjected   = 1
	modelTypeGeographic  = 2
	rasterPixelIsPoint   = 2
	ctLambertConfConic2S = 8
	ctLambertConfConic1S = 9
	photometricPalette   = 3
)

const maxTagBytes = 64 << 20

var errNotTIFF = errors.New("not a TIFF file")

type field struct {
	typ   uint16
	count uint32
	raw   []byte
}

type tagSet struct {
	order  binary.ByteOrder
	fields map[uint16]field
}

var typeSizes = map[uint16]uint32{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// readTags 读取第一个 IFD 的全部标签. x/image/tiff 不暴露 GeoTIFF 标签, 这里单独解析.
func readTags(r io.ReaderAt) (*tagSet, error) {
	hdr := make([]byte, 8)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}
	switch order.Uint16(hdr[2:4]) {
	case 42:
	case 43:
		return nil, errors.New("BigTIFF is not supported")
	default:
		return nil, errNotTIFF
	}
	off := int64(order.Uint32(hdr[4:8]))
	cnt := make([]byte, 2)
	if _, err := r.ReadAt(cnt, off); err != nil {
		return nil, fmt.Errorf("read IFD: %w", err)
	}
	n := int(order.Uint16(cnt))
	buf := make([]byte, 12*n)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}
	ts := &tagSet{order: order, fields: make(map[uint16]field, n)}
	for i := 0; i < n; i++ {
		e := buf[i*12 : i*12+12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(count)
		if total > maxTagBytes {
			return nil, fmt.Errorf("tag %d too large (%d bytes)", tag, total)
		}
		var raw []byte
		if total <= 4 {
			raw = append([]byte(nil), e[8:8+total]...)
		} else {
			raw = make([]byte, total)
			if _, err := r.ReadAt(raw, int64(order.Uint32(e[8:12]))); err != nil {
				return nil, fmt.Errorf("read tag %d: %w", tag, err)
			}
		}
		ts.fields[tag] = field{typ: typ, count: count, raw: raw}
	}
	return ts, nil
}

func (ts *tagSet) has(tag uint16) bool {
	_, ok := ts.fields[tag]
	return ok
}

func (ts *tagSet) uints(tag uint16) []uint32 {
	f, ok := ts.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint32, f.count)
	for i := range out {
		switch f.typ {
		case 1, 7:
			out[i] = uint32(f.raw[i])
		case 3:
			out[i] = uint32(ts.order.Uint16(f.raw[i*2:]))
		case 4:
			out[i] = ts.order.Uint32(f.raw[i*4:])
		default:
			return nil
		}
	}
	return out
}

func (ts *tagSet) uint(tag uint16, def uint32) uint32 {
	if v := ts.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (ts *tagSet) doubles(tag uint16) []float64 {
	f, ok := ts.fields[tag]
	if !ok {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case 12:
			out[i] = math.Float64frombits(ts.order.Uint64(f.raw[i*8:]))
		case 11:
			out[i] = float64(math.Float32frombits(ts.order.Uint32(f.raw[i*4:])))
		default:
			return nil
		}
	}
	return out
}

// geoKeys GeoKeyDirectory 解析结果
type geoKeys struct {
	shorts  map[uint16]int
	doubles map[uint16]float64
	ascii   map[uint16]string
}

func (ts *tagSet) geoKeys() (*geoKeys, error) {
	dir := ts.uints(tagGeoKeyDirectory)
	if len(dir) < 4 {
		return nil, errors.New("missing GeoKeyDirectory")
	}
	gk := &geoKeys{
		shorts:  map[uint16]int{},
		doubles: map[uint16]float64{},
		ascii:   map[uint16]string{},
	}
	dbl := ts.doubles(tagGeoDoubleParams)
	var asc []byte
	if f, ok := ts.fields[tagGeoASCIIParams]; ok {
		asc = f.raw
	}
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		k := dir[4+i*4 : 8+i*4]
		id, loc, count, val := uint16(k[0]), k[1], int(k[2]), int(k[3])
		switch loc {
		case 0:
			gk.shorts[id] = val
		case tagGeoDoubleParams:
			if val < len(dbl) {
				gk.doubles[id] = dbl[val]
			}
		case tagGeoASCIIParams:
			if val+count <= len(asc) {
				s := string(asc[val : val+count])
				for len(s) > 0 && (s[len(s)-1] == '|' || s[len(s)-1] == 0) {
					s = s[:len(s)-1]
				}
				gk.ascii[id] = s
			}
		}
	}
	return gk, nil
}

func (gk *geoKeys) double(primary, fallback uint16) float64 {
	if v, ok := gk.doubles[primary]; ok {
		return v
	}
	return gk.doubles[fallback]
}

// geoTransform 由 ModelTransformation 或 Tiepoint+PixelScale 得到仿射变换
func (ts *tagSet) geoTransform(gk *geoKeys) (GeoTransform, error) {
	var gt GeoTransform
	if m := ts.doubles(tagModelTransformation); len(m) >= 16 {
		gt = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		tp := ts.doubles(tagModelTiepoint)
		sc := ts.doubles(tagModelPixelScale)
		if len(tp) < 6 || len(sc) < 2 {
			return gt, errors.New("no georeferencing tags")
		}
		gt = GeoTransform{tp[3] - tp[0]*sc[0], sc[0], 0, tp[4] + tp[1]*sc[1], 0, -sc[1]}
	}
	if gk != nil && gk.shorts[keyRasterType] == rasterPixelIsPoint {
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	}
	return gt, nil
}

func (gk *geoKeys) ellipsoid() proj.Ellipsoid {
	if a, ok := gk.doubles[keySemiMajorAxis]; ok && a > 0 {
		if rf, ok := gk.doubles[keyInvFlattening]; ok {
			return proj.Ellipsoid{Name: "user-defined", A: a, InvFlat: rf}
		}
		if b, ok := gk.doubles[keySemiMinorAxis]; ok && b > 0 && b < a {
			return proj.Ellipsoid{Name: "user-defined", A: a, InvFlat: a / (a - b)}
		}
		return proj.Ellipsoid{Name: "sphere", A: a}
	}
	switch gk.shorts[keyEllipsoid] {
	case 7019:
		return proj.GRS80
	case 7030:
		return proj.WGS84
	case 7008:
		return proj.Clarke1866
	}
	switch gk.shorts[keyGeodeticDatum] {
	case 6269:
		return proj.GRS80
	case 6267:
		return proj.Clarke1866
	}
	switch gk.shorts[keyGeographicType] {
	case 4269:
		return proj.GRS80
	case 4267:
		return proj.Clarke1866
	}
	return proj.WGS84
}

// linearUnit 返回投影单位对应的米数
func (gk *geoKeys) linearUnit() float64 {
	switch gk.shorts[keyProjLinearUnits] {
	case 9002:
		return 0.3048
	case 9003:
		return 1200.0 / 3937.0
	}
	return 1
}

// crs 由 GeoKey 构造坐标系
func (gk *geoKeys) crs() (proj.CRS, error) {
	if pcs, ok := gk.shorts[keyProjectedCSType]; ok && pcs != userDefined {
		return proj.FromEPSG(pcs)
	}
	switch gk.shorts[keyModelType] {
	case modelTypeGeographic:
		gcs := gk.shorts[keyGeographicType]
		if gcs == 0 || gcs == userDefined {
			gcs = 4326
		}
		return proj.Geographic{EPSG: gcs}, nil
	case modelTypeProjected:
		ell := gk.ellipsoid()
		unit := gk.linearUnit()
		var (
			lcc *proj.LambertConformalConic
			err error
		)
		switch ct := gk.shorts[keyProjCoordTrans]; ct {
		case ctLambertConfConic2S:
			lcc, err = proj.NewLCC(ell,
				gk.doubles[keyStdParallel1],
				gk.doubles[keyStdParallel2],
				gk.double(keyFalseOriginLat, keyNatOriginLat),
				gk.double(keyFalseOriginLong, keyNatOriginLong),
				gk.double(keyFalseOriginEast, keyFalseEasting)*unit,
				gk.double(keyFalseOriginNorth, keyFalseNorthing)*unit)
		case ctLambertConfConic1S:
			scale, ok := gk.doubles[keyScaleAtNatOrigin]
			if !ok {
				scale = 1
			}
			lcc, err = proj.NewLCC1SP(ell,
				gk.doubles[keyNatOriginLat],
				gk.doubles[keyNatOriginLong],
				scale,
				gk.doubles[keyFalseEasting]*unit,
				gk.doubles[keyFalseNorthing]*unit)
		default:
			return nil, fmt.Errorf("unsupported coordinate transformation %d", ct)
		}
		if err != nil {
			return nil, err
		}
		if unit != 1 {
			return scaledCRS{CRS: lcc, unit: unit}, nil
		}
		return lcc, nil
	}
	return nil, errors.New("unknown GeoTIFF model type")
}

// scaledCRS 投影单位不是米时(如美国测量英尺)做单位换算
type scaledCRS struct {
	proj.CRS
	unit float64
}

func (s scaledCRS) ToLonLat(x, y float64) (float64, float64) {
	return s.CRS.ToLonLat(x*s.unit, y*s.unit)
}

func (s scaledCRS) FromLonLat(lon, lat float64) (float64, float64) {
	x, y := s.CRS.FromLonLat(lon, lat)
	return x / s.unit, y / s.unit
}
