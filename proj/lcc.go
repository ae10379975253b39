package proj

import (
	"fmt"
	"math"
)

// Ellipsoid 参考椭球
type Ellipsoid struct {
	Name    string
	A       float64 // 长半轴(米)
	InvFlat float64 // 扁率倒数
}

var (
	WGS84      = Ellipsoid{Name: "WGS 84", A: 6378137, InvFlat: 298.257223563}
	GRS80      = Ellipsoid{Name: "GRS 1980", A: 6378137, InvFlat: 298.257222101}
	Clarke1866 = Ellipsoid{Name: "Clarke 1866", A: 6378206.4, InvFlat: 294.978698213898}
)

func (e Ellipsoid) eccentricity() float64 {
	if e.InvFlat == 0 {
		return 0
	}
	f := 1 / e.InvFlat
	return math.Sqrt(2*f - f*f)
}

// LambertConformalConic 兰伯特等角圆锥投影, FAA 分区航图和终端区航图均使用该投影.
// 1SP 变体令 Lat1 == Lat2 == Lat0 并通过 Scale 给出比例因子.
type LambertConformalConic struct {
	Ellipsoid     Ellipsoid
	Lat1, Lat2    float64 // 标准纬线(度)
	Lat0, Lon0    float64 // 原点纬度/中央经线(度)
	FalseEasting  float64
	FalseNorthing float64
	Scale         float64

	e, n, f, rho0 float64
}

// NewLCC 构造双标准纬线兰伯特投影并预计算常量
func NewLCC(ell Ellipsoid, lat1, lat2, lat0, lon0, falseEasting, falseNorthing float64) (*LambertConformalConic, error) {
	l := &LambertConformalConic{
		Ellipsoid:     ell,
		Lat1:          lat1,
		Lat2:          lat2,
		Lat0:          lat0,
		Lon0:          lon0,
		FalseEasting:  falseEasting,
		FalseNorthing: falseNorthing,
		Scale:         1,
	}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewLCC1SP 构造单标准纬线兰伯特投影
func NewLCC1SP(ell Ellipsoid, lat0, lon0, scale, falseEasting, falseNorthing float64) (*LambertConformalConic, error) {
	if scale == 0 {
		scale = 1
	}
	l := &LambertConformalConic{
		Ellipsoid:     ell,
		Lat1:          lat0,
		Lat2:          lat0,
		Lat0:          lat0,
		Lon0:          lon0,
		FalseEasting:  falseEasting,
		FalseNorthing: falseNorthing,
		Scale:         scale,
	}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LambertConformalConic) init() error {
	if l.Ellipsoid.A <= 0 {
		return fmt.Errorf("lcc: invalid ellipsoid %q", l.Ellipsoid.Name)
	}
	if math.Abs(l.Lat1+l.Lat2) < 1e-10 {
		return fmt.Errorf("lcc: standard parallels %v/%v are symmetric about the equator", l.Lat1, l.Lat2)
	}
	l.e = l.Ellipsoid.eccentricity()
	phi1, phi2, phi0 := radians(l.Lat1), radians(l.Lat2), radians(l.Lat0)
	m1, m2 := l.m(phi1), l.m(phi2)
	t1, t2, t0 := l.t(phi1), l.t(phi2), l.t(phi0)
	if math.Abs(phi1-phi2) > 1e-10 {
		l.n = (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	} else {
		l.n = math.Sin(phi1)
	}
	l.f = m1 / (l.n * math.Pow(t1, l.n))
	l.rho0 = l.rho(t0)
	return nil
}

func (l *LambertConformalConic) m(phi float64) float64 {
	s := l.e * math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-s*s)
}

func (l *LambertConformalConic) t(phi float64) float64 {
	s := l.e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-s)/(1+s), l.e/2)
}

func (l *LambertConformalConic) rho(t float64) float64 {
	return l.Ellipsoid.A * l.Scale * l.f * math.Pow(t, l.n)
}

// FromLonLat 正算
func (l *LambertConformalConic) FromLonLat(lon, lat float64) (float64, float64) {
	phi := radians(lat)
	if math.Abs(math.Abs(phi)-math.Pi/2) < 1e-12 && phi*l.n <= 0 {
		return math.NaN(), math.NaN()
	}
	r := l.rho(l.t(phi))
	theta := l.n * radians(normalizeLon(lon-l.Lon0))
	x := r*math.Sin(theta) + l.FalseEasting
	y := l.rho0 - r*math.Cos(theta) + l.FalseNorthing
	return x, y
}

// ToLonLat 反算, 纬度通过迭代求解
func (l *LambertConformalConic) ToLonLat(x, y float64) (float64, float64) {
	dx := x - l.FalseEasting
	dy := l.rho0 - (y - l.FalseNorthing)
	sign := 1.0
	if l.n < 0 {
		sign = -1
	}
	r := sign * math.Hypot(dx, dy)
	theta := math.Atan2(sign*dx, sign*dy)
	lon := normalizeLon(degrees(theta/l.n) + l.Lon0)
	if r == 0 {
		return lon, sign * 90
	}
	t := math.Pow(r/(l.Ellipsoid.A*l.Scale*l.f), 1/l.n)
	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		s := l.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-s)/(1+s), l.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	return lon, degrees(phi)
}

func (l *LambertConformalConic) String() string {
	return fmt.Sprintf("+proj=lcc +lat_1=%g +lat_2=%g +lat_0=%g +lon_0=%g +x_0=%g +y_0=%g +a=%g +rf=%g",
		l.Lat1, l.Lat2, l.Lat0, l.Lon0, l.FalseEasting, l.FalseNorthing, l.Ellipsoid.A, l.Ellipsoid.InvFlat)
}

func radians(d float64) float64 { return d * math.Pi / 180 }

func degrees(r float64) float64 { return r * 180 / math.Pi }
