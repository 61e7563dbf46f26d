// Package geo converts coordinates between the reference systems used by
// Dutch address and flood-risk data.
package geo

import (
	"github.com/rotisserie/eris"
	"github.com/wroge/wgs84"
)

// EPSG identifies a coordinate reference system by its EPSG code.
type EPSG int

// Supported reference systems.
const (
	WGS84          EPSG = 4326
	ETRS89         EPSG = 4258
	RDNew          EPSG = 28992
	WebMercator    EPSG = 3857
	googleMercator EPSG = 900913
)

// ErrUnsupportedCRS is returned for EPSG codes without a transform.
var ErrUnsupportedCRS = eris.New("geo: unsupported coordinate reference system")

// Point is a position in some projected or geographic CRS. For geographic
// systems X is longitude and Y is latitude.
type Point struct {
	X, Y float64
}

// amersfoort is the Bessel 1841 datum with the EPSG:28992 TOWGS84 shift.
var amersfoort = func() wgs84.Datum {
	d := wgs84.Helmert(wgs84.Bessel{}.A(), wgs84.Bessel{}.Fi(),
		565.417, 50.3319, 465.552, -0.398957, 0.343988, -1.8774, 4.0725)
	d.Area = wgs84.AreaFunc(func(lon, lat float64) bool {
		return lon >= 3.2 && lon <= 7.3 && lat >= 50.7 && lat <= 53.7
	})
	return d
}()

var rdNew = wgs84.ProjectedReferenceSystem{
	Datum: amersfoort,
	Projection: obliqueStereographic{
		lat0:   52.156160555555555,
		lon0:   5.387638888888889,
		scale:  0.9999079,
		eastf:  155000,
		northf: 463000,
	},
}

var registry = func() *wgs84.Repository {
	r := wgs84.EPSG()
	r.Add(int(RDNew), rdNew)
	return r
}()

// Supported reports whether code can be converted to and from WGS84. Besides
// the Dutch systems this covers every code of the wgs84 EPSG repository,
// such as the UTM zones.
func Supported(code EPSG) bool {
	return registry.Code(int(code)) != nil
}

// Transform converts p from one reference system to another.
func Transform(p Point, from, to EPSG) (Point, error) {
	if !Supported(from) {
		return Point{}, eris.Wrapf(ErrUnsupportedCRS, "EPSG:%d", int(from))
	}
	if !Supported(to) {
		return Point{}, eris.Wrapf(ErrUnsupportedCRS, "EPSG:%d", int(to))
	}
	if from == to {
		return p, nil
	}
	x, y, _ := registry.Transform(int(from), int(to))(p.X, p.Y, 0)
	return Point{X: x, Y: y}, nil
}

// FromWGS84 projects a WGS84 longitude/latitude into the target system.
func FromWGS84(lon, lat float64, to EPSG) (Point, error) {
	return Transform(Point{X: lon, Y: lat}, WGS84, to)
}

// ToWGS84 converts a point in the source system to WGS84 longitude/latitude.
func ToWGS84(p Point, from EPSG) (lon, lat float64, err error) {
	q, err := Transform(p, from, WGS84)
	if err != nil {
		return 0, 0, err
	}
	return q.X, q.Y, nil
}

// RDToWGS84 converts Amersfoort / RD New metres to WGS84 degrees.
func RDToWGS84(x, y float64) (lat, lon float64) {
	lon, lat, _ = rdNew.To(wgs84.LonLat())(x, y, 0)
	return lat, lon
}

// WGS84ToRD converts WGS84 degrees to Amersfoort / RD New metres.
func WGS84ToRD(lat, lon float64) (x, y float64) {
	x, y, _ = rdNew.From(wgs84.LonLat())(lon, lat, 0)
	return x, y
}
