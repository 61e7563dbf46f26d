package geo

import (
	"math"

	"github.com/wroge/wgs84"
)

// obliqueStereographic is the EPSG 9809 double stereographic projection,
// the method behind Amersfoort / RD New. Angles are in degrees.
type obliqueStereographic struct {
	lat0, lon0    float64
	scale         float64
	eastf, northf float64
}

type stereoConsts struct {
	e, r, n, c, chi0 float64
}

func (p obliqueStereographic) consts(s wgs84.Spheroid) stereoConsts {
	f := 1 / s.Fi()
	e2 := 2*f - f*f
	e := math.Sqrt(e2)
	phi0 := radians(p.lat0)
	sin0 := math.Sin(phi0)

	rho0 := s.A() * (1 - e2) / math.Pow(1-e2*sin0*sin0, 1.5)
	nu0 := s.A() / math.Sqrt(1-e2*sin0*sin0)
	n := math.Sqrt(1 + e2*math.Pow(math.Cos(phi0), 4)/(1-e2))

	s1 := (1 + sin0) / (1 - sin0)
	s2 := (1 - e*sin0) / (1 + e*sin0)
	w1 := math.Pow(s1*math.Pow(s2, e), n)
	sinChi := (w1 - 1) / (w1 + 1)
	c := (n + sin0) * (1 - sinChi) / ((n - sin0) * (1 + sinChi))
	w2 := c * w1

	return stereoConsts{
		e:    e,
		r:    math.Sqrt(rho0 * nu0),
		n:    n,
		c:    c,
		chi0: math.Asin((w2 - 1) / (w2 + 1)),
	}
}

func (p obliqueStereographic) FromLonLat(lon, lat float64, s wgs84.Spheroid) (east, north float64) {
	k := p.consts(s)
	phi := radians(lat)
	sinPhi := math.Sin(phi)
	lam0 := radians(p.lon0)
	dLam := k.n * (radians(lon) - lam0)

	sa := (1 + sinPhi) / (1 - sinPhi)
	sb := (1 - k.e*sinPhi) / (1 + k.e*sinPhi)
	w := k.c * math.Pow(sa*math.Pow(sb, k.e), k.n)
	chi := math.Asin((w - 1) / (w + 1))

	b := 1 + math.Sin(chi)*math.Sin(k.chi0) + math.Cos(chi)*math.Cos(k.chi0)*math.Cos(dLam)
	east = p.eastf + 2*k.r*p.scale*math.Cos(chi)*math.Sin(dLam)/b
	north = p.northf + 2*k.r*p.scale*(math.Sin(chi)*math.Cos(k.chi0)-math.Cos(chi)*math.Sin(k.chi0)*math.Cos(dLam))/b
	return east, north
}

func (p obliqueStereographic) ToLonLat(east, north float64, s wgs84.Spheroid) (lon, lat float64) {
	k := p.consts(s)
	de := east - p.eastf
	dn := north - p.northf
	rk := 2 * k.r * p.scale

	g := rk * math.Tan(math.Pi/4-k.chi0/2)
	h := 2*rk*math.Tan(k.chi0) + g
	i := math.Atan(de / (h + dn))
	j := math.Atan(de/(g-dn)) - i
	chi := k.chi0 + 2*math.Atan((dn-de*math.Tan(j/2))/rk)
	dLam := j + 2*i

	lam := dLam/k.n + radians(p.lon0)

	sinChi := math.Sin(chi)
	psi := 0.5 * math.Log((1+sinChi)/(k.c*(1-sinChi))) / k.n
	phi := 2*math.Atan(math.Exp(psi)) - math.Pi/2
	e2 := k.e * k.e
	for range 10 {
		sinPhi := math.Sin(phi)
		psiI := math.Log(math.Tan(phi/2+math.Pi/4) * math.Pow((1-k.e*sinPhi)/(1+k.e*sinPhi), k.e/2))
		next := phi - (psiI-psi)*math.Cos(phi)*(1-e2*sinPhi*sinPhi)/(1-e2)
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	return degrees(lam), degrees(phi)
}

func radians(d float64) float64 { return d * math.Pi / 180 }

func degrees(r float64) float64 { return r * 180 / math.Pi }
