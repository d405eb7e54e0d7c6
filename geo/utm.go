package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// WGS84 / transverse Mercator series constants.
const (
	utmK0 = 0.9996
	utmR  = 6378137.0

	utmE  = 0.00669438
	utmE2 = utmE * utmE
	utmE3 = utmE2 * utmE
	utmEP = utmE / (1 - utmE)

	utmM1 = 1 - utmE/4 - 3*utmE2/64 - 5*utmE3/256
	utmM2 = 3*utmE/8 + 3*utmE2/32 + 45*utmE3/1024
	utmM3 = 15*utmE2/256 + 45*utmE3/1024
	utmM4 = 35 * utmE3 / 3072
)

var (
	utmSqrtE = math.Sqrt(1 - utmE)
	utmN     = (1 - utmSqrtE) / (1 + utmSqrtE)
	utmN2    = utmN * utmN
	utmN3    = utmN2 * utmN
	utmN4    = utmN3 * utmN
	utmN5    = utmN4 * utmN

	utmP2 = 3*utmN/2 - 27*utmN3/32 + 269*utmN5/512
	utmP3 = 21*utmN2/16 - 55*utmN4/32
	utmP4 = 151*utmN3/96 - 417*utmN5/128
	utmP5 = 1097 * utmN4 / 512
)

// Projector maps geographic coordinates to projected map coordinates in
// some target CRS. The coordinator only ever needs this one capability, so
// alternative projection engines can be dropped in.
type Projector interface {
	Project(lon, lat float64) (x, y float64, epsg string, err error)
}

// UTM projects WGS84 coordinates into the point's UTM zone, following the
// usual zone exceptions for southern Norway and Svalbard.
type UTM struct{}

// Project converts lon/lat to UTM easting/northing and reports the zone's
// EPSG code (326xx in the northern hemisphere, 327xx in the southern).
func (UTM) Project(lon, lat float64) (float64, float64, string, error) {
	if lon < MinLon || lon > MaxLon {
		return 0, 0, "", &InvalidGeometryError{Field: "longitude", Value: lon}
	}
	if lat < MinLat || lat > MaxLat {
		return 0, 0, "", &InvalidGeometryError{Field: "latitude", Value: lat}
	}

	zone := zoneNumber(lon, lat)
	x, y := utmForward(lon, lat, zone)

	prefix := 326
	if lat < 0 {
		prefix = 327
	}
	return x, y, fmt.Sprintf("EPSG:%d%02d", prefix, zone), nil
}

func zoneNumber(lon, lat float64) int {
	// Southern Norway.
	if lat >= 56 && lat < 64 && lon >= 3 && lon < 12 {
		return 32
	}
	// Svalbard.
	if lat >= 72 && lat < 84 {
		switch {
		case lon >= 0 && lon < 9:
			return 31
		case lon >= 9 && lon < 21:
			return 33
		case lon >= 21 && lon < 33:
			return 35
		case lon >= 33 && lon < 42:
			return 37
		}
	}
	if lon == 180 {
		return 60
	}
	return int((lon+180)/6) + 1
}

func centralLongitude(zone int) float64 {
	return float64((zone-1)*6 - 180 + 3)
}

func utmForward(lon, lat float64, zone int) (easting, northing float64) {
	latRad := lat * math.Pi / 180
	latSin, latCos := math.Sincos(latRad)
	latTan := latSin / latCos

	lonRad := lon * math.Pi / 180
	centralRad := centralLongitude(zone) * math.Pi / 180

	n := utmR / math.Sqrt(1-utmE*latSin*latSin)
	c := utmEP * latCos * latCos
	t := latTan * latTan

	a := latCos * (lonRad - centralRad)
	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	m := utmR * (utmM1*latRad -
		utmM2*math.Sin(2*latRad) +
		utmM3*math.Sin(4*latRad) -
		utmM4*math.Sin(6*latRad))

	easting = utmK0*n*(a+
		a3/6*(1-t+c)+
		a5/120*(5-18*t+t*t+72*c-58*utmEP)) + 500000

	northing = utmK0 * (m + n*latTan*(a2/2+
		a4/24*(5-t+9*c+4*c*c)+
		a6/720*(61-58*t+t*t+600*c-330*utmEP)))
	if lat < 0 {
		northing += 10000000
	}
	return easting, northing
}

// utmInverse converts UTM coordinates back to lon/lat.
func utmInverse(easting, northing float64, zone int, northern bool) (lon, lat float64) {
	x := easting - 500000
	y := northing
	if !northern {
		y -= 10000000
	}

	m := y / utmK0
	mu := m / (utmR * utmM1)

	pRad := mu +
		utmP2*math.Sin(2*mu) +
		utmP3*math.Sin(4*mu) +
		utmP4*math.Sin(6*mu) +
		utmP5*math.Sin(8*mu)

	pSin, pCos := math.Sincos(pRad)
	pSin2 := pSin * pSin
	pTan := pSin / pCos
	pTan2 := pTan * pTan
	pTan4 := pTan2 * pTan2

	epSin := 1 - utmE*pSin2
	epSinSqrt := math.Sqrt(epSin)

	n := utmR / epSinSqrt
	r := (1 - utmE) / epSin

	c := utmEP * pCos * pCos
	c2 := c * c

	d := x / (n * utmK0)
	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	latRad := pRad - (pTan/r)*
		(d2/2-
			d4/24*(5+3*pTan2+10*c-4*c2-9*utmEP)+
			d6/720*(61+90*pTan2+298*c+45*pTan4-252*utmEP-3*c2))

	lonRad := (d -
		d3/6*(1+2*pTan2+c) +
		d5/120*(5-2*c+28*pTan2-3*c2+8*utmEP+24*pTan4)) / pCos

	lat = latRad * 180 / math.Pi
	lon = lonRad*180/math.Pi + centralLongitude(zone)
	return lon, lat
}

// ParseEPSG extracts the numeric code from an "EPSG:nnnnn" CRS string.
func ParseEPSG(crs string) (int, error) {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unrecognized CRS %q", crs)
	}
	return code, nil
}

// utmZone decodes a UTM EPSG code into its zone and hemisphere.
func utmZone(epsg int) (zone int, northern bool, err error) {
	switch {
	case epsg >= 32601 && epsg <= 32660:
		return epsg - 32600, true, nil
	case epsg >= 32701 && epsg <= 32760:
		return epsg - 32700, false, nil
	default:
		return 0, false, fmt.Errorf("EPSG:%d is not a UTM zone", epsg)
	}
}
