// Package geo holds the small amount of geometry the attempt workflow needs:
// WGS84 points and great-circle distances between them.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// SRID is the spatial reference of every point built here (WGS84).
const SRID = 4326

const (
	earthRadiusM = 6371008.8
	feetPerMeter = 3.280839895
)

// Point builds an XY point (x = longitude, y = latitude) tagged with SRID 4326.
func Point(lat, lng float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(SRID)
}

// PointFrom returns nil unless both coordinates are present.
func PointFrom(lat, lng *float64) *geom.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return Point(*lat, *lng)
}

// Valid reports whether p carries a usable latitude and longitude.
func Valid(p *geom.Point) bool {
	if p == nil || p.Empty() {
		return false
	}
	lng, lat := p.X(), p.Y()
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// DistanceFeet returns the haversine distance between a and b in feet.
func DistanceFeet(a, b *geom.Point) float64 {
	return distanceMeters(a.Y(), a.X(), b.Y(), b.X()) * feetPerMeter
}

func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}
