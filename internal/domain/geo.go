package domain

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"
)

// nauticalMilesPerDegree converts arc degrees to nautical miles: one minute
// of arc along a great circle is one nautical mile.
const nauticalMilesPerDegree = 60.0

// GeoPoint is a WGS-84 position in signed decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether the point lies inside the latitude/longitude ranges.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lon)
	}
	return nil
}

// LatLng converts the point to an s2 coordinate.
func (p GeoPoint) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// GreatCircleDistance returns the surface distance between a and b in
// nautical miles.
func GreatCircleDistance(a, b GeoPoint) float64 {
	return a.LatLng().Distance(b.LatLng()).Degrees() * nauticalMilesPerDegree
}

// MeanPosition returns the spherical centroid of points. The second return
// value is false when points is empty or the points cancel out (antipodal
// pairs), in which case no meaningful mean exists.
func MeanPosition(points []GeoPoint) (GeoPoint, bool) {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(s2.PointFromLatLng(p.LatLng()).Vector)
	}
	if sum.Norm() < 1e-12 {
		return GeoPoint{}, false
	}
	ll := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
	return GeoPoint{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}, true
}
