// Package geo holds the coordinate transforms and distance math used by the map view.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// EarthRadius is the mean sphere radius in meters used for great-circle distances.
const EarthRadius = 6371000.0

// ToGeographic converts a web mercator (EPSG:3857) coordinate to lon/lat degrees.
func ToGeographic(p orb.Point) orb.Point {
	return project.Mercator.ToWGS84(p)
}

// ToProjected converts lon/lat degrees to web mercator meters.
func ToProjected(p orb.Point) orb.Point {
	return project.WGS84.ToMercator(p)
}

// GreatCircleDistance returns the haversine distance in meters between two lon/lat points.
func GreatCircleDistance(a, b orb.Point) float64 {
	lat1 := toRad(a.Lat())
	lat2 := toRad(b.Lat())
	dLat := toRad(b.Lat() - a.Lat())
	dLon := toRad(b.Lon() - a.Lon())

	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	h := sLat*sLat + math.Cos(lat1)*math.Cos(lat2)*sLon*sLon

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadius * c
}

// PathLength sums the great-circle length of consecutive point pairs.
func PathLength(pts []orb.Point) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += GreatCircleDistance(pts[i-1], pts[i])
	}
	return total
}

// FormatDistance renders meters as "850 m" below one kilometer and "15.34 km" above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

func toRad(d float64) float64 {
	return d * math.Pi / 180
}
