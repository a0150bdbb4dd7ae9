// Package geo holds the spherical geometry used to price and evaluate
// spatial filters. Coordinates are always [lon, lat] in degrees.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// WholeSphere is the steradian weight of an unconstrained search.
const WholeSphere = 4 * math.Pi

// EarthRadiusKm is the mean earth radius used for radius searches.
const EarthRadiusKm = 6371.0088

// Region is one term of a weighted sum over lon/lat rectangles.
type Region struct {
	Value float64
	Lons  [2]float64
	Lats  [2]float64
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Steradians integrates cos(lat) over an axis aligned lon/lat rectangle.
func Steradians(lons, lats [2]float64) float64 {
	dlon := math.Abs(lons[1] - lons[0])
	lo, hi := math.Min(lats[0], lats[1]), math.Max(lats[0], lats[1])
	return rad(dlon) * (math.Sin(rad(hi)) - math.Sin(rad(lo)))
}

// GeoWeightedSum returns sum(value_i * steradians(region_i)).
func GeoWeightedSum(regions []Region) float64 {
	var sum float64
	for _, r := range regions {
		sum += r.Value * Steradians(r.Lons, r.Lats)
	}
	return sum
}

// BoxSteradians weighs a box given by its lower-left and upper-right
// corners. A lower-left longitude east of the upper-right one wraps the
// antimeridian.
func BoxSteradians(ll, ur orb.Point) float64 {
	span := ur[0] - ll[0]
	if span < 0 {
		span += 360
	}
	return Steradians([2]float64{0, span}, [2]float64{ll[1], ur[1]})
}

// CapSteradians weighs the spherical cap within radiusKm of a point.
func CapSteradians(radiusKm float64) float64 {
	theta := radiusKm / EarthRadiusKm
	if theta >= math.Pi {
		return WholeSphere
	}
	if theta <= 0 {
		return 0
	}
	return 2 * math.Pi * (1 - math.Cos(theta))
}

// PolygonSteradians weighs a polygon by its area on the sphere.
func PolygonSteradians(p orb.Polygon) float64 {
	a := math.Abs(orbgeo.Area(p))
	sr := a / (orb.EarthRadius * orb.EarthRadius)
	if sr > WholeSphere {
		return WholeSphere
	}
	return sr
}

// ValidLonLat reports whether every point respects -180<=lon<=180 and
// -90<=lat<=90.
func ValidLonLat(points ...orb.Point) bool {
	for _, p := range points {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return false
		}
		if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			return false
		}
	}
	return true
}

func BoxContains(ll, ur, p orb.Point) bool {
	if p[1] < ll[1] || p[1] > ur[1] {
		return false
	}
	if ll[0] <= ur[0] {
		return p[0] >= ll[0] && p[0] <= ur[0]
	}
	// wraps the antimeridian
	return p[0] >= ll[0] || p[0] <= ur[0]
}

func PolygonContains(poly orb.Polygon, p orb.Point) bool {
	return planar.PolygonContains(poly, p)
}

// DistanceKm is the haversine distance between two points.
func DistanceKm(a, b orb.Point) float64 {
	return orbgeo.DistanceHaversine(a, b) / 1000
}
