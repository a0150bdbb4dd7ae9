package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestSteradians_WholeSphere(t *testing.T) {
	require.InDelta(t, 4*math.Pi, Steradians([2]float64{0, 360}, [2]float64{-90, 90}), 1e-12)
	require.InDelta(t, 4*math.Pi, Steradians([2]float64{-180, 180}, [2]float64{-90, 90}), 1e-12)
}

func TestSteradians_PolarBandSmallerThanEquatorial(t *testing.T) {
	polar := Steradians([2]float64{0, 360}, [2]float64{89, 90})
	equatorial := Steradians([2]float64{0, 360}, [2]float64{0, 1})
	require.Less(t, polar, equatorial)
}

func TestGeoWeightedSum(t *testing.T) {
	regions := []Region{
		{Value: 1, Lons: [2]float64{0, 180}, Lats: [2]float64{0, 90}},
		{Value: 2, Lons: [2]float64{0, 90}, Lats: [2]float64{0, 90}},
	}
	require.InDelta(t, 2*math.Pi, GeoWeightedSum(regions), 1e-9)

	var want float64
	for _, r := range regions {
		want += r.Value * Steradians(r.Lons, r.Lats)
	}
	require.InDelta(t, want, GeoWeightedSum(regions), 1e-12)
}

func TestBoxSteradians_Antimeridian(t *testing.T) {
	wrapped := BoxSteradians(orb.Point{170, -10}, orb.Point{-170, 10})
	plain := BoxSteradians(orb.Point{0, -10}, orb.Point{20, 10})
	require.InDelta(t, plain, wrapped, 1e-12)
}

func TestPolygonSteradians_MatchesBoxForSmallSquare(t *testing.T) {
	// a 1x1 degree square at the equator; spherical and lon/lat-rectangle
	// weights agree to well under a percent at this size
	poly := orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	box := BoxSteradians(orb.Point{0, 0}, orb.Point{1, 1})
	require.InEpsilon(t, box, PolygonSteradians(poly), 0.01)
}

func TestCapSteradians(t *testing.T) {
	require.Zero(t, CapSteradians(0))
	require.InDelta(t, 4*math.Pi, CapSteradians(1e6), 1e-12)
	small := CapSteradians(10)
	// flat-disc approximation pi r^2 / R^2
	approx := math.Pi * 100 / (EarthRadiusKm * EarthRadiusKm)
	require.InEpsilon(t, approx, small, 1e-3)
}

func TestValidLonLat(t *testing.T) {
	bad := []orb.Point{{-185.2236986, 70.1153552}, {-183.9932299, 56.4218209}, {-155.5166674, 56.7123646}, {-154.1104174, 69.8748184}, {-185.2236986, 70.1153552}}
	require.False(t, ValidLonLat(bad...))
	require.True(t, ValidLonLat(orb.Point{-180, -90}, orb.Point{180, 90}))
	require.False(t, ValidLonLat(orb.Point{0, 91}))
}

func TestBoxContains(t *testing.T) {
	require.True(t, BoxContains(orb.Point{0, 0}, orb.Point{10, 10}, orb.Point{5, 5}))
	require.False(t, BoxContains(orb.Point{0, 0}, orb.Point{10, 10}, orb.Point{15, 5}))
	require.True(t, BoxContains(orb.Point{170, -5}, orb.Point{-170, 5}, orb.Point{179, 0}))
	require.True(t, BoxContains(orb.Point{170, -5}, orb.Point{-170, 5}, orb.Point{-175, 0}))
	require.False(t, BoxContains(orb.Point{170, -5}, orb.Point{-170, 5}, orb.Point{0, 0}))
}

func TestDistanceKm(t *testing.T) {
	// one degree of longitude on the equator
	d := DistanceKm(orb.Point{0, 0}, orb.Point{1, 0})
	require.InDelta(t, 111.2, d, 0.5)
}
