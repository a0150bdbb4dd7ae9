// Package h3mapper covers query regions with H3 cells so the Redis store
// can seed candidates from its cell index.
package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

// ErrTooLarge means the cover would exceed the caller's cell budget and the
// region should be scanned instead.
var ErrTooLarge = errors.New("h3 cover exceeds cell budget")

// boundaryStepDeg is the sampling step along region edges; it stays below
// the edge length of every resolution the index accepts (res 4 edges are
// about 26 km).
const (
	boundaryStepDeg = 0.1
	maxIndexRes     = 4
)

type Mapper struct {
	Res      int
	MaxCells int
}

func New(res, maxCells int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if res > maxIndexRes {
		return nil, fmt.Errorf("index resolution %d is finer than the boundary sampling supports (max %d)", res, maxIndexRes)
	}
	if maxCells <= 0 {
		maxCells = 4096
	}
	return &Mapper{Res: res, MaxCells: maxCells}, nil
}

// CellForPoint returns the index cell holding lon/lat.
func (m *Mapper) CellForPoint(lon, lat float64) (string, error) {
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, m.Res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %v,%v: %w", lon, lat, err)
	}
	return c.String(), nil
}

// CoverPolygon returns every cell that may hold a point inside p: the
// polyfill plus a one-ring buffer around cells touched by the boundary.
func (m *Mapper) CoverPolygon(p orb.Polygon) ([]string, error) {
	if len(p) == 0 || len(p[0]) < 4 {
		return nil, errors.New("outer ring has < 4 vertices")
	}
	// h3 takes the short way round between vertices
	if b := p.Bound(); b.Max[0]-b.Min[0] >= 180 {
		return nil, ErrTooLarge
	}
	seen := make(map[h3.Cell]struct{})

	outer := toLoop(p[0])
	var holes []h3.GeoLoop
	for _, r := range p[1:] {
		holes = append(holes, toLoop(r))
	}
	filled, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, m.Res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	for _, c := range filled {
		seen[c] = struct{}{}
	}
	if len(seen) > m.MaxCells {
		return nil, ErrTooLarge
	}

	// holes are ignored on the boundary pass; the cover only has to be a
	// superset
	if err := m.addBoundary(p[0], seen); err != nil {
		return nil, err
	}
	return m.sorted(seen)
}

// CoverBox covers a lon/lat box, splitting it at the antimeridian.
func (m *Mapper) CoverBox(ll, ur orb.Point) ([]string, error) {
	if ll[0] > ur[0] {
		west, err := m.CoverBox(ll, orb.Point{180, ur[1]})
		if err != nil {
			return nil, err
		}
		east, err := m.CoverBox(orb.Point{-180, ll[1]}, ur)
		if err != nil {
			return nil, err
		}
		return union(west, east), nil
	}
	ring := orb.Ring{
		{ll[0], ll[1]}, {ur[0], ll[1]}, {ur[0], ur[1]}, {ll[0], ur[1]}, {ll[0], ll[1]},
	}
	return m.CoverPolygon(orb.Polygon{ring})
}

// CoverCircle covers the lon/lat box bounding a great-circle radius.
func (m *Mapper) CoverCircle(center orb.Point, radiusKm float64) ([]string, error) {
	const kmPerDeg = 111.19
	dLat := radiusKm / kmPerDeg
	lat0, lat1 := center[1]-dLat, center[1]+dLat
	if lat0 <= -89 || lat1 >= 89 {
		return nil, ErrTooLarge
	}
	cosLat := math.Cos(math.Max(math.Abs(lat0), math.Abs(lat1)) * math.Pi / 180)
	dLon := radiusKm / (kmPerDeg * cosLat)
	if dLon >= 180 {
		return nil, ErrTooLarge
	}
	lon0, lon1 := wrapLon(center[0]-dLon), wrapLon(center[0]+dLon)
	return m.CoverBox(orb.Point{lon0, lat0}, orb.Point{lon1, lat1})
}

func (m *Mapper) addBoundary(r orb.Ring, seen map[h3.Cell]struct{}) error {
	edge := make(map[h3.Cell]struct{})
	for i := 0; i+1 < len(r); i++ {
		a, b := r[i], r[i+1]
		steps := int(math.Ceil(math.Max(math.Abs(b[0]-a[0]), math.Abs(b[1]-a[1])) / boundaryStepDeg))
		if steps < 1 {
			steps = 1
		}
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			c, err := h3.LatLngToCell(h3.LatLng{Lat: a[1] + t*(b[1]-a[1]), Lng: a[0] + t*(b[0]-a[0])}, m.Res)
			if err != nil {
				return fmt.Errorf("h3 boundary cell: %w", err)
			}
			edge[c] = struct{}{}
		}
	}
	for c := range edge {
		disk, err := h3.GridDisk(c, 1)
		if err != nil {
			return fmt.Errorf("h3 grid disk: %w", err)
		}
		for _, d := range disk {
			seen[d] = struct{}{}
		}
		if len(seen) > m.MaxCells {
			return ErrTooLarge
		}
	}
	return nil
}

func (m *Mapper) sorted(seen map[h3.Cell]struct{}) ([]string, error) {
	if len(seen) > m.MaxCells {
		return nil, ErrTooLarge
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop drops the closing vertex; h3 loops are implicitly closed.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

func wrapLon(lon float64) float64 {
	switch {
	case lon > 180:
		return lon - 360
	case lon < -180:
		return lon + 360
	}
	return lon
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, xs := range [][]string{a, b} {
		for _, x := range xs {
			if _, ok := seen[x]; !ok {
				seen[x] = struct{}{}
				out = append(out, x)
			}
		}
	}
	sort.Strings(out)
	return out
}
