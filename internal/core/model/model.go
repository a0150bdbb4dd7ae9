// Package model defines the typed filter set produced by the sanitizer and
// consumed by the cost estimator and the query planner.
package model

import (
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/ocean-datagate/internal/geo"
)

type SpatialKind uint8

const (
	SpatialNone SpatialKind = iota
	SpatialPolygon
	SpatialBox
	SpatialCircle
	SpatialMultiPolygon
)

func (k SpatialKind) String() string {
	switch k {
	case SpatialPolygon:
		return "polygon"
	case SpatialBox:
		return "box"
	case SpatialCircle:
		return "circle"
	case SpatialMultiPolygon:
		return "multipolygon"
	default:
		return "none"
	}
}

// Box is given by its lower-left and upper-right corners; LowerLeft[0] >
// UpperRight[0] means the box wraps the antimeridian.
type Box struct {
	LowerLeft  orb.Point
	UpperRight orb.Point
}

func (b Box) Contains(p orb.Point) bool { return geo.BoxContains(b.LowerLeft, b.UpperRight, p) }

// SpatialFilter is a tagged union; only the fields of Kind are meaningful.
type SpatialFilter struct {
	Kind     SpatialKind
	Polygon  orb.Polygon
	Box      Box
	Center   orb.Point
	RadiusKm float64
	// Polygons is an intersection, ordered smallest area first.
	Polygons []orb.Polygon
}

func NewPolygon(p orb.Polygon) SpatialFilter {
	return SpatialFilter{Kind: SpatialPolygon, Polygon: p}
}

func NewBox(ll, ur orb.Point) SpatialFilter {
	return SpatialFilter{Kind: SpatialBox, Box: Box{LowerLeft: ll, UpperRight: ur}}
}

func NewCircle(center orb.Point, radiusKm float64) SpatialFilter {
	return SpatialFilter{Kind: SpatialCircle, Center: center, RadiusKm: radiusKm}
}

// NewMultiPolygon orders members smallest area first so the most selective
// containment test runs before the others.
func NewMultiPolygon(polys []orb.Polygon) SpatialFilter {
	sorted := make([]orb.Polygon, len(polys))
	copy(sorted, polys)
	sort.SliceStable(sorted, func(i, j int) bool {
		return geo.PolygonSteradians(sorted[i]) < geo.PolygonSteradians(sorted[j])
	})
	return SpatialFilter{Kind: SpatialMultiPolygon, Polygons: sorted}
}

// Points returns every vertex carried by the filter.
func (s SpatialFilter) Points() []orb.Point {
	var out []orb.Point
	switch s.Kind {
	case SpatialPolygon:
		for _, r := range s.Polygon {
			out = append(out, r...)
		}
	case SpatialBox:
		out = append(out, s.Box.LowerLeft, s.Box.UpperRight)
	case SpatialCircle:
		out = append(out, s.Center)
	case SpatialMultiPolygon:
		for _, p := range s.Polygons {
			for _, r := range p {
				out = append(out, r...)
			}
		}
	}
	return out
}

// Steradians is the geographic weight used for pricing.
func (s SpatialFilter) Steradians() float64 {
	switch s.Kind {
	case SpatialPolygon:
		return geo.PolygonSteradians(s.Polygon)
	case SpatialBox:
		return geo.BoxSteradians(s.Box.LowerLeft, s.Box.UpperRight)
	case SpatialCircle:
		return geo.CapSteradians(s.RadiusKm)
	case SpatialMultiPolygon:
		// intersection can be no larger than its smallest member
		if len(s.Polygons) == 0 {
			return geo.WholeSphere
		}
		return geo.PolygonSteradians(s.Polygons[0])
	default:
		return geo.WholeSphere
	}
}

// Contains evaluates the filter against one point.
func (s SpatialFilter) Contains(p orb.Point) bool {
	switch s.Kind {
	case SpatialPolygon:
		return geo.PolygonContains(s.Polygon, p)
	case SpatialBox:
		return s.Box.Contains(p)
	case SpatialCircle:
		return geo.DistanceKm(s.Center, p) <= s.RadiusKm
	case SpatialMultiPolygon:
		for _, poly := range s.Polygons {
			if !geo.PolygonContains(poly, p) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// TemporalFilter is [Start, End); either bound may be absent.
type TemporalFilter struct {
	Start *time.Time
	End   *time.Time
}

func (t TemporalFilter) Bounded() bool { return t.Start != nil && t.End != nil }

func (t TemporalFilter) Empty() bool { return t.Start == nil && t.End == nil }

// Span is zero unless both bounds are present.
func (t TemporalFilter) Span() time.Duration {
	if !t.Bounded() {
		return 0
	}
	return t.End.Sub(*t.Start)
}

// VarSelection is the parsed `data` parameter.
type VarSelection struct {
	All     bool
	Require []string
	// Exclude drops documents carrying any of these variables.
	Exclude []string
}

// Requested reports whether any data values were asked for.
func (v VarSelection) Requested() bool { return v.All || len(v.Require) > 0 }

// Breadth counts positively requested variables; All counts as allVars.
func (v VarSelection) Breadth(allVars int) int {
	if v.All {
		return allVars
	}
	return len(v.Require)
}

type CategoricalFilter struct {
	ID           string
	Platform     string
	PlatformType string
	Source       []string
	Metadata     string
	Name         string
	Variables    VarSelection
	PresRange    *[2]float64
}

type Compression string

const (
	CompressionNone    Compression = "none"
	CompressionMinimal Compression = "minimal"
)

type Behavior struct {
	Compression Compression
	MostRecent  int
	BatchMeta   bool
	Page        int
	PageSet     bool
}

type FilterSet struct {
	Spatial     SpatialFilter
	Temporal    TemporalFilter
	Categorical CategoricalFilter
	Behavior    Behavior
	// SingleID is an id lookup. It is priced flat whatever else accompanies it.
	SingleID bool
}

// Keyed reports a search narrowed by a catalogue key rather than by
// space or time.
func (f FilterSet) Keyed() bool {
	c := f.Categorical
	return c.ID != "" || c.Platform != "" || c.Metadata != "" || c.Name != ""
}

// MetadataOnly is true when no data values will be returned.
func (f FilterSet) MetadataOnly() bool { return !f.Categorical.Variables.Requested() }
