package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/ocean-datagate/internal/geo"
)

const (
	msgLonLat   = "All lon, lat pairs must respect -180<=lon<=180 and -90<=lat<=90"
	msgOneShape = "Please specify only one of box, polygon, multipolygon, or center/radius."
	msgCenter   = "center and radius must be specified together."
)

type shapeError string

func (e shapeError) Error() string { return string(e) }

func shapeErrf(format string, args ...any) error { return shapeError(fmt.Sprintf(format, args...)) }

// parsePolygon accepts a bare ring [[lon,lat],...] or a GeoJSON Polygon.
func parsePolygon(raw string) (orb.Polygon, error) {
	b := []byte(strings.TrimSpace(raw))
	if bytes.HasPrefix(b, []byte("{")) {
		g, err := geojson.UnmarshalGeometry(b)
		if err != nil {
			return nil, shapeErrf("polygon is not valid GeoJSON: %v", err)
		}
		poly, ok := g.Geometry().(orb.Polygon)
		if !ok {
			return nil, shapeErrf("polygon must be a GeoJSON Polygon, got %s", g.Type)
		}
		if err := checkPolygon(poly); err != nil {
			return nil, err
		}
		return poly, nil
	}

	var coords [][]float64
	if err := json.Unmarshal(b, &coords); err != nil {
		return nil, shapeErrf("polygon must be a JSON list of [lon,lat] pairs")
	}
	ring, err := toRing(coords)
	if err != nil {
		return nil, err
	}
	poly := orb.Polygon{ring}
	if err := checkPolygon(poly); err != nil {
		return nil, err
	}
	return poly, nil
}

// parseMultiPolygon accepts a list of bare rings or a GeoJSON MultiPolygon;
// members are intersected.
func parseMultiPolygon(raw string) ([]orb.Polygon, error) {
	b := []byte(strings.TrimSpace(raw))
	var polys []orb.Polygon
	if bytes.HasPrefix(b, []byte("{")) {
		g, err := geojson.UnmarshalGeometry(b)
		if err != nil {
			return nil, shapeErrf("multipolygon is not valid GeoJSON: %v", err)
		}
		mp, ok := g.Geometry().(orb.MultiPolygon)
		if !ok {
			return nil, shapeErrf("multipolygon must be a GeoJSON MultiPolygon, got %s", g.Type)
		}
		polys = []orb.Polygon(mp)
	} else {
		var coords [][][]float64
		if err := json.Unmarshal(b, &coords); err != nil {
			return nil, shapeErrf("multipolygon must be a JSON list of polygons")
		}
		for _, c := range coords {
			ring, err := toRing(c)
			if err != nil {
				return nil, err
			}
			polys = append(polys, orb.Polygon{ring})
		}
	}
	if len(polys) < 2 {
		return nil, shapeErrf("multipolygon must contain at least two polygons")
	}
	for _, p := range polys {
		if err := checkPolygon(p); err != nil {
			return nil, err
		}
	}
	return polys, nil
}

func toRing(coords [][]float64) (orb.Ring, error) {
	ring := make(orb.Ring, 0, len(coords))
	for _, c := range coords {
		if len(c) != 2 {
			return nil, shapeErrf("each vertex must be a [lon,lat] pair")
		}
		ring = append(ring, orb.Point{c[0], c[1]})
	}
	return ring, nil
}

func checkPolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return shapeErrf("polygon has no rings")
	}
	for _, r := range p {
		if !geo.ValidLonLat(r...) {
			return shapeError(msgLonLat)
		}
		if len(r) < 4 {
			return shapeErrf("polygon rings need at least four vertices")
		}
		if !r.Closed() {
			return shapeErrf("polygon rings must be closed; first and last vertex must match")
		}
	}
	return nil
}

// parseBox accepts [[lon,lat],[lon,lat]] as lower-left, upper-right.
func parseBox(raw string) (orb.Point, orb.Point, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &coords); err != nil || len(coords) != 2 {
		return orb.Point{}, orb.Point{}, shapeErrf("box must be [[lower-left lon,lat],[upper-right lon,lat]]")
	}
	ring, err := toRing(coords)
	if err != nil {
		return orb.Point{}, orb.Point{}, err
	}
	if !geo.ValidLonLat(ring...) {
		return orb.Point{}, orb.Point{}, shapeError(msgLonLat)
	}
	if ring[0][1] > ring[1][1] {
		return orb.Point{}, orb.Point{}, shapeErrf("box lower-left latitude must not exceed upper-right latitude")
	}
	return ring[0], ring[1], nil
}

// parseCenter accepts "lon,lat" or "[lon,lat]".
func parseCenter(raw string) (orb.Point, error) {
	s := strings.Trim(strings.TrimSpace(raw), "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return orb.Point{}, shapeErrf("center must be lon,lat")
	}
	var pt orb.Point
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Point{}, shapeErrf("center must be lon,lat")
		}
		pt[i] = f
	}
	if !geo.ValidLonLat(pt) {
		return orb.Point{}, shapeError(msgLonLat)
	}
	return pt, nil
}
