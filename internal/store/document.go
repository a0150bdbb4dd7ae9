package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// GeoPoint is a GeoJSON Point.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func NewGeoPoint(lon, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Point returns the location, ok=false when the document has none.
func (g *GeoPoint) Point() (orb.Point, bool) {
	if g == nil || len(g.Coordinates) < 2 {
		return orb.Point{}, false
	}
	return orb.Point{g.Coordinates[0], g.Coordinates[1]}, true
}

// SourceInfo names the origin of a document's measurements.
type SourceInfo struct {
	Source []string `json:"source"`
	URL    string   `json:"url,omitempty"`
}

// Document is one record of a data or metadata collection. Data rows are
// levels (profiles, grids) or timesteps (time series); columns follow
// DataKeys. Fields this type does not model survive a decode/encode cycle.
type Document struct {
	ID           string       `json:"_id"`
	Metadata     []string     `json:"metadata,omitempty"`
	Geolocation  *GeoPoint    `json:"geolocation,omitempty"`
	Timestamp    *time.Time   `json:"timestamp,omitempty"`
	Source       []SourceInfo `json:"source,omitempty"`
	Platform     string       `json:"platform,omitempty"`
	PlatformType string       `json:"platform_type,omitempty"`
	Name         string       `json:"name,omitempty"`
	DataKeys     []string     `json:"data_keys,omitempty"`
	Data         [][]any      `json:"data,omitempty"`
	Levels       []float64    `json:"levels,omitempty"`
	Timeseries   []time.Time  `json:"timeseries,omitempty"`

	// Inflated replaces Data on output once rows are expanded to named
	// fields.
	Inflated []map[string]any `json:"-"`

	Extra map[string]json.RawMessage `json:"-"`
}

type documentFields Document

var knownFields = []string{
	"_id", "metadata", "geolocation", "timestamp", "source", "platform",
	"platform_type", "name", "data_keys", "data", "levels", "timeseries",
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var f documentFields
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return fmt.Errorf("decode document fields: %w", err)
	}
	for _, k := range knownFields {
		delete(all, k)
	}
	if len(all) > 0 {
		f.Extra = all
	}
	*d = Document(f)
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	f := documentFields(d)
	if d.Inflated != nil {
		f.Data = nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if d.Inflated == nil && len(d.Extra) == 0 {
		return b, nil
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for k, v := range d.Extra {
		if _, known := out[k]; !known {
			out[k] = v
		}
	}
	if d.Inflated != nil {
		raw, err := json.Marshal(d.Inflated)
		if err != nil {
			return nil, err
		}
		out["data"] = raw
	}
	return json.Marshal(out)
}

// Clone copies d deeply enough that postprocessing the copy never touches
// the original.
func (d *Document) Clone() *Document {
	c := *d
	c.Metadata = append([]string(nil), d.Metadata...)
	if d.Geolocation != nil {
		g := *d.Geolocation
		g.Coordinates = append([]float64(nil), d.Geolocation.Coordinates...)
		c.Geolocation = &g
	}
	if d.Timestamp != nil {
		ts := *d.Timestamp
		c.Timestamp = &ts
	}
	c.Source = append([]SourceInfo(nil), d.Source...)
	c.DataKeys = append([]string(nil), d.DataKeys...)
	if d.Data != nil {
		c.Data = make([][]any, len(d.Data))
		for i, row := range d.Data {
			c.Data[i] = append([]any(nil), row...)
		}
	}
	c.Levels = append([]float64(nil), d.Levels...)
	c.Timeseries = append([]time.Time(nil), d.Timeseries...)
	c.Inflated = nil
	if d.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Sources flattens every source tag carried by the document.
func (d *Document) Sources() []string {
	var out []string
	for _, s := range d.Source {
		out = append(out, s.Source...)
	}
	return out
}

// Project keeps only the named top-level fields plus _id.
func (d *Document) Project(fields []string) {
	if len(fields) == 0 {
		return
	}
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	if !keep["metadata"] {
		d.Metadata = nil
	}
	if !keep["geolocation"] {
		d.Geolocation = nil
	}
	if !keep["timestamp"] {
		d.Timestamp = nil
	}
	if !keep["source"] {
		d.Source = nil
	}
	if !keep["platform"] {
		d.Platform = ""
	}
	if !keep["platform_type"] {
		d.PlatformType = ""
	}
	if !keep["name"] {
		d.Name = ""
	}
	if !keep["data_keys"] {
		d.DataKeys = nil
	}
	if !keep["data"] {
		d.Data = nil
	}
	if !keep["levels"] {
		d.Levels = nil
	}
	if !keep["timeseries"] {
		d.Timeseries = nil
	}
	for k := range d.Extra {
		if !keep[k] {
			delete(d.Extra, k)
		}
	}
}
