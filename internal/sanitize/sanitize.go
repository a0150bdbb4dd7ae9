// Package sanitize turns raw query-string values into a typed filter set,
// rejecting malformed or contradictory input before any store access.
package sanitize

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/ocean-datagate/internal/catalog"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/model"
	"github.com/mohammed-shakir/ocean-datagate/internal/qerr"
)

const (
	MsgDatesRequired = "Please specify at least a date range with startDate and endDate."
	MsgDateOrder     = "startDate must be before endDate."
	MsgRegionNeeded  = "Please specify a polygon or multipolygon region."

	dataAll  = "all"
	dataNone = "except-data-values"
)

// Params are the raw, possibly empty, query-string values.
type Params struct {
	ID           string
	StartDate    string
	EndDate      string
	Polygon      string
	MultiPolygon string
	Box          string
	Center       string
	Radius       string
	Metadata     string
	Platform     string
	PlatformType string
	Source       string
	Dac          string
	Name         string
	Data         string
	PresRange    string
	Compression  string
	MostRecent   string
	BatchMeta    string
	Page         string
}

func ParamsFromQuery(q url.Values) Params {
	return Params{
		ID:           q.Get("id"),
		StartDate:    q.Get("startDate"),
		EndDate:      q.Get("endDate"),
		Polygon:      q.Get("polygon"),
		MultiPolygon: q.Get("multipolygon"),
		Box:          q.Get("box"),
		Center:       q.Get("center"),
		Radius:       q.Get("radius"),
		Metadata:     q.Get("metadata"),
		Platform:     q.Get("platform"),
		PlatformType: q.Get("platform_type"),
		Source:       q.Get("source"),
		Dac:          q.Get("dac"),
		Name:         q.Get("name"),
		Data:         q.Get("data"),
		PresRange:    q.Get("presRange"),
		Compression:  q.Get("compression"),
		MostRecent:   q.Get("mostrecent"),
		BatchMeta:    q.Get("batchmeta"),
		Page:         q.Get("page"),
	}
}

// Sanitize validates p under the route's policy. Every failure is a
// qerr validation error.
func Sanitize(p Params, route catalog.Route) (model.FilterSet, error) {
	var fs model.FilterSet

	b, err := parseBehavior(p)
	if err != nil {
		return fs, err
	}
	if msg := validate().check(b); msg != "" {
		return fs, qerr.Validation("%s", msg)
	}
	fs.Behavior = model.Behavior{Compression: model.CompressionNone}
	if b.Compression != "" {
		fs.Behavior.Compression = model.Compression(b.Compression)
	}
	if b.MostRecent != nil {
		fs.Behavior.MostRecent = *b.MostRecent
	}
	if b.Page != nil {
		fs.Behavior.Page, fs.Behavior.PageSet = *b.Page, true
	}
	fs.Behavior.BatchMeta = p.BatchMeta == "true" || p.BatchMeta == "1"

	spatial, err := parseSpatial(p, b.Radius)
	if err != nil {
		var se shapeError
		if errors.As(err, &se) {
			return fs, qerr.Validation("%s", se.Error())
		}
		return fs, err
	}
	fs.Spatial = spatial

	if fs.Categorical, err = parseCategorical(p); err != nil {
		return fs, err
	}
	if fs.Temporal, err = parseTemporal(p); err != nil {
		return fs, err
	}

	if route.RequireRegion && fs.Spatial.Kind != model.SpatialPolygon && fs.Spatial.Kind != model.SpatialMultiPolygon {
		return fs, qerr.Validation(MsgRegionNeeded)
	}
	if route.RequireDates && !fs.Temporal.Bounded() && !datesWaived(fs) {
		return fs, qerr.Validation(MsgDatesRequired)
	}

	// An id names one document; any region or dates beside it only narrow that.
	fs.SingleID = fs.Categorical.ID != ""
	return fs, nil
}

// datesWaived reports keyed searches that may omit the date range.
func datesWaived(fs model.FilterSet) bool {
	c := fs.Categorical
	return c.ID != "" || c.Platform != "" || c.Metadata != "" || c.Name != ""
}

func parseBehavior(p Params) (behavior, error) {
	b := behavior{Compression: p.Compression}
	if p.MostRecent != "" {
		n, err := strconv.Atoi(p.MostRecent)
		if err != nil {
			return b, qerr.Validation("mostrecent must be an integer")
		}
		b.MostRecent = &n
	}
	if p.Page != "" {
		n, err := strconv.Atoi(p.Page)
		if err != nil {
			return b, qerr.Validation("page must be an integer")
		}
		b.Page = &n
	}
	if p.Radius != "" {
		f, err := strconv.ParseFloat(p.Radius, 64)
		if err != nil {
			return b, qerr.Validation("radius must be a number of kilometers")
		}
		b.Radius = &f
	}
	return b, nil
}

func parseSpatial(p Params, radius *float64) (model.SpatialFilter, error) {
	if (p.Center != "") != (radius != nil) {
		return model.SpatialFilter{}, shapeError(msgCenter)
	}
	n := 0
	for _, s := range []string{p.Box, p.Polygon, p.MultiPolygon, p.Center} {
		if s != "" {
			n++
		}
	}
	if n > 1 {
		return model.SpatialFilter{}, shapeError(msgOneShape)
	}

	switch {
	case p.Polygon != "":
		poly, err := parsePolygon(p.Polygon)
		if err != nil {
			return model.SpatialFilter{}, err
		}
		return model.NewPolygon(poly), nil
	case p.MultiPolygon != "":
		polys, err := parseMultiPolygon(p.MultiPolygon)
		if err != nil {
			return model.SpatialFilter{}, err
		}
		return model.NewMultiPolygon(polys), nil
	case p.Box != "":
		ll, ur, err := parseBox(p.Box)
		if err != nil {
			return model.SpatialFilter{}, err
		}
		return model.NewBox(ll, ur), nil
	case p.Center != "":
		c, err := parseCenter(p.Center)
		if err != nil {
			return model.SpatialFilter{}, err
		}
		return model.NewCircle(c, *radius), nil
	}
	return model.SpatialFilter{}, nil
}

func parseCategorical(p Params) (model.CategoricalFilter, error) {
	c := model.CategoricalFilter{
		ID:           strings.TrimSpace(p.ID),
		Platform:     strings.TrimSpace(p.Platform),
		PlatformType: strings.TrimSpace(p.PlatformType),
		Metadata:     strings.TrimSpace(p.Metadata),
		Name:         strings.TrimSpace(p.Name),
	}
	// dac is an alias of source
	c.Source = append(splitList(p.Source), splitList(p.Dac)...)

	for _, v := range splitList(p.Data) {
		switch {
		case v == dataAll:
			c.Variables.All = true
		case v == dataNone:
			// metadata only; other entries are ignored
			c.Variables = model.VarSelection{}
			return withPres(c, p.PresRange)
		case strings.HasPrefix(v, "~"):
			if name := strings.TrimPrefix(v, "~"); name != "" {
				c.Variables.Exclude = append(c.Variables.Exclude, name)
			}
		default:
			c.Variables.Require = append(c.Variables.Require, v)
		}
	}
	return withPres(c, p.PresRange)
}

func withPres(c model.CategoricalFilter, raw string) (model.CategoricalFilter, error) {
	if raw == "" {
		return c, nil
	}
	parts := splitList(raw)
	if len(parts) != 2 {
		return c, qerr.Validation("presRange must be two comma-separated pressures, low,high")
	}
	var pr [2]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return c, qerr.Validation("presRange must be two comma-separated pressures, low,high")
		}
		pr[i] = f
	}
	if pr[0] > pr[1] {
		return c, qerr.Validation("presRange low pressure must not exceed high pressure")
	}
	c.PresRange = &pr
	return c, nil
}

func parseTemporal(p Params) (model.TemporalFilter, error) {
	var tf model.TemporalFilter
	if p.StartDate != "" {
		t, err := parseTime(p.StartDate)
		if err != nil {
			return tf, qerr.Validation("startDate must be an RFC3339 timestamp, got %q", p.StartDate)
		}
		tf.Start = &t
	}
	if p.EndDate != "" {
		t, err := parseTime(p.EndDate)
		if err != nil {
			return tf, qerr.Validation("endDate must be an RFC3339 timestamp, got %q", p.EndDate)
		}
		tf.End = &t
	}
	if tf.Bounded() && !tf.Start.Before(*tf.End) {
		return tf, qerr.Validation(MsgDateOrder)
	}
	return tf, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
