// Package planner turns a sanitized filter set into the store queries that
// answer it, plus the postprocessing the stream pipeline applies on the way
// out.
package planner

import (
	"github.com/mohammed-shakir/ocean-datagate/internal/catalog"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/model"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

// minimalFields are enough to build the minimal tuple.
var minimalFields = []string{"metadata", "geolocation", "timestamp"}

// Plan is everything the pipeline needs to run one request.
type Plan struct {
	Route catalog.Route

	// Data is the data collection query; nil on metadata routes.
	Data *store.Query
	// Meta is the metadata collection query. On metadata routes it is the
	// whole request.
	Meta *store.Query

	// MetaAsFilter means Meta resolves the metadata ids Data is restricted
	// to, so it must finish before Data is issued.
	MetaAsFilter bool
	// MetaFirst means the data postprocessing needs the single metadata
	// document (grid levels, time-series axis) in hand.
	MetaFirst bool

	Compression model.Compression
	Variables   model.VarSelection
	PresRange   *[2]float64
	// Dates slices time-series axes; data queries carry it as an op.
	Dates      model.TemporalFilter
	MostRecent int
	BatchMeta  bool

	// MaxRecords is the hard ceiling; 0 disables it.
	MaxRecords int

	metaSlot int
}

// Build plans fs on route r.
func Build(fs model.FilterSet, r catalog.Route) Plan {
	p := Plan{
		Route:       r,
		Compression: fs.Behavior.Compression,
		Variables:   fs.Categorical.Variables,
		PresRange:   fs.Categorical.PresRange,
		Dates:       fs.Temporal,
		MostRecent:  fs.Behavior.MostRecent,
		BatchMeta:   fs.Behavior.BatchMeta,
		MaxRecords:  r.MaxRecords,
	}
	if p.Compression == "" {
		p.Compression = model.CompressionNone
	}

	if r.MetaLookup {
		q := metaLookup(fs, r)
		p.Meta = &q
		return p
	}

	data := dataQuery(fs, r, &p.metaSlot)
	p.Data = &data

	switch {
	case r.MetaID != "":
		q := store.Query{Collection: r.MetaCollection, Ops: []store.Op{store.Eq("_id", r.MetaID)}, Limit: 1}
		p.Meta = &q
		// time-series records are sliced against the meta axis
		p.MetaFirst = r.TimeSeries
	default:
		if ops := metaFilterOps(fs, r); len(ops) > 0 {
			q := store.Query{Collection: r.MetaCollection, Ops: ops}
			p.Meta = &q
			p.MetaAsFilter = true
		}
	}
	return p
}

// DataWithMetaIDs returns the data query restricted to ids, placed right
// after the time range so index-friendly ops still lead.
func (p Plan) DataWithMetaIDs(ids []string) store.Query {
	q := *p.Data
	ops := make([]store.Op, 0, len(q.Ops)+1)
	ops = append(ops, q.Ops[:p.metaSlot]...)
	ops = append(ops, store.In("metadata", ids))
	ops = append(ops, q.Ops[p.metaSlot:]...)
	q.Ops = ops
	return q
}

// Paginated reports whether the data query is windowed by page.
func (p Plan) Paginated() bool {
	return p.Data != nil && p.Route.PageSize > 0 && p.MostRecent == 0
}

func dataQuery(fs model.FilterSet, r catalog.Route, metaSlot *int) store.Query {
	q := store.Query{Collection: r.DataCollection}
	c := fs.Categorical

	if fs.Spatial.Kind == model.SpatialCircle {
		q.Ops = append(q.Ops, store.Near(fs.Spatial.Center, fs.Spatial.RadiusKm))
	}
	// time-series documents carry the whole axis; dates slice it later
	if !r.TimeSeries && !fs.Temporal.Empty() {
		q.Ops = append(q.Ops, store.TimeRange(fs.Temporal.Start, fs.Temporal.End))
	}
	*metaSlot = len(q.Ops)

	if c.ID != "" {
		q.Ops = append(q.Ops, store.Eq("_id", c.ID))
	}
	if c.Metadata != "" {
		q.Ops = append(q.Ops, store.Eq("metadata", c.Metadata))
	}
	for _, f := range []struct{ field, val string }{
		{"platform", c.Platform},
		{"platform_type", c.PlatformType},
		{"name", c.Name},
	} {
		if f.val != "" && !r.HasMetaFilter(f.field) {
			q.Ops = append(q.Ops, store.Eq(f.field, f.val))
		}
	}
	if len(c.Source) > 0 {
		var inc, exc []string
		for _, s := range c.Source {
			if len(s) > 1 && s[0] == '~' {
				exc = append(exc, s[1:])
			} else {
				inc = append(inc, s)
			}
		}
		q.Ops = append(q.Ops, store.Sources(inc, exc))
	}
	if v := c.Variables; len(v.Require) > 0 || len(v.Exclude) > 0 {
		q.Ops = append(q.Ops, store.Variables(v.Require, v.Exclude))
	}

	switch fs.Spatial.Kind {
	case model.SpatialPolygon:
		q.Ops = append(q.Ops, store.WithinPolygon(fs.Spatial.Polygon))
	case model.SpatialBox:
		q.Ops = append(q.Ops, store.WithinBox(fs.Spatial.Box.LowerLeft, fs.Spatial.Box.UpperRight))
	case model.SpatialMultiPolygon:
		// members are already smallest first
		for _, poly := range fs.Spatial.Polygons {
			q.Ops = append(q.Ops, store.WithinPolygon(poly))
		}
	}

	// minimal records never carry data; presRange still needs the levels
	if fs.Behavior.Compression == model.CompressionMinimal && c.PresRange == nil {
		q.Projection = minimalFields
	}

	switch {
	case fs.Behavior.MostRecent > 0 && !r.TimeSeries:
		q.Sort, q.Limit = store.SortTimeDesc, fs.Behavior.MostRecent
	case r.PageSize > 0 && fs.Behavior.MostRecent == 0:
		q.Skip, q.Limit = fs.Behavior.Page*r.PageSize, r.PageSize
	case r.MaxRecords > 0:
		// one past the ceiling is enough to know it was crossed
		q.Limit = r.MaxRecords + 1
	}
	return q
}

// metaFilterOps are the categorical constraints answered by the metadata
// collection on this route.
func metaFilterOps(fs model.FilterSet, r catalog.Route) []store.Op {
	c := fs.Categorical
	var ops []store.Op
	for _, f := range []struct{ field, val string }{
		{"platform", c.Platform},
		{"platform_type", c.PlatformType},
		{"name", c.Name},
	} {
		if f.val != "" && r.HasMetaFilter(f.field) {
			ops = append(ops, store.Eq(f.field, f.val))
		}
	}
	return ops
}

func metaLookup(fs model.FilterSet, r catalog.Route) store.Query {
	c := fs.Categorical
	q := store.Query{Collection: r.MetaCollection}
	for _, f := range []struct{ field, val string }{
		{"_id", c.ID},
		{"platform", c.Platform},
		{"platform_type", c.PlatformType},
		{"name", c.Name},
	} {
		if f.val != "" {
			q.Ops = append(q.Ops, store.Eq(f.field, f.val))
		}
	}
	if r.PageSize > 0 {
		q.Skip, q.Limit = fs.Behavior.Page*r.PageSize, r.PageSize
	}
	return q
}
