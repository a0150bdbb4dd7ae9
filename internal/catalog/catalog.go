// Package catalog describes the searchable collections and the policy each
// route applies to them.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

type Kind uint8

const (
	KindProfiles Kind = iota
	KindTrajectories
	KindCyclones
	KindGrid
	KindTimeSeries
)

func (k Kind) String() string {
	switch k {
	case KindTrajectories:
		return "trajectories"
	case KindCyclones:
		return "cyclones"
	case KindGrid:
		return "grid"
	case KindTimeSeries:
		return "timeseries"
	default:
		return "profiles"
	}
}

// Route is the policy for one search surface.
type Route struct {
	Name string
	Kind Kind

	DataCollection string
	MetaCollection string
	// MetaID is the single metadata document describing a grid or time
	// series product.
	MetaID string

	// MetaLookup routes only read the metadata collection.
	MetaLookup bool
	// TimeSeries routes price against the smaller bulk cap and carry the
	// whole series in every record.
	TimeSeries bool
	// RequireDates demands startDate and endDate unless the search is keyed.
	RequireDates bool
	// RequireRegion demands a polygon or multipolygon.
	RequireRegion bool

	// MetaFilters are categorical fields resolved against the metadata
	// collection before the data query is built.
	MetaFilters []string

	// LevelKey names the data column presRange is applied to; empty means
	// levels come from the metadata document.
	LevelKey string
	// KeepKeys survive any variable projection.
	KeepKeys []string

	PageSize   int
	MaxRecords int
}

func (r Route) HasMetaFilter(field string) bool {
	for _, f := range r.MetaFilters {
		if f == field {
			return true
		}
	}
	return false
}

const (
	GridsMeta      = "grids-meta"
	TimeseriesMeta = "timeseriesMeta"
)

// FindGridCollection maps a grid product name to the collection holding it:
// everything before the first underscore.
func FindGridCollection(gridName string) string {
	if i := strings.IndexByte(gridName, '_'); i >= 0 {
		return gridName[:i]
	}
	return gridName
}

// Catalog resolves route names to policies.
type Catalog struct {
	routes     map[string]Route
	grids      map[string]struct{}
	timeseries map[string]struct{}
}

func New(gridCollections, timeseries []string) *Catalog {
	c := &Catalog{
		routes:     map[string]Route{},
		grids:      map[string]struct{}{},
		timeseries: map[string]struct{}{},
	}
	for _, g := range gridCollections {
		if g = strings.TrimSpace(g); g != "" {
			c.grids[g] = struct{}{}
		}
	}
	for _, ts := range timeseries {
		if ts = strings.TrimSpace(ts); ts != "" {
			c.timeseries[ts] = struct{}{}
		}
	}

	c.add(Route{
		Name: "argo", Kind: KindProfiles,
		DataCollection: "argo", MetaCollection: "argoMeta",
		RequireDates: true,
		MetaFilters:  []string{"platform", "platform_type"},
		LevelKey:     "pressure", KeepKeys: []string{"pressure"},
		PageSize: 1000,
	})
	c.add(Route{
		Name: "argo/meta", Kind: KindProfiles,
		MetaCollection: "argoMeta", MetaLookup: true,
		PageSize: 1000,
	})
	c.add(Route{
		Name: "trajectories/argo", Kind: KindTrajectories,
		DataCollection: "argotrajectories", MetaCollection: "argotrajectoriesMeta",
		RequireDates: true,
		MetaFilters:  []string{"platform"},
		PageSize:     1000,
	})
	c.add(Route{
		Name: "trajectories/argo/meta", Kind: KindTrajectories,
		MetaCollection: "argotrajectoriesMeta", MetaLookup: true,
		PageSize: 1000,
	})
	c.add(Route{
		Name: "tc", Kind: KindCyclones,
		DataCollection: "tc", MetaCollection: "tcMeta",
		RequireDates: true,
		MetaFilters:  []string{"name"},
		PageSize:     1000,
	})
	c.add(Route{
		Name: "tc/meta", Kind: KindCyclones,
		MetaCollection: "tcMeta", MetaLookup: true,
		PageSize: 1000,
	})
	c.add(Route{
		Name: "grids/meta", Kind: KindGrid,
		MetaCollection: GridsMeta, MetaLookup: true,
	})
	c.add(Route{
		Name: "timeseries/meta", Kind: KindTimeSeries,
		MetaCollection: TimeseriesMeta, MetaLookup: true, TimeSeries: true,
	})
	return c
}

func (c *Catalog) add(r Route) { c.routes[r.Name] = r }

func (c *Catalog) Lookup(name string) (Route, bool) {
	r, ok := c.routes[name]
	return r, ok
}

// Grid builds the route for one gridded product.
func (c *Catalog) Grid(gridName string) (Route, error) {
	coll := FindGridCollection(gridName)
	if _, ok := c.grids[coll]; !ok || gridName == "" {
		return Route{}, fmt.Errorf("%s is not a supported grid; instead try one of: %s", gridName, strings.Join(c.GridCollections(), ", "))
	}
	return Route{
		Name: "grids/" + coll, Kind: KindGrid,
		DataCollection: coll, MetaCollection: GridsMeta, MetaID: gridName,
		RequireDates: true, RequireRegion: true,
		MaxRecords: 1000,
	}, nil
}

// TimeSeries builds the route for one named time series product.
func (c *Catalog) TimeSeries(name string) (Route, error) {
	if _, ok := c.timeseries[name]; !ok {
		return Route{}, fmt.Errorf("%s is not a supported timeseries; instead try one of: %s", name, strings.Join(c.TimeSeriesNames(), ", "))
	}
	return Route{
		Name: "timeseries/" + name, Kind: KindTimeSeries,
		DataCollection: name, MetaCollection: TimeseriesMeta, MetaID: name,
		TimeSeries: true,
		MaxRecords: 10000,
	}, nil
}

func (c *Catalog) GridCollections() []string { return sortedKeys(c.grids) }

func (c *Catalog) TimeSeriesNames() []string { return sortedKeys(c.timeseries) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
