package store

import (
	"sort"

	"github.com/mohammed-shakir/ocean-datagate/internal/geo"
)

func matchableField(f string) bool {
	switch f {
	case "_id", "metadata", "platform", "platform_type", "name":
		return true
	}
	return false
}

// fieldValues returns the values a document holds for an Eq/In field.
func fieldValues(d *Document, field string) []string {
	switch field {
	case "_id":
		return []string{d.ID}
	case "metadata":
		return d.Metadata
	case "platform":
		return []string{d.Platform}
	case "platform_type":
		return []string{d.PlatformType}
	case "name":
		return []string{d.Name}
	}
	return nil
}

// Match evaluates one op against d. Both backends use it as the final word
// on membership, whatever index seeded their candidates.
func Match(d *Document, op Op) bool {
	switch op.Kind {
	case OpNear:
		p, ok := d.Geolocation.Point()
		return ok && geo.DistanceKm(op.Center, p) <= op.RadiusKm
	case OpTimeRange:
		if d.Timestamp == nil {
			return false
		}
		if op.Start != nil && d.Timestamp.Before(*op.Start) {
			return false
		}
		if op.End != nil && !d.Timestamp.Before(*op.End) {
			return false
		}
		return true
	case OpEq:
		for _, v := range fieldValues(d, op.Field) {
			if v == op.Value {
				return true
			}
		}
		return false
	case OpIn:
		want := make(map[string]struct{}, len(op.Values))
		for _, v := range op.Values {
			want[v] = struct{}{}
		}
		for _, v := range fieldValues(d, op.Field) {
			if _, ok := want[v]; ok {
				return true
			}
		}
		return false
	case OpSources:
		return matchTags(d.Sources(), op.Include, op.Exclude)
	case OpVariables:
		return matchAll(d.DataKeys, op.Include, op.Exclude)
	case OpWithinPolygon:
		p, ok := d.Geolocation.Point()
		return ok && geo.PolygonContains(op.Polygon, p)
	case OpWithinBox:
		p, ok := d.Geolocation.Point()
		return ok && geo.BoxContains(op.LowerLeft, op.UpperRight, p)
	}
	return false
}

// MatchAll reports whether d passes every op of q.
func MatchAll(d *Document, ops []Op) bool {
	for _, op := range ops {
		if !Match(d, op) {
			return false
		}
	}
	return true
}

// matchTags needs any included tag and no excluded one.
func matchTags(have, include, exclude []string) bool {
	set := toSet(have)
	for _, x := range exclude {
		if _, ok := set[x]; ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, x := range include {
		if _, ok := set[x]; ok {
			return true
		}
	}
	return false
}

// matchAll needs every included key and no excluded one.
func matchAll(have, include, exclude []string) bool {
	set := toSet(have)
	for _, x := range exclude {
		if _, ok := set[x]; ok {
			return false
		}
	}
	for _, x := range include {
		if _, ok := set[x]; !ok {
			return false
		}
	}
	return true
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func unixMilli(d *Document) int64 {
	if d.Timestamp == nil {
		return 0
	}
	return d.Timestamp.UnixMilli()
}

// SortDocs orders docs for q. Ties break on _id so pages are stable.
func SortDocs(docs []*Document, q Query) {
	near, hasNear := q.NearOp()
	switch {
	case q.Sort == SortNatural && hasNear:
		dist := func(d *Document) float64 {
			p, _ := d.Geolocation.Point()
			return geo.DistanceKm(near.Center, p)
		}
		sort.SliceStable(docs, func(i, j int) bool {
			di, dj := dist(docs[i]), dist(docs[j])
			if di != dj {
				return di < dj
			}
			return docs[i].ID < docs[j].ID
		})
	case q.Sort == SortTimeDesc:
		sort.SliceStable(docs, func(i, j int) bool {
			ti, tj := unixMilli(docs[i]), unixMilli(docs[j])
			if ti != tj {
				return ti > tj
			}
			return docs[i].ID > docs[j].ID
		})
	default:
		sort.SliceStable(docs, func(i, j int) bool {
			ti, tj := unixMilli(docs[i]), unixMilli(docs[j])
			if ti != tj {
				return ti < tj
			}
			return docs[i].ID < docs[j].ID
		})
	}
}

// Window applies skip and limit.
func Window(docs []*Document, skip, limit int) []*Document {
	if skip >= len(docs) {
		return nil
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
