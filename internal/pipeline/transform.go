package pipeline

import (
	"time"

	"github.com/mohammed-shakir/ocean-datagate/internal/core/model"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

// Reinflate expands positional rows into named records using keys.
// Missing trailing values are omitted from the record.
func Reinflate(keys []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		rec := make(map[string]any, len(keys))
		for j, k := range keys {
			if j < len(row) {
				rec[k] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// Minify is the inverse of Reinflate: absent keys become nil.
func Minify(keys []string, records []map[string]any) [][]any {
	out := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(keys))
		for j, k := range keys {
			row[j] = rec[k]
		}
		out[i] = row
	}
	return out
}

// stub is the minimal record: id, lon, lat, timestamp, metadata. Time
// series records carry no timestamp of their own.
func stub(d *store.Document, timeSeries bool) []any {
	var lon, lat any
	if pt, ok := d.Geolocation.Point(); ok {
		lon, lat = pt[0], pt[1]
	}
	meta := d.Metadata
	if meta == nil {
		meta = []string{}
	}
	if timeSeries {
		return []any{d.ID, lon, lat, meta}
	}
	var ts any
	if d.Timestamp != nil {
		ts = d.Timestamp.UTC().Format(time.RFC3339)
	}
	return []any{d.ID, lon, lat, ts, meta}
}

// selectColumns keeps the requested variables plus keep, in stored order.
func selectColumns(d *store.Document, v model.VarSelection, keep []string) {
	if v.All || len(v.Require) == 0 || d.Data == nil {
		return
	}
	want := make(map[string]bool, len(v.Require)+len(keep))
	for _, k := range v.Require {
		want[k] = true
	}
	for _, k := range keep {
		want[k] = true
	}
	var idx []int
	var keys []string
	for i, k := range d.DataKeys {
		if want[k] {
			idx = append(idx, i)
			keys = append(keys, k)
		}
	}
	for r, row := range d.Data {
		next := make([]any, 0, len(idx))
		for _, i := range idx {
			if i < len(row) {
				next = append(next, row[i])
			}
		}
		d.Data[r] = next
	}
	d.DataKeys = keys
}

// filterRows keeps the rows whose index passes keep.
func filterRows(d *store.Document, keep func(i int, row []any) bool) {
	out := d.Data[:0]
	for i, row := range d.Data {
		if keep(i, row) {
			out = append(out, row)
		}
	}
	d.Data = out
}

func inRange(v float64, pr [2]float64) bool { return v >= pr[0] && v <= pr[1] }

// levelColumn filters profile rows on the value in column key. It reports
// false when the document has no such column.
func levelColumn(d *store.Document, key string, pr [2]float64) bool {
	col := -1
	for i, k := range d.DataKeys {
		if k == key {
			col = i
			break
		}
	}
	if col < 0 {
		return false
	}
	filterRows(d, func(_ int, row []any) bool {
		if col >= len(row) {
			return false
		}
		f, ok := toFloat(row[col])
		return ok && inRange(f, pr)
	})
	return true
}

// levelIndex filters grid rows on the shared level axis.
func levelIndex(d *store.Document, levels []float64, pr [2]float64) {
	filterRows(d, func(i int, _ []any) bool {
		return i < len(levels) && inRange(levels[i], pr)
	})
}

// filterLevels returns the levels inside pr.
func filterLevels(levels []float64, pr [2]float64) []float64 {
	out := make([]float64, 0, len(levels))
	for _, l := range levels {
		if inRange(l, pr) {
			out = append(out, l)
		}
	}
	return out
}

// seriesWindow returns the [lo, hi) row indexes of axis inside dates,
// narrowed to the last mostRecent steps when mostRecent > 0.
func seriesWindow(axis []time.Time, dates model.TemporalFilter, mostRecent int) (lo, hi int) {
	lo, hi = 0, len(axis)
	for lo < hi && dates.Start != nil && axis[lo].Before(*dates.Start) {
		lo++
	}
	for hi > lo && dates.End != nil && !axis[hi-1].Before(*dates.End) {
		hi--
	}
	if mostRecent > 0 && hi-lo > mostRecent {
		lo = hi - mostRecent
	}
	return lo, hi
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
