// Package storetest builds deterministic document sets shared by the store,
// pipeline and router tests.
package storetest

import (
	"fmt"
	"time"

	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Platforms are the floats used by Profiles; each has one metadata doc.
var Platforms = []string{"4902911", "5906001", "6990503"}

// Profiles lays n profiles per platform on a lon/lat lattice around the
// equatorial Atlantic, one every six hours.
func Profiles(n int) []*store.Document {
	var out []*store.Document
	for pi, plat := range Platforms {
		for i := 0; i < n; i++ {
			ts := Epoch.Add(time.Duration(pi*n+i) * 6 * time.Hour)
			lon := -40 + float64(pi)*5 + float64(i%5)
			lat := -10 + float64(i%20)
			keys := []string{"pressure", "temperature", "salinity"}
			if pi == 2 {
				keys = append(keys, "doxy")
			}
			data := make([][]any, 0, 4)
			for lvl := 0; lvl < 4; lvl++ {
				row := []any{float64(5 + lvl*10), 25.0 - float64(lvl), 35.0 + float64(lvl)/10}
				if pi == 2 {
					row = append(row, 200.0+float64(lvl))
				}
				data = append(data, row)
			}
			src := "argo_core"
			if pi == 2 {
				src = "argo_bgc"
			}
			out = append(out, &store.Document{
				ID:          fmt.Sprintf("%s_%03d", plat, i),
				Metadata:    []string{plat + "_m0"},
				Geolocation: store.NewGeoPoint(lon, lat),
				Timestamp:   &ts,
				Source:      []store.SourceInfo{{Source: []string{src}}},
				DataKeys:    keys,
				Data:        data,
			})
		}
	}
	return out
}

// ProfileMeta returns one metadata document per platform.
func ProfileMeta() []*store.Document {
	types := []string{"APEX", "SOLO_II", "NAVIS_EBR"}
	out := make([]*store.Document, len(Platforms))
	for i, plat := range Platforms {
		out[i] = &store.Document{
			ID:           plat + "_m0",
			Platform:     plat,
			PlatformType: types[i],
			DataKeys:     []string{"pressure", "temperature", "salinity"},
		}
	}
	return out
}

// GridName is the gridded product served by Grid.
const GridName = "rg09_temperature_200401_Total"

// GridLevels is the pressure axis of GridName.
var GridLevels = []float64{2.5, 10, 20, 30}

// Grid returns n one-degree cells of GridName, each with one row per level.
func Grid(n int) []*store.Document {
	ts := Epoch.Add(12 * time.Hour)
	out := make([]*store.Document, n)
	for i := range out {
		rows := make([][]any, len(GridLevels))
		for l := range rows {
			rows[l] = []any{10.0 + float64(l)}
		}
		out[i] = &store.Document{
			ID:          fmt.Sprintf("rg09_%03d", i),
			Metadata:    []string{GridName},
			Geolocation: store.NewGeoPoint(0.5+float64(i%5), 0.5+float64(i/5)),
			Timestamp:   &ts,
			DataKeys:    []string{"rg09_temperature"},
			Data:        rows,
		}
	}
	return out
}

func GridMeta() *store.Document {
	return &store.Document{
		ID:       GridName,
		DataKeys: []string{"rg09_temperature"},
		Levels:   append([]float64(nil), GridLevels...),
	}
}

// SeriesName is the time series served by Series.
const SeriesName = "noaasst"

// SeriesSteps is the number of weekly steps on the SeriesName axis.
const SeriesSteps = 10

func SeriesMeta() *store.Document {
	axis := make([]time.Time, SeriesSteps)
	for k := range axis {
		axis[k] = Epoch.AddDate(0, 0, 7*k)
	}
	return &store.Document{ID: SeriesName, DataKeys: []string{"sst"}, Timeseries: axis}
}

// Series returns two locations whose k-th row holds 20+k.
func Series() []*store.Document {
	out := make([]*store.Document, 2)
	for i := range out {
		rows := make([][]any, SeriesSteps)
		for k := range rows {
			rows[k] = []any{20.0 + float64(k)}
		}
		out[i] = &store.Document{
			ID:          fmt.Sprintf("%s_%d", SeriesName, i),
			Metadata:    []string{SeriesName},
			Geolocation: store.NewGeoPoint(10.5+float64(i), -20.5),
			DataKeys:    []string{"sst"},
			Data:        rows,
		}
	}
	return out
}
