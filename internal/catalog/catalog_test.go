package catalog

import (
	"strings"
	"testing"
)

func TestFindGridCollection(t *testing.T) {
	cases := map[string]string{
		"rg09_temperature_200401_Total": "rg09",
		"kg21_ohc15to300":               "kg21",
		"glodap":                        "glodap",
		"":                              "",
	}
	for in, want := range cases {
		if got := FindGridCollection(in); got != want {
			t.Fatalf("FindGridCollection(%q)=%q want %q", in, got, want)
		}
	}
}

func TestGrid_UnknownCollection(t *testing.T) {
	c := New([]string{"rg09", "kg21"}, nil)
	r, err := c.Grid("rg09_temperature_200401_Total")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.DataCollection != "rg09" || r.MetaCollection != GridsMeta || !r.RequireRegion {
		t.Fatalf("unexpected route %+v", r)
	}

	_, err = c.Grid("nope_temperature")
	if err == nil || !strings.Contains(err.Error(), "kg21, rg09") {
		t.Fatalf("expected listing of supported grids, got %v", err)
	}
}

func TestLookup_StaticRoutes(t *testing.T) {
	c := New(nil, []string{"noaasst"})
	argo, ok := c.Lookup("argo")
	if !ok || !argo.RequireDates || !argo.HasMetaFilter("platform") || argo.HasMetaFilter("source") {
		t.Fatalf("unexpected argo route %+v", argo)
	}
	meta, ok := c.Lookup("argo/meta")
	if !ok || !meta.MetaLookup {
		t.Fatalf("unexpected meta route %+v", meta)
	}
	ts, err := c.TimeSeries("noaasst")
	if err != nil || !ts.TimeSeries || ts.DataCollection != "noaasst" {
		t.Fatalf("unexpected timeseries route %+v err=%v", ts, err)
	}
}
