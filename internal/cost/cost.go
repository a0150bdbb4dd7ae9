// Package cost prices a sanitized request before it reaches the store.
package cost

import (
	"math"

	"github.com/mohammed-shakir/ocean-datagate/internal/catalog"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/model"
	"github.com/mohammed-shakir/ocean-datagate/internal/geo"
	"github.com/mohammed-shakir/ocean-datagate/internal/qerr"
)

const (
	// WholeSphereCells is the ocean area in km² over an equatorial
	// one-degree cell; the whole sphere prices as this many cells.
	WholeSphereCells = 360e6 / 13000

	// AllVariables is the breadth charged for data=all.
	AllVariables = 8
)

type Params struct {
	BaseUnitCost      float64
	UnitPrice         float64
	MetadataDiscount  float64
	MaxBulk           float64
	MaxBulkTimeSeries float64
}

func DefaultParams() Params {
	return Params{
		BaseUnitCost:      1,
		UnitPrice:         0.0001,
		MetadataDiscount:  100,
		MaxBulk:           1e6,
		MaxBulkTimeSeries: 50,
	}
}

// Floor is the price of the cheapest possible request.
func (p Params) Floor() float64 { return p.BaseUnitCost / p.MetadataDiscount }

type Path string

const (
	PathSingleID   Path = "single_id"
	PathMetaRoute  Path = "meta_route"
	PathKeyed      Path = "keyed"
	PathGeographic Path = "geographic"
)

// Breakdown records how a price was reached.
type Breakdown struct {
	Path         Path
	Steradians   float64
	Cells        float64
	Days         float64
	Breadth      float64
	MetadataOnly bool
	Raw          float64
	Price        float64
}

// Estimate prices fs on route r. A request whose raw burden exceeds the
// route's bulk cap returns a scope error; it can never be admitted.
func Estimate(fs model.FilterSet, r catalog.Route, p Params) (Breakdown, error) {
	b := Breakdown{MetadataOnly: fs.MetadataOnly()}
	floor := p.Floor()

	switch {
	case fs.SingleID:
		b.Path, b.Price = PathSingleID, floor
		return b, nil
	case r.MetaLookup:
		b.Path, b.Price = PathMetaRoute, floor
		return b, nil
	case fs.Keyed() && fs.Spatial.Kind == model.SpatialNone && fs.Temporal.Empty():
		b.Path, b.Price = PathKeyed, p.BaseUnitCost
		if b.MetadataOnly {
			b.Price /= p.MetadataDiscount
		}
		return b, nil
	}

	b.Path = PathGeographic
	b.Steradians = fs.Spatial.Steradians()
	b.Cells = b.Steradians / geo.WholeSphere * WholeSphereCells
	b.Days = 1
	if !r.TimeSeries {
		b.Days = math.Max(fs.Temporal.Span().Hours()/24, 1)
	}
	b.Breadth = breadth(fs.Categorical.Variables)

	b.Raw = b.Cells * b.Days * b.Breadth
	if b.MetadataOnly {
		b.Raw /= p.MetadataDiscount
	}

	limit := p.MaxBulk
	if r.TimeSeries {
		limit = p.MaxBulkTimeSeries
	}
	if b.Raw > limit {
		return b, qerr.Scope("")
	}

	b.Price = math.Max(b.Raw*p.UnitPrice*p.BaseUnitCost, floor)
	return b, nil
}

// breadth grows with the log of the number of requested variables.
func breadth(v model.VarSelection) float64 {
	n := v.Breadth(AllVariables)
	if n <= 1 {
		return 1
	}
	return 1 + math.Log2(float64(n))
}
