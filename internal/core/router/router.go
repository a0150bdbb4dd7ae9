// Package router wires the HTTP surface: every data route runs
// sanitize, price, admit, plan and stream in that order.
package router

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/ocean-datagate/internal/admission"
	"github.com/mohammed-shakir/ocean-datagate/internal/apikeys"
	"github.com/mohammed-shakir/ocean-datagate/internal/catalog"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/health"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/middleware"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/observability"
	"github.com/mohammed-shakir/ocean-datagate/internal/cost"
	mylog "github.com/mohammed-shakir/ocean-datagate/internal/logger"
	"github.com/mohammed-shakir/ocean-datagate/internal/pipeline"
	"github.com/mohammed-shakir/ocean-datagate/internal/planner"
	"github.com/mohammed-shakir/ocean-datagate/internal/qerr"
	"github.com/mohammed-shakir/ocean-datagate/internal/sanitize"
)

// KeyHeader carries the client's API key.
const KeyHeader = "x-argokey"

type Deps struct {
	Logger    *slog.Logger
	Catalog   *catalog.Catalog
	Cost      cost.Params
	Admission *admission.Controller
	Keys      apikeys.Registry
	Pipeline  *pipeline.Pipeline
	CORS      middleware.CORSOptions

	// Ready is served on /readyz; nil serves liveness there too.
	Ready http.HandlerFunc
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

type api struct {
	Deps
}

func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RealIP())
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.CORS(d.CORS))

	r.Get("/healthz", health.Liveness())
	if d.Ready != nil {
		r.Get("/readyz", d.Ready)
	} else {
		r.Get("/readyz", health.Liveness())
	}
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}

	r.Get("/token", a.token)

	for _, name := range []string{
		"argo", "argo/meta",
		"trajectories/argo", "trajectories/argo/meta",
		"tc", "tc/meta",
		"grids/meta", "timeseries/meta",
	} {
		route, ok := d.Catalog.Lookup(name)
		if !ok {
			continue
		}
		r.Get("/"+name, func(w http.ResponseWriter, req *http.Request) {
			a.serve(w, req, route, sanitize.ParamsFromQuery(req.URL.Query()))
		})
	}
	r.Get("/grids/{gridName}", a.grid)
	r.Get("/timeseries/{timeseriesName}", a.timeseries)

	return r
}

func (a *api) token(w http.ResponseWriter, r *http.Request) {
	ok, err := a.Keys.Valid(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		a.Logger.ErrorContext(r.Context(), "token lookup failed", "err", err)
		qerr.Write(w, qerr.Store(err))
		return
	}
	if !ok {
		qerr.Write(w, qerr.NotFound())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`[{"tokenValid":true}]`))
}

func (a *api) grid(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "gridName")
	route, err := a.Catalog.Grid(name)
	if err != nil {
		qerr.Write(w, qerr.Validation("%s", err.Error()))
		return
	}
	// A bare grid request describes the product instead of returning cells.
	if len(r.URL.Query()) == 0 {
		meta, _ := a.Catalog.Lookup("grids/meta")
		a.serve(w, r, meta, sanitize.Params{ID: name})
		return
	}
	a.serve(w, r, route, sanitize.ParamsFromQuery(r.URL.Query()))
}

func (a *api) timeseries(w http.ResponseWriter, r *http.Request) {
	route, err := a.Catalog.TimeSeries(chi.URLParam(r, "timeseriesName"))
	if err != nil {
		qerr.Write(w, qerr.Validation("%s", err.Error()))
		return
	}
	a.serve(w, r, route, sanitize.ParamsFromQuery(r.URL.Query()))
}

func (a *api) serve(w http.ResponseWriter, r *http.Request, route catalog.Route, params sanitize.Params) {
	ctx := mylog.WithRoute(r.Context(), route.Name)
	id := a.identify(ctx, r)
	ctx = mylog.WithClientID(ctx, clientID(id))

	fs, err := sanitize.Sanitize(params, route)
	if err != nil {
		qerr.Write(w, err)
		return
	}

	price, err := cost.Estimate(fs, route, a.Cost)
	if err != nil {
		observability.IncAdmission(string(id.Tier), "scope")
		a.Logger.InfoContext(ctx, "request out of scope", "raw", price.Raw, "path", string(price.Path))
		qerr.Write(w, err)
		return
	}
	observability.ObserveCost(route.Name, string(price.Path), price.Price)

	d, err := a.Admission.Admit(ctx, id, price.Price)
	if err != nil {
		outcome := "throttled"
		switch qerr.KindOf(err) {
		case qerr.KindScope:
			outcome = "scope"
		case qerr.KindStore:
			outcome = "error"
			a.Logger.ErrorContext(ctx, "admission backend failed", "err", err)
		}
		observability.IncAdmission(string(id.Tier), outcome)
		qerr.Write(w, err)
		return
	}
	observability.IncAdmission(string(id.Tier), "allowed")
	a.Logger.DebugContext(ctx, "admitted", "cost", price.Price, "remaining", d.Remaining)

	_ = a.Pipeline.Serve(ctx, w, planner.Build(fs, route))
}

// identify keys the bucket on a registered API key, or on the client IP
// when the key is missing, unknown or the public guest token.
func (a *api) identify(ctx context.Context, r *http.Request) admission.Identity {
	if key := r.Header.Get(KeyHeader); key != "" && key != apikeys.Guest && a.Keys != nil {
		ok, err := a.Keys.Valid(ctx, key)
		if err != nil {
			a.Logger.WarnContext(ctx, "api key lookup failed; using anonymous tier", "err", err)
		}
		if ok {
			return admission.Identity{Tier: admission.TierKey, Key: key}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return admission.Identity{Tier: admission.TierAnon, Key: host}
}

// clientID is the loggable form of id; API keys are hashed.
func clientID(id admission.Identity) string {
	if id.Tier == admission.TierKey {
		return string(id.Tier) + ":" + strconv.FormatUint(xxhash.Sum64String(id.Key), 16)
	}
	return id.String()
}
