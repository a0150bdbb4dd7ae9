// Package pipeline runs a query plan against the store and streams the
// postprocessed result to the client.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/ocean-datagate/internal/core/model"
	"github.com/mohammed-shakir/ocean-datagate/internal/core/observability"
	"github.com/mohammed-shakir/ocean-datagate/internal/metacache"
	"github.com/mohammed-shakir/ocean-datagate/internal/planner"
	"github.com/mohammed-shakir/ocean-datagate/internal/qerr"
	"github.com/mohammed-shakir/ocean-datagate/internal/store"
)

// StatusTrailer tells a client whether a 200 stream ran to completion.
const StatusTrailer = "X-Stream-Status"

const (
	StatusComplete = "complete"
	StatusError    = "error"
)

type Config struct {
	// QueryTimeout bounds every store round-trip of one request.
	QueryTimeout time.Duration
	// CloseGrace bounds releasing the cursor once the request is over.
	CloseGrace time.Duration
	// FlushEvery is the number of records written between flushes.
	FlushEvery int
}

type Pipeline struct {
	store  store.Store
	meta   *metacache.Cache
	logger *slog.Logger
	cfg    Config
}

func New(st store.Store, meta *metacache.Cache, logger *slog.Logger, cfg Config) *Pipeline {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 100
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 2 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{store: st, meta: meta, logger: logger, cfg: cfg}
}

// Serve executes p and writes the response. Errors before the first record
// are written as {code,message}; later ones end the stream with an error
// trailer. The returned error is for logging only.
func (pl *Pipeline) Serve(ctx context.Context, w http.ResponseWriter, p planner.Plan) error {
	if pl.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pl.cfg.QueryTimeout)
		defer cancel()
	}

	s, err := pl.open(ctx, p)
	defer s.close(ctx, pl.cfg.CloseGrace)
	if err != nil {
		return pl.fail(ctx, w, p, err)
	}
	return pl.stream(ctx, w, s)
}

// session owns the data cursor of one request.
type session struct {
	p   planner.Plan
	cur store.Cursor

	// metaDoc is the grid or time-series description.
	metaDoc *store.Document
	// lo, hi window the time-series axis.
	lo, hi int

	pending  []*store.Document
	metaIDs  []string
	seenMeta map[string]bool
}

func (pl *Pipeline) open(ctx context.Context, p planner.Plan) (*session, error) {
	s := &session{p: p, seenMeta: map[string]bool{}}

	if p.Data == nil {
		cur, err := pl.find(ctx, *p.Meta)
		s.cur = cur
		return s, err
	}

	q := *p.Data
	switch {
	case p.MetaAsFilter:
		ids, err := pl.resolveMetaIDs(ctx, *p.Meta)
		if err != nil {
			return s, err
		}
		if len(ids) == 0 {
			return s, qerr.NotFound()
		}
		q = p.DataWithMetaIDs(ids)

	case p.MetaFirst:
		doc, err := pl.describe(ctx, p)
		if err != nil {
			return s, err
		}
		s.setMeta(doc)

	case p.Meta != nil:
		var (
			doc *store.Document
			cur store.Cursor
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			doc, err = pl.describe(gctx, p)
			return err
		})
		g.Go(func() error {
			var err error
			cur, err = pl.find(gctx, q)
			return err
		})
		err := g.Wait()
		s.cur = cur
		if err != nil {
			return s, err
		}
		s.setMeta(doc)
		return s, nil
	}

	cur, err := pl.find(ctx, q)
	s.cur = cur
	return s, err
}

func (s *session) setMeta(doc *store.Document) {
	s.metaDoc = doc
	if s.p.Route.TimeSeries {
		s.lo, s.hi = seriesWindow(doc.Timeseries, s.p.Dates, s.p.MostRecent)
	}
}

func (s *session) close(ctx context.Context, grace time.Duration) {
	if s == nil || s.cur == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	_ = s.cur.Close(cctx)
}

func (pl *Pipeline) find(ctx context.Context, q store.Query) (store.Cursor, error) {
	cur, err := pl.store.Find(ctx, q)
	if err != nil {
		return nil, classify(err)
	}
	return cur, nil
}

// resolveMetaIDs runs the metadata filter to completion and returns the
// matching ids. The documents warm the metadata cache for batchmeta.
func (pl *Pipeline) resolveMetaIDs(ctx context.Context, q store.Query) ([]string, error) {
	cur, err := pl.find(ctx, q)
	if err != nil {
		return nil, err
	}
	docs, err := store.Drain(ctx, cur)
	if err != nil {
		return nil, classify(err)
	}
	pl.meta.Put(q.Collection, docs...)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// describe loads the product's single metadata document.
func (pl *Pipeline) describe(ctx context.Context, p planner.Plan) (*store.Document, error) {
	docs, err := pl.meta.Lookup(ctx, p.Route.MetaCollection, []string{p.Route.MetaID})
	if err != nil {
		return nil, classify(err)
	}
	if len(docs) == 0 {
		return nil, qerr.NotFound()
	}
	return docs[0], nil
}

// lookahead buffers one document past the ceiling so an oversized result
// is refused before anything is written.
func (s *session) lookahead(ctx context.Context) error {
	limit := s.p.MaxRecords
	if limit <= 0 {
		return nil
	}
	for len(s.pending) <= limit {
		d, err := s.cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classify(err)
		}
		s.pending = append(s.pending, d)
	}
	return qerr.Validation("%s", qerr.MsgTooBroad)
}

// next returns the next postprocessed record, skipping documents the
// postprocessing empties. It returns io.EOF at the end.
func (s *session) next(ctx context.Context) (any, error) {
	for {
		var d *store.Document
		if len(s.pending) > 0 {
			d, s.pending = s.pending[0], s.pending[1:]
		} else {
			var err error
			if d, err = s.cur.Next(ctx); err != nil {
				return nil, err
			}
		}
		rec, ok := s.transform(d)
		if !ok {
			continue
		}
		if s.p.BatchMeta {
			for _, m := range d.Metadata {
				if !s.seenMeta[m] {
					s.seenMeta[m] = true
					s.metaIDs = append(s.metaIDs, m)
				}
			}
		}
		return rec, nil
	}
}

func (s *session) transform(d *store.Document) (any, bool) {
	p := s.p
	if p.Data == nil {
		return d, true
	}

	if p.Route.TimeSeries && s.metaDoc != nil {
		if d.Data != nil {
			if s.lo == s.hi {
				return nil, false
			}
			d.Data = d.Data[min(s.lo, len(d.Data)):min(s.hi, len(d.Data))]
		}
		d.Timeseries = s.metaDoc.Timeseries[s.lo:s.hi]
	}

	if pr := p.PresRange; pr != nil && d.Data != nil {
		switch {
		case p.Route.LevelKey != "":
			levelColumn(d, p.Route.LevelKey, *pr)
		case s.metaDoc != nil && len(s.metaDoc.Levels) > 0:
			levelIndex(d, s.metaDoc.Levels, *pr)
		}
		if len(d.Data) == 0 {
			return nil, false
		}
	}

	if p.Compression == model.CompressionMinimal {
		return stub(d, p.Route.TimeSeries), true
	}
	if !p.Variables.Requested() {
		d.Data = nil
		return d, true
	}
	selectColumns(d, p.Variables, p.Route.KeepKeys)
	d.Inflated = Reinflate(d.DataKeys, d.Data)
	return d, true
}

// leader is the grid description sent ahead of the grid records.
func (s *session) leader() *store.Document {
	if s.metaDoc == nil || s.p.Route.TimeSeries || s.p.BatchMeta {
		return nil
	}
	lead := s.metaDoc.Clone()
	if s.p.PresRange != nil {
		lead.Levels = filterLevels(lead.Levels, *s.p.PresRange)
	}
	return lead
}

func (pl *Pipeline) stream(ctx context.Context, w http.ResponseWriter, s *session) error {
	p := s.p
	if err := s.lookahead(ctx); err != nil {
		return pl.fail(ctx, w, p, err)
	}
	first, err := s.next(ctx)
	if errors.Is(err, io.EOF) {
		return pl.fail(ctx, w, p, qerr.NotFound())
	}
	if err != nil {
		return pl.fail(ctx, w, p, classify(err))
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Trailer", StatusTrailer)
	w.WriteHeader(http.StatusOK)

	sw := &streamWriter{w: w, rc: http.NewResponseController(w), every: pl.cfg.FlushEvery}
	if p.BatchMeta && p.Data != nil {
		sw.raw(`{"data":[`)
	} else {
		sw.raw("[")
	}
	if lead := s.leader(); lead != nil {
		sw.item(lead)
	}
	sw.item(first)
	for sw.err == nil {
		rec, err := s.next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pl.abort(ctx, w, p, sw.n, classify(err))
		}
		sw.item(rec)
	}
	if sw.err != nil {
		return pl.abort(ctx, w, p, sw.n, sw.err)
	}

	if p.BatchMeta && p.Data != nil {
		docs, err := pl.meta.Lookup(ctx, p.Route.MetaCollection, s.metaIDs)
		if err != nil {
			return pl.abort(ctx, w, p, sw.n, classify(err))
		}
		sw.raw(`],"metadata":`)
		sw.value(docs)
		sw.raw("}")
	} else {
		sw.raw("]")
	}
	if sw.err != nil {
		return pl.abort(ctx, w, p, sw.n, sw.err)
	}

	h.Set(StatusTrailer, StatusComplete)
	observability.AddStreamRecords(p.Route.Name, sw.n)
	observability.IncStreamOutcome(p.Route.Name, StatusComplete)
	return nil
}

// fail answers with a {code,message} body; nothing has been written yet.
func (pl *Pipeline) fail(ctx context.Context, w http.ResponseWriter, p planner.Plan, err error) error {
	kind := qerr.KindOf(err)
	observability.IncStreamOutcome(p.Route.Name, kind.String())
	if kind == qerr.KindStore {
		pl.logger.ErrorContext(ctx, "query failed", "route", p.Route.Name, "err", err)
	}
	qerr.Write(w, err)
	return err
}

// abort ends a started stream. The array is left open and the trailer
// marks the failure so the client cannot mistake it for a short result.
func (pl *Pipeline) abort(ctx context.Context, w http.ResponseWriter, p planner.Plan, written int, err error) error {
	w.Header().Set(StatusTrailer, StatusError)
	observability.AddStreamRecords(p.Route.Name, written)
	observability.IncStreamOutcome(p.Route.Name, StatusError)
	pl.logger.ErrorContext(ctx, "stream aborted", "route", p.Route.Name, "records", written, "err", err)
	return err
}

// classify maps store and context failures onto the error taxonomy.
func classify(err error) error {
	if _, ok := qerr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return qerr.Timeout(err)
	}
	return qerr.Store(err)
}

// streamWriter writes a JSON array incrementally and remembers the first
// write error.
type streamWriter struct {
	w     io.Writer
	rc    *http.ResponseController
	every int
	n     int
	err   error
}

func (sw *streamWriter) raw(s string) {
	if sw.err == nil {
		_, sw.err = io.WriteString(sw.w, s)
	}
}

func (sw *streamWriter) value(v any) {
	if sw.err != nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		sw.err = err
		return
	}
	_, sw.err = sw.w.Write(b)
}

func (sw *streamWriter) item(v any) {
	if sw.n > 0 {
		sw.raw(",")
	}
	sw.value(v)
	if sw.err != nil {
		return
	}
	sw.n++
	if sw.n%sw.every == 0 {
		if err := sw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			sw.err = err
		}
	}
}
