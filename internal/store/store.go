// Package store defines the capability the query layer needs from the
// backing document store: containment and nearest-point filters, sorted
// range reads and cursor-based streaming.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/paulmach/orb"
)

var (
	ErrNearNotFirst = errors.New("store: near must be the first operation")
	ErrUnknownField = errors.New("store: unsupported field")
)

type OpKind uint8

const (
	OpNear OpKind = iota + 1
	OpTimeRange
	OpEq
	OpIn
	OpSources
	OpVariables
	OpWithinPolygon
	OpWithinBox
)

func (k OpKind) String() string {
	switch k {
	case OpNear:
		return "near"
	case OpTimeRange:
		return "time_range"
	case OpEq:
		return "eq"
	case OpIn:
		return "in"
	case OpSources:
		return "sources"
	case OpVariables:
		return "variables"
	case OpWithinPolygon:
		return "within_polygon"
	case OpWithinBox:
		return "within_box"
	default:
		return "unknown"
	}
}

// Op is one filter stage; only the fields of Kind are meaningful.
type Op struct {
	Kind OpKind

	Field  string
	Value  string
	Values []string

	Start *time.Time
	End   *time.Time

	Center   orb.Point
	RadiusKm float64

	Polygon    orb.Polygon
	LowerLeft  orb.Point
	UpperRight orb.Point

	Include []string
	Exclude []string
}

func Near(center orb.Point, radiusKm float64) Op {
	return Op{Kind: OpNear, Center: center, RadiusKm: radiusKm}
}

func TimeRange(start, end *time.Time) Op { return Op{Kind: OpTimeRange, Start: start, End: end} }

func Eq(field, value string) Op { return Op{Kind: OpEq, Field: field, Value: value} }

func In(field string, values []string) Op { return Op{Kind: OpIn, Field: field, Values: values} }

// Sources keeps documents carrying any included tag and none of the
// excluded ones.
func Sources(include, exclude []string) Op {
	return Op{Kind: OpSources, Include: include, Exclude: exclude}
}

// Variables keeps documents whose data keys hold every included variable
// and none of the excluded ones.
func Variables(include, exclude []string) Op {
	return Op{Kind: OpVariables, Include: include, Exclude: exclude}
}

func WithinPolygon(p orb.Polygon) Op { return Op{Kind: OpWithinPolygon, Polygon: p} }

func WithinBox(ll, ur orb.Point) Op { return Op{Kind: OpWithinBox, LowerLeft: ll, UpperRight: ur} }

type Sort uint8

const (
	// SortNatural is distance order after a near op and ascending time
	// otherwise.
	SortNatural Sort = iota
	SortTimeAsc
	SortTimeDesc
)

// Query is an ordered op chain against one collection.
type Query struct {
	Collection string
	Ops        []Op
	Sort       Sort
	Skip       int
	Limit      int
	// Projection lists top-level fields to keep; empty keeps everything.
	Projection []string
}

// Validate checks the op chain shape shared by every backend.
func (q Query) Validate() error {
	if q.Collection == "" {
		return errors.New("store: collection is required")
	}
	for i, op := range q.Ops {
		if op.Kind == OpNear && i != 0 {
			return ErrNearNotFirst
		}
		if op.Kind == OpEq || op.Kind == OpIn {
			if !matchableField(op.Field) {
				return fmt.Errorf("%w: %q", ErrUnknownField, op.Field)
			}
		}
	}
	if q.Skip < 0 || q.Limit < 0 {
		return errors.New("store: skip and limit must be non-negative")
	}
	return nil
}

// NearOp returns the leading near op, if any.
func (q Query) NearOp() (Op, bool) {
	if len(q.Ops) > 0 && q.Ops[0].Kind == OpNear {
		return q.Ops[0], true
	}
	return Op{}, false
}

// Store is the read capability of the backing store.
type Store interface {
	Find(ctx context.Context, q Query) (Cursor, error)
	Ping(ctx context.Context) error
}

// Cursor streams matched documents. Next returns io.EOF once exhausted.
// The caller owns the cursor and must Close it.
type Cursor interface {
	Next(ctx context.Context) (*Document, error)
	Close(ctx context.Context) error
}

// Drain reads every remaining document and closes c.
func Drain(ctx context.Context, c Cursor) ([]*Document, error) {
	defer func() { _ = c.Close(context.WithoutCancel(ctx)) }()
	var out []*Document
	for {
		d, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}

// SliceCursor serves documents already held in memory.
type SliceCursor struct {
	docs   []*Document
	pos    int
	closed bool
}

func NewSliceCursor(docs []*Document) *SliceCursor { return &SliceCursor{docs: docs} }

func (c *SliceCursor) Next(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.closed || c.pos >= len(c.docs) {
		return nil, io.EOF
	}
	d := c.docs[c.pos]
	c.pos++
	return d, nil
}

func (c *SliceCursor) Close(context.Context) error {
	c.closed = true
	c.docs = nil
	return nil
}
