// Package query turns selectors into range scans over the feature store.
package query

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
	"github.com/mohammed-shakir/geoswarm/internal/feedlog"
	"github.com/mohammed-shakir/geoswarm/internal/geostore"
	"github.com/mohammed-shakir/geoswarm/internal/mapper"
	"github.com/mohammed-shakir/geoswarm/internal/mapper/quadkey"
)

type Scanner interface {
	Scan(ctx context.Context, r feedlog.Range) iter.Seq2[geostore.Record, error]
	// Zoom is the level points are indexed at.
	Zoom() int
}

type Options struct {
	Live  bool
	Limit int
}

type Engine struct {
	store Scanner
	cells mapper.Interface
	zoom  int
	log   *slog.Logger
}

func NewEngine(store Scanner, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, cells: quadkey.New(), zoom: store.Zoom(), log: log}
}

// Ranges returns the key ranges a selector scans, in scan order, for points
// indexed at indexZoom.
func Ranges(sel Selector, indexZoom int) ([]feedlog.Range, error) {
	return ranges(quadkey.New(), sel, indexZoom)
}

// indexed keys are indexZoom digits long, so a cover tile deeper than that
// is never a key prefix; the cover stops at indexZoom instead
func coverZoom(zr model.ZoomRange, indexZoom int) model.ZoomRange {
	if zr.Max > indexZoom {
		zr.Max = indexZoom
	}
	if zr.Min > zr.Max {
		zr.Min = zr.Max
	}
	return zr
}

func ranges(cells mapper.Interface, sel Selector, indexZoom int) ([]feedlog.Range, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	switch sel.kind {
	case KindQuadkey:
		return []feedlog.Range{geostore.QuadkeyRange(sel.quadkey)}, nil
	case KindType:
		return []feedlog.Range{geostore.PrefixRange(geostore.TypePrefix(sel.typ))}, nil
	case KindBBox:
		tiles, err := cells.CellsForBBox(sel.bbox, coverZoom(sel.zoom, indexZoom))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidQuery, err)
		}
		out := make([]feedlog.Range, 0, len(tiles))
		for _, q := range tiles {
			out = append(out, geostore.QuadkeyRange(q))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: no selector", model.ErrInvalidQuery)
}

// Query validates the selector and returns a lazy sequence of matching
// index records. Bbox results are the concatenation of one scan per covering
// tile; they are neither merged nor deduplicated. A live bbox query is
// rejected because the first tile's scan would never end.
func (e *Engine) Query(ctx context.Context, sel Selector, o Options) (iter.Seq2[geostore.Record, error], error) {
	if o.Live && sel.kind == KindBBox {
		return nil, fmt.Errorf("%w: live results are not supported for bbox queries", model.ErrInvalidQuery)
	}
	if o.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", model.ErrInvalidQuery)
	}
	plan, err := ranges(e.cells, sel, e.zoom)
	if err != nil {
		return nil, err
	}
	kind := sel.kind.String()
	observability.IncQueryScans(kind, len(plan))
	e.log.DebugContext(ctx, "query planned", "selector", sel.String(), "scans", len(plan), "live", o.Live)

	return func(yield func(geostore.Record, error) bool) {
		n := 0
		for _, r := range plan {
			r.Live = o.Live
			if o.Limit > 0 {
				r.Limit = o.Limit - n
			}
			for rec, err := range e.store.Scan(ctx, r) {
				if err != nil {
					yield(geostore.Record{}, err)
					return
				}
				observability.IncQueryResult(kind)
				if !yield(rec, nil) {
					return
				}
				n++
				if o.Limit > 0 && n >= o.Limit {
					return
				}
			}
		}
	}, nil
}

// Dedupe drops records whose feature id was already yielded.
func Dedupe(seq iter.Seq2[geostore.Record, error]) iter.Seq2[geostore.Record, error] {
	return func(yield func(geostore.Record, error) bool) {
		seen := make(map[string]struct{})
		for rec, err := range seq {
			if err == nil && rec.Feature != nil {
				if _, ok := seen[rec.Feature.ID]; ok {
					continue
				}
				seen[rec.Feature.ID] = struct{}{}
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}
