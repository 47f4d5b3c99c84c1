package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	"github.com/mohammed-shakir/geoswarm/internal/geostore"
	"github.com/mohammed-shakir/geoswarm/internal/query"
)

const (
	defaultLimit = 1000
	maxLimit     = 10000
)

type Querier interface {
	Query(ctx context.Context, sel query.Selector, o query.Options) (iter.Seq2[geostore.Record, error], error)
}

type FeatureGetter interface {
	Get(ctx context.Context, id string) (*model.Feature, error)
}

// HandleFeature serves GET /features/{id}.
func HandleFeature(logger *slog.Logger, store FeatureGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		f, err := store.Get(r.Context(), id)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		writeJSON(w, f)
	}
}

// HandleQuery validates the selector parameters, runs the query and returns
// the matches as a FeatureCollection.
func HandleQuery(logger *slog.Logger, cfg config.Config, q Querier) http.HandlerFunc {
	zr := model.ZoomRange{Min: cfg.BBoxMinZoom, Max: cfg.BBoxMaxZoom}
	return func(w http.ResponseWriter, r *http.Request) {
		params, opts, unique, err := ParseQueryRequest(r, zr)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		sel, err := query.ParseSelector(params)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		seq, err := q.Query(r.Context(), sel, opts)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		if unique {
			seq = query.Dedupe(seq)
		}

		fc := model.FeatureCollection{Type: "FeatureCollection", Features: []*model.Feature{}}
		for rec, err := range seq {
			if err != nil {
				writeError(w, logger, r, err)
				return
			}
			fc.Features = append(fc.Features, rec.Feature)
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_ = json.NewEncoder(w).Encode(fc)
	}
}

// ParseQueryRequest reads quadkey, bbox (with minZoom/maxZoom) or type, and
// limit. unique asks for one record per feature id.
func ParseQueryRequest(r *http.Request, zr model.ZoomRange) (query.Params, query.Options, bool, error) {
	v := r.URL.Query()
	var p query.Params

	if s := strings.TrimSpace(v.Get("quadkey")); s != "" {
		p.Quadkey = &s
	}
	if s := strings.TrimSpace(v.Get("type")); s != "" {
		p.Type = &s
	}
	if s := strings.TrimSpace(v.Get("bbox")); s != "" {
		bb, err := ParseBBox(s)
		if err != nil {
			return p, query.Options{}, false, fmt.Errorf("%w: invalid bbox: %v", model.ErrInvalidQuery, err)
		}
		p.BBox = &bb
	}

	p.Zoom = zr
	for name, dst := range map[string]*int{"minZoom": &p.Zoom.Min, "maxZoom": &p.Zoom.Max} {
		s := v.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return p, query.Options{}, false, fmt.Errorf("%w: %s: %v", model.ErrInvalidQuery, name, err)
		}
		*dst = n
	}

	opts := query.Options{Limit: defaultLimit}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return p, opts, false, fmt.Errorf("%w: limit must be a positive integer", model.ErrInvalidQuery)
		}
		opts.Limit = min(n, maxLimit)
	}
	unique, _ := strconv.ParseBool(v.Get("unique"))
	return p, opts, unique, nil
}

// ParseBBox accepts "x1,y1,x2,y2" with an optional fifth EPSG:4326 element.
func ParseBBox(s string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 4:
	case 5:
		srid := strings.ToUpper(strings.TrimSpace(parts[4]))
		if srid != "EPSG:4326" {
			return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	default:
		return model.BBox{}, errors.New("expected 4 comma-separated values: x1,y1,x2,y2")
	}
	var vals [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("%s: %w", name, err)
		}
		vals[i] = f
	}
	bb := model.BBox{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}
	if err := bb.Validate(); err != nil {
		return model.BBox{}, err
	}
	return bb, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidQuery), errors.Is(err, model.ErrMissingID):
		code = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return
	}
	if code == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	http.Error(w, err.Error(), code)
}
