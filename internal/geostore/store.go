// Package geostore keeps point features in an append-only log under three
// key namespaces: the primary record, a type index and a quadkey index.
package geostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
	"github.com/mohammed-shakir/geoswarm/internal/feedlog"
	"github.com/mohammed-shakir/geoswarm/internal/mapper"
	"github.com/mohammed-shakir/geoswarm/internal/mapper/quadkey"
)

// Log is the ordered, append-only view the store writes through.
type Log interface {
	Append(ctx context.Context, key string, value []byte) (uint64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Range(ctx context.Context, r feedlog.Range) iter.Seq2[feedlog.KV, error]
	Writable() bool
}

// Record is one scanned index entry with its decoded feature.
type Record struct {
	Key     string
	Seq     uint64
	Feature *model.Feature
}

type Option func(*Store)

func WithZoom(z int) Option {
	return func(s *Store) { s.zoom = z }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

type Store struct {
	log   *slog.Logger
	db    Log
	cells mapper.Interface
	zoom  int
}

func New(db Log, opts ...Option) (*Store, error) {
	s := &Store{db: db, log: slog.Default(), cells: quadkey.New(), zoom: quadkey.DefaultZoom}
	for _, o := range opts {
		o(s)
	}
	if s.zoom < 1 || s.zoom > quadkey.MaxZoom {
		return nil, fmt.Errorf("geostore: zoom %d outside 1..%d", s.zoom, quadkey.MaxZoom)
	}
	return s, nil
}

func (s *Store) Zoom() int { return s.zoom }

func (s *Store) Writable() bool { return s.db.Writable() }

// Put stores the feature and its two index entries and returns the quadkey
// it was indexed under. The three appends are independent: a failure part
// way leaves the earlier entries in place.
func (s *Store) Put(ctx context.Context, f *model.Feature) (string, error) {
	q, err := s.put(ctx, f)
	switch {
	case err == nil:
		observability.IncFeaturePut("ok")
	case errors.Is(err, model.ErrMissingID), errors.Is(err, model.ErrUnsupportedGeometry):
		observability.IncFeaturePut("invalid")
	case errors.Is(err, model.ErrNotWritable):
		observability.IncFeaturePut("not_writable")
	default:
		observability.IncFeaturePut("error")
	}
	return q, err
}

func (s *Store) put(ctx context.Context, f *model.Feature) (string, error) {
	if f == nil || f.ID == "" {
		return "", model.ErrMissingID
	}
	pt, err := f.Point()
	if err != nil {
		return "", err
	}
	if !s.db.Writable() {
		return "", model.ErrNotWritable
	}
	q, err := s.cells.CellForPoint(pt.Lon(), pt.Lat(), s.zoom)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUnsupportedGeometry, err)
	}

	rec := *f
	rec.Quadkey = q
	if rec.Type == "" {
		rec.Type = "Feature"
	}
	body, err := json.Marshal(&rec)
	if err != nil {
		return "", fmt.Errorf("encode feature %q: %w", f.ID, err)
	}

	for _, key := range []string{
		FeatureKey(rec.ID),
		TypeKey(rec.ThematicType(), rec.ID),
		QuadkeyKey(q, rec.ID),
	} {
		if _, err := s.db.Append(ctx, key, body); err != nil {
			s.log.WarnContext(ctx, "feature write incomplete", "id", rec.ID, "key", key, "err", err)
			return "", fmt.Errorf("put %q: %w", key, err)
		}
	}
	f.Quadkey = q
	s.log.DebugContext(ctx, "feature stored", "id", rec.ID, "quadkey", q)
	return q, nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Feature, error) {
	if id == "" {
		return nil, model.ErrMissingID
	}
	raw, err := s.db.Get(ctx, FeatureKey(id))
	if err != nil {
		return nil, err
	}
	var f model.Feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode feature %q: %w", id, err)
	}
	return &f, nil
}

// Batch is not supported; features are written one at a time.
func (s *Store) Batch(context.Context, []*model.Feature) error {
	return model.ErrUnimplemented
}

// Scan yields decoded records of any namespace in key order.
func (s *Store) Scan(ctx context.Context, r feedlog.Range) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for kv, err := range s.db.Range(ctx, r) {
			if err != nil {
				yield(Record{}, err)
				return
			}
			var f model.Feature
			if err := json.Unmarshal(kv.Value, &f); err != nil {
				if !yield(Record{}, fmt.Errorf("decode %q: %w", kv.Key, err)) {
					return
				}
				continue
			}
			if !yield(Record{Key: kv.Key, Seq: kv.Seq, Feature: &f}, nil) {
				return
			}
		}
	}
}
