package geostore

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	"github.com/mohammed-shakir/geoswarm/internal/feedlog"
	"github.com/mohammed-shakir/geoswarm/internal/kvstore"
)

func newLog(t *testing.T, key []byte) *feedlog.Log {
	t.Helper()
	db, err := kvstore.Open(kvstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := feedlog.Open(db, key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newStore(t *testing.T) (*Store, *feedlog.Log) {
	t.Helper()
	l := newLog(t, nil)
	s, err := New(l)
	require.NoError(t, err)
	return s, l
}

func scanKeys(t *testing.T, s *Store, r feedlog.Range) []string {
	t.Helper()
	var out []string
	for rec, err := range s.Scan(context.Background(), r) {
		require.NoError(t, err)
		out = append(out, rec.Key)
	}
	return out
}

func TestPut_WritesThreeNamespaces(t *testing.T) {
	s, l := newStore(t)
	ctx := context.Background()

	f := model.NewPointFeature("0", -122.89992, 47.04719, map[string]any{"name": "olympia"})
	q, err := s.Put(ctx, f)
	require.NoError(t, err)
	require.Equal(t, "021230023223323011200000", q)
	require.Equal(t, q, f.Quadkey)
	require.Equal(t, uint64(3), l.Length())

	require.Equal(t, []string{"features/0"}, scanKeys(t, s, NamespaceRange(FeaturesNS)))
	require.Equal(t, []string{"types/Feature/0"}, scanKeys(t, s, NamespaceRange(TypesNS)))
	require.Equal(t, []string{"quadkeys/" + q + "/0"}, scanKeys(t, s, NamespaceRange(QuadkeysNS)))

	got, err := s.Get(ctx, "0")
	require.NoError(t, err)
	require.Equal(t, "0", got.ID)
	require.Equal(t, q, got.Quadkey)
	require.Equal(t, "olympia", got.Properties["name"])
	pt, err := got.Point()
	require.NoError(t, err)
	require.InDelta(t, -122.89992, pt.Lon(), 1e-9)
}

func TestPut_ThematicTypeIndex(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, model.NewPointFeature("a", 18.0686, 59.3293, map[string]any{"type": "park"}))
	require.NoError(t, err)
	_, err = s.Put(ctx, model.NewPointFeature("b", -0.1276, 51.5072, map[string]any{"type": "parking lot"}))
	require.NoError(t, err)

	require.Equal(t, []string{"types/park/a"}, scanKeys(t, s, PrefixRange(TypePrefix("park"))))
	require.Equal(t, []string{"types/parking%20lot/b"}, scanKeys(t, s, PrefixRange(TypePrefix("parking lot"))))
}

func TestPut_Validation(t *testing.T) {
	s, l := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, model.NewPointFeature("", 1, 2, nil))
	require.ErrorIs(t, err, model.ErrMissingID)

	_, err = s.Put(ctx, nil)
	require.ErrorIs(t, err, model.ErrMissingID)

	poly := &model.Feature{ID: "p", Type: "Feature"}
	_, err = s.Put(ctx, poly)
	require.ErrorIs(t, err, model.ErrUnsupportedGeometry)

	require.Equal(t, uint64(0), l.Length(), "rejected features write nothing")
}

func TestPut_ReadOnlyLog(t *testing.T) {
	owner := newLog(t, nil)
	replica := newLog(t, owner.Key())
	s, err := New(replica)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), model.NewPointFeature("0", 1, 2, nil))
	require.ErrorIs(t, err, model.ErrNotWritable)
	require.False(t, s.Writable())
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestBatch_Unimplemented(t *testing.T) {
	s, _ := newStore(t)
	err := s.Batch(context.Background(), []*model.Feature{model.NewPointFeature("0", 1, 2, nil)})
	require.ErrorIs(t, err, model.ErrUnimplemented)
}

func TestNew_ZoomOption(t *testing.T) {
	l := newLog(t, nil)
	s, err := New(l, WithZoom(12))
	require.NoError(t, err)

	q, err := s.Put(context.Background(), model.NewPointFeature("0", -122.89992, 47.04719, nil))
	require.NoError(t, err)
	require.Equal(t, "021230023223", q)

	_, err = New(l, WithZoom(0))
	require.Error(t, err)
}

func TestPut_RePutShowsLatest(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, model.NewPointFeature("0", 1, 2, map[string]any{"v": "1"}))
	require.NoError(t, err)
	_, err = s.Put(ctx, model.NewPointFeature("0", 1, 2, map[string]any{"v": "2"}))
	require.NoError(t, err)

	got, err := s.Get(ctx, "0")
	require.NoError(t, err)
	require.Equal(t, "2", got.Properties["v"])
	require.Len(t, scanKeys(t, s, NamespaceRange(FeaturesNS)), 1)
}

// failLog accepts the first n appends and fails afterwards.
type failLog struct {
	n    int
	keys []string
}

func (f *failLog) Append(_ context.Context, key string, _ []byte) (uint64, error) {
	if len(f.keys) >= f.n {
		return 0, errors.New("disk full")
	}
	f.keys = append(f.keys, key)
	return uint64(len(f.keys) - 1), nil
}

func (f *failLog) Get(context.Context, string) ([]byte, error) { return nil, model.ErrNotFound }

func (f *failLog) Range(context.Context, feedlog.Range) iter.Seq2[feedlog.KV, error] {
	return func(func(feedlog.KV, error) bool) {}
}

func (f *failLog) Writable() bool { return true }

func TestPut_PartialWriteIsNotRolledBack(t *testing.T) {
	fl := &failLog{n: 1}
	s, err := New(fl)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), model.NewPointFeature("0", 1, 2, nil))
	require.Error(t, err)
	require.Equal(t, []string{"features/0"}, fl.keys)
}

func TestScan_StopsEarly(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Put(ctx, model.NewPointFeature(id, 1, 2, nil))
		require.NoError(t, err)
	}
	n := 0
	for _, err := range s.Scan(ctx, NamespaceRange(FeaturesNS)) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}
