package feedlog

import (
	"context"
	"encoding/binary"
	"errors"
	"iter"

	"github.com/dgraph-io/badger/v4"
)

// Range selects keys of the ordered view. Empty bounds are open. Limit caps
// the number of yielded records, zero means no cap. A Live range keeps
// yielding matching appends after the snapshot until the context is done.
type Range struct {
	GT, GTE string
	LT, LTE string
	Limit   int
	Live    bool
}

type KV struct {
	Seq   uint64
	Key   string
	Value []byte
}

func (r Range) lower() string {
	if r.GTE != "" && r.GTE >= r.GT {
		return r.GTE
	}
	return r.GT
}

func (r Range) aboveLower(k string) bool {
	if r.GT != "" && k <= r.GT {
		return false
	}
	return r.GTE == "" || k >= r.GTE
}

func (r Range) belowUpper(k string) bool {
	if r.LT != "" && k >= r.LT {
		return false
	}
	return r.LTE == "" || k <= r.LTE
}

func (r Range) Contains(k string) bool { return r.aboveLower(k) && r.belowUpper(k) }

// Range yields the view records inside r in key order, then, for live
// ranges, every later append whose key falls inside r in log order. The
// snapshot holds one read transaction that is released when iteration stops.
func (l *Log) Range(ctx context.Context, r Range) iter.Seq2[KV, error] {
	return func(yield func(KV, error) bool) {
		n := 0
		emit := func(kv KV) bool {
			if !yield(kv, nil) {
				return false
			}
			n++
			return r.Limit <= 0 || n < r.Limit
		}

		snapLen, ok := l.snapshot(ctx, r, emit, yield)
		if !ok || !r.Live {
			return
		}
		l.tail(ctx, r, snapLen, emit, yield)
	}
}

func (l *Log) snapshot(ctx context.Context, r Range, emit func(KV) bool, yield func(KV, error) bool) (uint64, bool) {
	txn := l.db.NewTransaction(false)
	defer txn.Discard()

	var length uint64
	if raw, err := getValue(txn, metaLength); err == nil {
		length = binary.BigEndian.Uint64(raw)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		yield(KV{}, err)
		return 0, false
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefixView
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(viewKey(r.lower())); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			yield(KV{}, err)
			return 0, false
		}
		item := it.Item()
		k := string(item.Key()[len(prefixView):])
		if !r.belowUpper(k) {
			break
		}
		if !r.aboveLower(k) {
			continue
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			yield(KV{}, err)
			return 0, false
		}
		seq, v, err := decodeView(raw)
		if err != nil {
			yield(KV{}, err)
			return 0, false
		}
		if !emit(KV{Seq: seq, Key: k, Value: v}) {
			return 0, false
		}
	}
	return length, true
}

func (l *Log) tail(ctx context.Context, r Range, cursor uint64, emit func(KV) bool, yield func(KV, error) bool) {
	for {
		ch := l.Changed()
		if cursor < l.Length() {
			e, err := l.EntryAt(cursor)
			if err != nil {
				yield(KV{}, err)
				return
			}
			cursor++
			if r.Contains(e.Key) && !emit(KV{Seq: e.Seq, Key: e.Key, Value: e.Value}) {
				return
			}
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			yield(KV{}, ctx.Err())
			return
		case <-l.closed:
			yield(KV{}, ErrClosed)
			return
		}
	}
}
