// Package feedlog is a single-writer, append-only log of signed key/value
// entries with an ordered view of the latest value per key.
//
// The owner holds an Ed25519 private key and is the only party able to
// append. Replicas are opened with the owner's public key and accept entries
// only through Replicate, after checking the hash chain and signature.
// Everything is stored in one badger database:
//
//	l/{seq}  signed entries, seq as 8-byte big endian
//	v/{key}  ordered view: seq of the last write followed by the value
//	m/*      key material, length and head hash
package feedlog

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"lukechampine.com/blake3"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	"github.com/mohammed-shakir/geoswarm/internal/kvstore"
)

// mixed into the discovery key so the topic does not reveal the public key
const discoveryContext = "geoswarm discovery v1"

var ErrClosed = errors.New("feedlog: closed")

type Option func(*Log)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) {
		if l != nil {
			lg.log = l
		}
	}
}

type Log struct {
	db   *kvstore.DB
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	log  *slog.Logger

	// serializes appends; length and head change only under mu
	mu     sync.Mutex
	length uint64
	head   []byte

	// closed and replaced after every append
	nmu     sync.Mutex
	changed chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Open loads the log stored in db. With a nil key an existing log is
// reopened, or a fresh owner keypair is generated. With a key the log is a
// replica of that owner unless db already holds the matching secret key.
func Open(db *kvstore.DB, key ed25519.PublicKey, opts ...Option) (*Log, error) {
	if db == nil {
		return nil, errors.New("feedlog: nil database")
	}
	if key != nil && len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("feedlog: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	l := &Log{
		db:      db,
		log:     slog.Default(),
		changed: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}

	err := db.Update(func(txn *badger.Txn) error {
		stored, err := getValue(txn, metaPub)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return l.initKeys(txn, key)
		case err != nil:
			return err
		}
		if key != nil && !bytes.Equal(stored, key) {
			return fmt.Errorf("feedlog: database holds log %x, not %x", stored, []byte(key))
		}
		l.pub = ed25519.PublicKey(stored)
		if sec, err := getValue(txn, metaSecret); err == nil {
			l.priv = ed25519.PrivateKey(sec)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if n, err := getValue(txn, metaLength); err == nil {
			l.length = binary.BigEndian.Uint64(n)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if h, err := getValue(txn, metaHead); err == nil {
			l.head = h
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	l.log = l.log.With("log", l.KeyHex()[:8], "writable", l.Writable())
	return l, nil
}

func (l *Log) initKeys(txn *badger.Txn, key ed25519.PublicKey) error {
	if key == nil {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		l.pub, l.priv = pub, priv
		if err := txn.Set(metaSecret, priv); err != nil {
			return err
		}
	} else {
		l.pub = append(ed25519.PublicKey{}, key...)
	}
	return txn.Set(metaPub, l.pub)
}

func getValue(txn *badger.Txn, k []byte) ([]byte, error) {
	item, err := txn.Get(k)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// ParseKey decodes a hex public key as printed by KeyHex.
func ParseKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("parse key: want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

func (l *Log) Key() ed25519.PublicKey { return l.pub }

func (l *Log) KeyHex() string { return hex.EncodeToString(l.pub) }

// DiscoveryKey is the rendezvous topic peers of this log meet on.
func (l *Log) DiscoveryKey() [32]byte {
	return blake3.Sum256(append([]byte(discoveryContext), l.pub...))
}

// Topic is the hex form of DiscoveryKey.
func (l *Log) Topic() string {
	k := l.DiscoveryKey()
	return hex.EncodeToString(k[:])
}

func (l *Log) Writable() bool { return l.priv != nil }

func (l *Log) Length() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.length
}

// Changed returns a channel closed on the next append.
func (l *Log) Changed() <-chan struct{} {
	l.nmu.Lock()
	defer l.nmu.Unlock()
	return l.changed
}

func (l *Log) notify() {
	l.nmu.Lock()
	close(l.changed)
	l.changed = make(chan struct{})
	l.nmu.Unlock()
}

// Done is closed once the log is closed.
func (l *Log) Done() <-chan struct{} { return l.closed }

// Close ends live scans and replication sessions. The database stays open.
func (l *Log) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *Log) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Append signs and stores one entry, returning its seq.
func (l *Log) Append(ctx context.Context, key string, value []byte) (uint64, error) {
	if !l.Writable() {
		return 0, model.ErrNotWritable
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if l.isClosed() {
		return 0, ErrClosed
	}

	l.mu.Lock()
	e := newEntry(l.length, key, value, l.head, l.priv)
	err := l.commit(e)
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}
	l.notify()
	return e.Seq, nil
}

// appendVerified stores an entry received from a peer. Entries already held
// are skipped.
func (l *Log) appendVerified(e Entry) (bool, error) {
	l.mu.Lock()
	switch {
	case e.Seq < l.length:
		l.mu.Unlock()
		return false, nil
	case e.Seq > l.length:
		n := l.length
		l.mu.Unlock()
		return false, fmt.Errorf("%w: got %d, length %d", ErrGap, e.Seq, n)
	}
	if err := e.verify(l.pub, l.head); err != nil {
		l.mu.Unlock()
		return false, err
	}
	err := l.commit(e)
	l.mu.Unlock()
	if err != nil {
		return false, err
	}
	l.notify()
	return true, nil
}

// commit writes the entry, its view record and the new head; mu must be held.
func (l *Log) commit(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(e.Seq), raw); err != nil {
			return err
		}
		if err := txn.Set(viewKey(e.Key), encodeView(e.Seq, e.Value)); err != nil {
			return err
		}
		if err := txn.Set(metaLength, encodeUint(e.Seq+1)); err != nil {
			return err
		}
		return txn.Set(metaHead, e.Hash)
	})
	if err != nil {
		return fmt.Errorf("append seq %d: %w", e.Seq, err)
	}
	l.length = e.Seq + 1
	l.head = e.Hash
	return nil
}

// EntryAt returns the entry with the given seq.
func (l *Log) EntryAt(seq uint64) (Entry, error) {
	var e Entry
	err := l.db.View(func(txn *badger.Txn) error {
		raw, err := getValue(txn, entryKey(seq))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &e)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, fmt.Errorf("entry %d: %w", seq, model.ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("entry %d: %w", seq, err)
	}
	return e, nil
}

// Get returns the latest value written under key.
func (l *Log) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := l.db.View(func(txn *badger.Txn) error {
		raw, err := getValue(txn, viewKey(key))
		if err != nil {
			return err
		}
		_, v, err := decodeView(raw)
		out = v
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return out, nil
}
