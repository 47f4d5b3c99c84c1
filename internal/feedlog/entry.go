package feedlog

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
	"lukechampine.com/blake3"
)

var (
	ErrBadHash      = errors.New("feedlog: entry hash mismatch")
	ErrBadSignature = errors.New("feedlog: entry signature invalid")
	ErrBadChain     = errors.New("feedlog: entry does not extend head")
	ErrGap          = errors.New("feedlog: entry beyond log length")
)

// Entry is one signed record of the log. Hash covers seq, key, value and the
// previous entry's hash; Signature is the owner's signature over Hash.
type Entry struct {
	Seq       uint64 `json:"seq"`
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	Prev      []byte `json:"prev,omitempty"`
	Hash      []byte `json:"hash"`
	Signature []byte `json:"sig"`
}

func entryHash(seq uint64, key string, value, prev []byte) []byte {
	h := blake3.New(32, nil)
	_, _ = h.Write(varint.ToUvarint(seq))
	_, _ = h.Write(varint.ToUvarint(uint64(len(key))))
	_, _ = h.Write([]byte(key))
	_, _ = h.Write(varint.ToUvarint(uint64(len(value))))
	_, _ = h.Write(value)
	_, _ = h.Write(prev)
	return h.Sum(nil)
}

func newEntry(seq uint64, key string, value, prev []byte, priv ed25519.PrivateKey) Entry {
	hash := entryHash(seq, key, value, prev)
	return Entry{
		Seq:       seq,
		Key:       key,
		Value:     value,
		Prev:      prev,
		Hash:      hash,
		Signature: ed25519.Sign(priv, hash),
	}
}

// verify checks the entry against the owner key and the current head.
func (e *Entry) verify(pub ed25519.PublicKey, head []byte) error {
	if !bytes.Equal(e.Prev, head) {
		return fmt.Errorf("%w at seq %d", ErrBadChain, e.Seq)
	}
	if !bytes.Equal(e.Hash, entryHash(e.Seq, e.Key, e.Value, e.Prev)) {
		return fmt.Errorf("%w at seq %d", ErrBadHash, e.Seq)
	}
	if !ed25519.Verify(pub, e.Hash, e.Signature) {
		return fmt.Errorf("%w at seq %d", ErrBadSignature, e.Seq)
	}
	return nil
}

// storage layout
var (
	prefixEntry = []byte("l/")
	prefixView  = []byte("v/")
	metaPub     = []byte("m/pub")
	metaSecret  = []byte("m/sec")
	metaLength  = []byte("m/len")
	metaHead    = []byte("m/head")
)

func entryKey(seq uint64) []byte {
	k := make([]byte, len(prefixEntry)+8)
	copy(k, prefixEntry)
	binary.BigEndian.PutUint64(k[len(prefixEntry):], seq)
	return k
}

func viewKey(key string) []byte {
	return append(append([]byte{}, prefixView...), key...)
}

// view values carry the seq that last wrote the key
func encodeView(seq uint64, value []byte) []byte {
	out := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(out, seq)
	copy(out[8:], value)
	return out
}

func decodeView(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("feedlog: short view record (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

func encodeUint(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
