package kafkaconsumer

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// contentDedupe remembers the hash of the last body stored per feature id.
type contentDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newContentDedupe(size int) *contentDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &contentDedupe{lru: c}
}

// seen reports whether body is identical to the last one recorded for id.
func (d *contentDedupe) seen(id string, body []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(id)
	return ok && last == xxhash.Sum64(body)
}

func (d *contentDedupe) record(id string, body []byte) {
	d.mu.Lock()
	d.lru.Add(id, xxhash.Sum64(body))
	d.mu.Unlock()
}
