// Package rendezvous provides the meeting points a swarm uses to find other
// members of a topic: an in-process table, the mainline DHT and Redis.
package rendezvous

import (
	"context"
	"encoding/hex"
	"errors"
	"slices"
	"sync"
)

var ErrClosed = errors.New("rendezvous: closed")

// Rendezvous publishes and resolves dialable addresses per topic.
type Rendezvous interface {
	Announce(ctx context.Context, topic []byte, addr string) error
	Lookup(ctx context.Context, topic []byte) ([]string, error)
	Unannounce(ctx context.Context, topic []byte, addr string) error
	Close() error
}

// Memory is a process-local rendezvous shared by every swarm holding it.
type Memory struct {
	mu     sync.Mutex
	topics map[string]map[string]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[string]struct{})}
}

func (m *Memory) Announce(_ context.Context, topic []byte, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	k := hex.EncodeToString(topic)
	set, ok := m.topics[k]
	if !ok {
		set = make(map[string]struct{})
		m.topics[k] = set
	}
	set[addr] = struct{}{}
	return nil
}

func (m *Memory) Lookup(_ context.Context, topic []byte) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	set := m.topics[hex.EncodeToString(topic)]
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) Unannounce(_ context.Context, topic []byte, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	k := hex.EncodeToString(topic)
	delete(m.topics[k], addr)
	if len(m.topics[k]) == 0 {
		delete(m.topics, k)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
