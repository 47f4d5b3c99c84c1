package rendezvous

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/anacrolix/dht/v2"
)

// DHT uses the BitTorrent mainline DHT. The infohash of a topic is its first
// 20 bytes; announced addresses carry only the port, the DHT supplies the IP
// it saw the announce come from.
type DHT struct {
	s       *dht.Server
	log     *slog.Logger
	timeout time.Duration

	once sync.Once
}

func NewDHT(log *slog.Logger, timeout time.Duration) (*DHT, error) {
	s, err := dht.NewServer(dht.NewDefaultServerConfig())
	if err != nil {
		return nil, fmt.Errorf("dht server: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &DHT{s: s, log: log, timeout: timeout}, nil
}

func infohash(topic []byte) (ih [20]byte, err error) {
	if len(topic) < len(ih) {
		return ih, fmt.Errorf("topic too short for infohash: %d bytes", len(topic))
	}
	copy(ih[:], topic)
	return ih, nil
}

func (d *DHT) Announce(ctx context.Context, topic []byte, addr string) error {
	ih, err := infohash(topic)
	if err != nil {
		return err
	}
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("announce addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return fmt.Errorf("announce port %q: %w", p, err)
	}
	_, err = d.traverse(ctx, ih, dht.AnnouncePeer(dht.AnnouncePeerOpts{Port: port}))
	return err
}

func (d *DHT) Lookup(ctx context.Context, topic []byte) ([]string, error) {
	ih, err := infohash(topic)
	if err != nil {
		return nil, err
	}
	return d.traverse(ctx, ih)
}

func (d *DHT) traverse(ctx context.Context, ih [20]byte, opts ...dht.AnnounceOpt) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	a, err := d.s.AnnounceTraversal(ih, opts...)
	if err != nil {
		return nil, fmt.Errorf("dht traversal: %w", err)
	}
	defer a.Close()

	seen := make(map[string]struct{})
	for {
		select {
		case pv, ok := <-a.Peers:
			if !ok {
				return collect(seen), nil
			}
			for _, p := range pv.Peers {
				seen[p.String()] = struct{}{}
			}
		case <-ctx.Done():
			d.log.Debug("dht traversal cut short", "err", ctx.Err(), "peers", len(seen))
			return collect(seen), nil
		}
	}
}

func collect(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Unannounce is a no-op; DHT announcements expire on their own.
func (d *DHT) Unannounce(context.Context, []byte, string) error { return nil }

func (d *DHT) Close() error {
	d.once.Do(d.s.Close)
	return nil
}
