// Package replication connects peer connections to the log's replication
// stream.
package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
	"github.com/mohammed-shakir/geoswarm/internal/discovery"
	"github.com/mohammed-shakir/geoswarm/internal/logger"
)

// Replicator produces replication streams. The byte stream is relayed to
// the remote side unmodified.
type Replicator interface {
	Replicate(ctx context.Context, initiator bool) io.ReadWriteCloser
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

type Bridge struct {
	r   Replicator
	log *slog.Logger
}

func New(r Replicator, opts ...Option) *Bridge {
	b := &Bridge{r: r, log: logger.Discard()}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With("component", "replication")
	return b
}

// Attach relays bytes between conn and a new replication stream until either
// side ends, then closes both. Transport errors are returned, never fatal.
func (b *Bridge) Attach(ctx context.Context, conn io.ReadWriteCloser, initiator bool) error {
	stream := b.r.Replicate(ctx, initiator)

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = stream.Close()
			_ = conn.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(stream, &countingReader{r: conn, direction: "in"})
		return benign(err)
	})
	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(conn, &countingReader{r: stream, direction: "out"})
		return benign(err)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("replication relay: %w", err)
	}
	return nil
}

// Run attaches every peer in its own goroutine and returns once peers is
// closed or ctx is done and all attached sessions have ended.
func (b *Bridge) Run(ctx context.Context, peers <-chan *discovery.Peer) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-peers:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				pctx := logger.WithPeer(ctx, p.Remote)
				log := b.log.With("source", p.Source, "initiator", p.Initiator)
				log.InfoContext(pctx, "replicating with peer")
				if err := b.Attach(pctx, p, p.Initiator); err != nil {
					log.WarnContext(pctx, "replication ended with error", "err", err)
					return
				}
				log.InfoContext(pctx, "replication ended")
			}()
		}
	}
}

// benign drops the errors a relay sees when the other half closed first.
func benign(err error) error {
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return nil
	}
	return err
}

type countingReader struct {
	r         io.Reader
	direction string
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	observability.AddReplicationBytes(c.direction, int64(n))
	return n, err
}
