package discovery

import (
	"net"
	"sync"

	"go.uber.org/multierr"

	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
)

// registry owns every connection handed out by the service. Connect and
// disconnect events arrive on different goroutines, hence the mutex.
type registry struct {
	mu    sync.Mutex
	conns map[*trackedConn]struct{}
}

func newRegistry() *registry {
	return &registry{conns: make(map[*trackedConn]struct{})}
}

func (r *registry) track(c net.Conn) *trackedConn {
	tc := &trackedConn{Conn: c, reg: r}
	r.mu.Lock()
	r.conns[tc] = struct{}{}
	r.mu.Unlock()
	observability.ConnOpened()
	return tc
}

func (r *registry) remove(tc *trackedConn) {
	r.mu.Lock()
	_, ok := r.conns[tc]
	delete(r.conns, tc)
	r.mu.Unlock()
	if ok {
		observability.ConnClosed()
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// closeAll closes every tracked connection and returns the combined errors.
func (r *registry) closeAll() error {
	r.mu.Lock()
	all := make([]*trackedConn, 0, len(r.conns))
	for tc := range r.conns {
		all = append(all, tc)
	}
	r.mu.Unlock()

	var err error
	for _, tc := range all {
		err = multierr.Append(err, tc.Close())
	}
	return err
}

// trackedConn leaves the registry on its first Close; later calls are no-ops.
type trackedConn struct {
	net.Conn
	reg  *registry
	once sync.Once
	err  error
}

func (c *trackedConn) Close() error {
	c.once.Do(func() {
		c.reg.remove(c)
		c.err = c.Conn.Close()
	})
	return c.err
}
