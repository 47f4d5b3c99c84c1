package discovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
	"github.com/mohammed-shakir/geoswarm/internal/discovery/rendezvous"
	"github.com/mohammed-shakir/geoswarm/internal/logger"
)

const (
	sourceSwarm = "swarm"
	maxDials    = 8
)

type TCPSwarmConfig struct {
	ListenAddr       string
	StaticKey        noise.DHKey
	LookupInterval   time.Duration
	AnnounceInterval time.Duration
	HandshakeTimeout time.Duration
	// FailureBackoff is how long an address that failed to connect is skipped.
	FailureBackoff time.Duration
	Logger         *slog.Logger
}

func (c *TCPSwarmConfig) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.LookupInterval <= 0 {
		c.LookupInterval = 10 * time.Second
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = time.Minute
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = 3 * c.LookupInterval
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
}

// TCPSwarm meets peers through a rendezvous and connects them over TCP with a
// Noise handshake keyed on the topic.
type TCPSwarm struct {
	cfg  TCPSwarmConfig
	rv   rendezvous.Rendezvous
	log  *slog.Logger
	ln   net.Listener
	addr string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	topics map[string]*swarmTopic
	active map[string]int
	closed bool

	failed *expirable.LRU[string, struct{}]
	conns  chan SwarmConn
	once   sync.Once
}

type swarmTopic struct {
	topic  []byte
	opts   JoinOptions
	cancel context.CancelFunc

	announced   chan struct{}
	announceErr error
	looked      chan struct{}
}

func (t *swarmTopic) Flushed(ctx context.Context) error {
	if !t.opts.Server {
		return nil
	}
	select {
	case <-t.announced:
		return t.announceErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewTCPSwarm binds the swarm listener. The rendezvous stays owned by the caller.
func NewTCPSwarm(rv rendezvous.Rendezvous, cfg TCPSwarmConfig) (*TCPSwarm, error) {
	cfg.defaults()
	if len(cfg.StaticKey.Private) == 0 {
		return nil, errors.New("swarm: static key is required")
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("swarm listen %s: %w", cfg.ListenAddr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPSwarm{
		cfg:    cfg,
		rv:     rv,
		log:    cfg.Logger.With("component", "swarm"),
		ln:     ln,
		addr:   advertiseAddr(ln.Addr()),
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*swarmTopic),
		active: make(map[string]int),
		failed: expirable.NewLRU[string, struct{}](256, nil, cfg.FailureBackoff),
		conns:  make(chan SwarmConn, 16),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr is the address announced to the rendezvous.
func (s *TCPSwarm) Addr() string { return s.addr }

func (s *TCPSwarm) Connections() <-chan SwarmConn { return s.conns }

func (s *TCPSwarm) Join(_ context.Context, topic []byte, opts JoinOptions) (Membership, error) {
	if len(topic) != TopicSize {
		return nil, fmt.Errorf("swarm join: topic must be %d bytes", TopicSize)
	}
	key := hex.EncodeToString(topic)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if t, ok := s.topics[key]; ok {
		return t, nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &swarmTopic{
		topic:     append([]byte(nil), topic...),
		opts:      opts,
		cancel:    cancel,
		announced: make(chan struct{}),
		looked:    make(chan struct{}),
	}
	s.topics[key] = t

	if opts.Server {
		s.wg.Add(1)
		go s.announceLoop(ctx, t)
	} else {
		close(t.announced)
	}
	if opts.Client {
		s.wg.Add(1)
		go s.lookupLoop(ctx, t)
	} else {
		close(t.looked)
	}
	return t, nil
}

func (s *TCPSwarm) Flush(ctx context.Context) error {
	s.mu.Lock()
	waits := make([]chan struct{}, 0, len(s.topics))
	for _, t := range s.topics {
		waits = append(waits, t.looked)
	}
	s.mu.Unlock()

	for _, w := range waits {
		select {
		case <-w:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *TCPSwarm) Leave(ctx context.Context, topic []byte) error {
	key := hex.EncodeToString(topic)
	s.mu.Lock()
	t, ok := s.topics[key]
	delete(s.topics, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	t.cancel()
	if t.opts.Server {
		if err := s.rv.Unannounce(ctx, t.topic, s.addr); err != nil {
			return fmt.Errorf("swarm leave: %w", err)
		}
	}
	return nil
}

func (s *TCPSwarm) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		topics := make([]*swarmTopic, 0, len(s.topics))
		for _, t := range s.topics {
			topics = append(topics, t)
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, t := range topics {
			if lerr := s.Leave(ctx, t.topic); lerr != nil {
				s.log.Debug("leave on close failed", "err", lerr)
			}
		}

		s.cancel()
		err = s.ln.Close()
		s.wg.Wait()
		close(s.conns)
	})
	return err
}

func (s *TCPSwarm) announceLoop(ctx context.Context, t *swarmTopic) {
	defer s.wg.Done()
	log := s.log.With("topic", hex.EncodeToString(t.topic))

	t.announceErr = s.rv.Announce(ctx, t.topic, s.addr)
	if t.announceErr != nil {
		log.Warn("announce failed", "addr", s.addr, "err", t.announceErr)
	} else {
		log.Debug("announced", "addr", s.addr)
	}
	close(t.announced)

	tick := time.NewTicker(s.cfg.AnnounceInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := s.rv.Announce(ctx, t.topic, s.addr); err != nil && ctx.Err() == nil {
				log.Warn("re-announce failed", "err", err)
			}
		}
	}
}

func (s *TCPSwarm) lookupLoop(ctx context.Context, t *swarmTopic) {
	defer s.wg.Done()

	s.lookupOnce(ctx, t)
	close(t.looked)

	tick := time.NewTicker(s.cfg.LookupInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.lookupOnce(ctx, t)
		}
	}
}

func (s *TCPSwarm) lookupOnce(ctx context.Context, t *swarmTopic) {
	log := s.log.With("topic", hex.EncodeToString(t.topic))
	addrs, err := s.rv.Lookup(ctx, t.topic)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("lookup failed", "err", err)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(maxDials)
	for _, addr := range addrs {
		if !s.shouldDial(addr) {
			continue
		}
		g.Go(func() error {
			if err := s.dial(ctx, t.topic, addr); err != nil && ctx.Err() == nil {
				log.Debug("dial failed", "addr", addr, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *TCPSwarm) shouldDial(addr string) bool {
	if addr == s.addr {
		return false
	}
	s.mu.Lock()
	busy := s.active[addr] > 0
	s.mu.Unlock()
	return !busy && !s.failed.Contains(addr)
}

func (s *TCPSwarm) dial(ctx context.Context, topic []byte, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.failed.Add(addr, struct{}{})
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}
	sc, err := dialSecure(ctx, raw, s.cfg.StaticKey, topic)
	if err != nil {
		_ = raw.Close()
		s.failed.Add(addr, struct{}{})
		observability.IncHandshakeFailure(sourceSwarm)
		return fmt.Errorf("%w: handshake %s: %v", ErrConnection, addr, err)
	}

	s.mu.Lock()
	s.active[addr]++
	s.mu.Unlock()
	conn := &releaseConn{Conn: sc, release: func() {
		s.mu.Lock()
		if s.active[addr]--; s.active[addr] <= 0 {
			delete(s.active, addr)
		}
		s.mu.Unlock()
	}}
	s.push(SwarmConn{Conn: conn, Initiator: true, Remote: addr, Topic: topic})
	return nil
}

func (s *TCPSwarm) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Warn("swarm accept failed", "err", err)
			}
			return
		}
		s.wg.Add(1)
		go s.handleInbound(raw)
	}
}

func (s *TCPSwarm) handleInbound(raw net.Conn) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	sc, topic, err := acceptSecure(ctx, raw, s.cfg.StaticKey, s.serving)
	if err != nil {
		_ = raw.Close()
		observability.IncHandshakeFailure(sourceSwarm)
		s.log.Debug("inbound handshake failed", "remote", raw.RemoteAddr().String(), "err", err)
		return
	}
	s.push(SwarmConn{Conn: sc, Initiator: false, Remote: raw.RemoteAddr().String(), Topic: topic})
}

func (s *TCPSwarm) serving(topic []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[hex.EncodeToString(topic)]
	return ok && t.opts.Server
}

func (s *TCPSwarm) push(c SwarmConn) {
	select {
	case s.conns <- c:
	case <-s.ctx.Done():
		_ = c.Conn.Close()
	}
}

// releaseConn runs release once, on the first Close.
type releaseConn struct {
	net.Conn
	release func()
	once    sync.Once
}

func (c *releaseConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}
