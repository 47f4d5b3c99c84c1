// Package discovery finds peers sharing a topic and hands out secured
// connections to them.
//
// Peers are found three ways: through a Swarm (rendezvous on the DHT or
// Redis), through mDNS on the local network, and through a direct TCP
// listener that accepts anyone who knows the address. Every connection that
// is not already secured by the swarm is upgraded with a Noise XX handshake
// whose prologue is the topic, so peers of other topics are rejected.
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
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
	"github.com/mohammed-shakir/geoswarm/internal/logger"
	"github.com/mohammed-shakir/geoswarm/internal/secure"
)

var (
	ErrConnection = errors.New("discovery: connection failed")
	ErrClosed     = errors.New("discovery: closed")
)

const (
	SourceSwarm    = sourceSwarm
	SourceMDNS     = sourceMDNS
	SourceListener = "listener"
	SourceDirect   = "direct"
)

type Config struct {
	ListenAddr  string
	ServiceName string
	// Server announces the topic; Client looks it up.
	Server bool
	Client bool
	MDNS   bool

	LookupInterval   time.Duration
	HandshakeTimeout time.Duration
	StaticKey        noise.DHKey
	NodeID           string
}

// Peer is a secured connection to another member of a topic.
type Peer struct {
	net.Conn
	// Initiator is true for connections this node dialed.
	Initiator bool
	Source    string
	Remote    string
	Topic     []byte
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

type Service struct {
	cfg   Config
	swarm Swarm
	log   *slog.Logger
	ln    net.Listener

	peers  chan *Peer
	reg    *registry
	recent *expirable.LRU[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	topics map[string]*joinedTopic
	closed bool

	destroyOnce sync.Once
	destroyErr  error
}

type joinedTopic struct {
	topic  []byte
	cancel context.CancelFunc
	mdns   shutdowner
}

// shutdowner is the part of *mdns.Server the service keeps.
type shutdowner interface {
	Shutdown() error
}

// New binds the direct listener and starts accepting. swarm may be nil.
func New(cfg Config, swarm Swarm, opts ...Option) (*Service, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":0"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "geoswarm"
	}
	if cfg.LookupInterval <= 0 {
		cfg.LookupInterval = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if len(cfg.StaticKey.Private) == 0 {
		k, err := secure.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate static key: %w", err)
		}
		cfg.StaticKey = k
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		swarm:  swarm,
		log:    logger.Discard(),
		ln:     ln,
		peers:  make(chan *Peer, 16),
		reg:    newRegistry(),
		recent: expirable.NewLRU[string, struct{}](256, nil, 3*cfg.LookupInterval),
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*joinedTopic),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "discovery", "node", cfg.NodeID)

	s.wg.Add(1)
	go s.acceptLoop()
	if swarm != nil {
		s.wg.Add(1)
		go s.forwardSwarm()
	}
	return s, nil
}

// Addr is the address of the direct listener.
func (s *Service) Addr() net.Addr { return s.ln.Addr() }

func (s *Service) NodeID() string { return s.cfg.NodeID }

// PeerCount is the number of open peer connections.
func (s *Service) PeerCount() int { return s.reg.len() }

// Peers delivers every new connection. It is closed by Destroy.
func (s *Service) Peers() <-chan *Peer { return s.peers }

// Join starts finding peers for topic. The swarm and mDNS paths run
// concurrently; Join fails only when every enabled path fails.
func (s *Service) Join(ctx context.Context, topic []byte) error {
	if len(topic) != TopicSize {
		return fmt.Errorf("join: topic must be %d bytes, got %d", TopicSize, len(topic))
	}
	key := hex.EncodeToString(topic)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, ok := s.topics[key]; ok {
		s.mu.Unlock()
		return nil
	}
	tctx, tcancel := context.WithCancel(s.ctx)
	jt := &joinedTopic{topic: append([]byte(nil), topic...), cancel: tcancel}
	s.topics[key] = jt
	s.mu.Unlock()

	log := s.log.With("topic", key)

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		errs    error
		enabled int
	)
	fail := func(err error) {
		errMu.Lock()
		errs = multierr.Append(errs, err)
		errMu.Unlock()
	}

	if s.swarm != nil {
		enabled++
		g.Go(func() error {
			if err := s.joinSwarm(ctx, topic); err != nil {
				log.Warn("swarm join failed", "err", err)
				fail(fmt.Errorf("swarm: %w", err))
			}
			return nil
		})
	}
	if s.cfg.MDNS {
		enabled++
		g.Go(func() error {
			if err := s.joinMDNS(tctx, jt); err != nil {
				log.Warn("mdns join failed", "err", err)
				fail(fmt.Errorf("mdns: %w", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if enabled > 0 && len(multierr.Errors(errs)) == enabled {
		_ = s.Leave(context.Background(), topic)
		return fmt.Errorf("join %s: %w", key, errs)
	}
	log.Info("joined topic", "server", s.cfg.Server, "client", s.cfg.Client, "mdns", s.cfg.MDNS)
	return nil
}

func (s *Service) joinSwarm(ctx context.Context, topic []byte) error {
	m, err := s.swarm.Join(ctx, topic, JoinOptions{Server: s.cfg.Server, Client: s.cfg.Client})
	if err != nil {
		return err
	}
	if s.cfg.Server {
		return m.Flushed(ctx)
	}
	return s.swarm.Flush(ctx)
}

func (s *Service) joinMDNS(ctx context.Context, jt *joinedTopic) error {
	if s.cfg.Server {
		srv, err := s.announceMDNS(jt.topic)
		if err != nil {
			return err
		}
		if !s.keepAnnouncer(jt, srv) {
			return ErrClosed
		}
	}
	if !s.enter() {
		return ErrClosed
	}
	go s.lookupMDNSLoop(ctx, jt.topic)
	return nil
}

// keepAnnouncer stores srv on jt while jt is still joined. A Leave or Destroy
// that ran during the announce has already looked for it, so it is shut
// down here instead.
func (s *Service) keepAnnouncer(jt *joinedTopic, srv shutdowner) bool {
	s.mu.Lock()
	live := !s.closed && s.topics[hex.EncodeToString(jt.topic)] == jt
	if live {
		jt.mdns = srv
	}
	s.mu.Unlock()
	if !live {
		_ = srv.Shutdown()
	}
	return live
}

// Leave stops announcing and looking up topic. Open connections stay up.
func (s *Service) Leave(ctx context.Context, topic []byte) error {
	key := hex.EncodeToString(topic)
	s.mu.Lock()
	jt, ok := s.topics[key]
	delete(s.topics, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	jt.cancel()
	var err error
	if s.swarm != nil {
		err = multierr.Append(err, s.swarm.Leave(ctx, topic))
	}
	s.mu.Lock()
	srv := jt.mdns
	jt.mdns = nil
	s.mu.Unlock()
	if srv != nil {
		err = multierr.Append(err, srv.Shutdown())
	}
	return err
}

// Connect dials addr directly as the initiator. The resulting peer is
// delivered on Peers.
func (s *Service) Connect(ctx context.Context, addr string, topic []byte) error {
	if !s.enter() {
		return ErrClosed
	}
	defer s.wg.Done()
	return s.connect(ctx, addr, topic, SourceDirect)
}

// Destroy leaves every topic, closes the swarm, the listener and all tracked
// connections, then closes Peers. Safe to call more than once.
func (s *Service) Destroy() error {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		topics := make([][]byte, 0, len(s.topics))
		for _, jt := range s.topics {
			topics = append(topics, jt.topic)
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var err error
		for _, t := range topics {
			err = multierr.Append(err, s.Leave(ctx, t))
		}
		s.cancel()
		err = multierr.Append(err, s.ln.Close())
		if s.swarm != nil {
			err = multierr.Append(err, s.swarm.Close())
		}
		s.wg.Wait()
		err = multierr.Append(err, s.reg.closeAll())
		close(s.peers)
		s.destroyErr = err
	})
	return s.destroyErr
}

// enter registers a goroutine with the service unless it is shutting down.
func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) joined(topic []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[hex.EncodeToString(topic)]
	return ok
}

func (s *Service) connect(ctx context.Context, addr string, topic []byte, source string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}
	sc, err := dialSecure(ctx, raw, s.cfg.StaticKey, topic)
	if err != nil {
		_ = raw.Close()
		observability.IncHandshakeFailure(source)
		return fmt.Errorf("%w: handshake %s: %v", ErrConnection, addr, err)
	}
	s.emit(&Peer{Conn: sc, Initiator: true, Source: source, Remote: addr, Topic: topic})
	return nil
}

func (s *Service) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Warn("accept failed", "err", err)
			}
			return
		}
		if !s.enter() {
			_ = raw.Close()
			return
		}
		go s.handleInbound(raw)
	}
}

func (s *Service) handleInbound(raw net.Conn) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	remote := raw.RemoteAddr().String()
	sc, topic, err := acceptSecure(ctx, raw, s.cfg.StaticKey, s.joined)
	if err != nil {
		_ = raw.Close()
		observability.IncHandshakeFailure(SourceListener)
		s.log.Debug("inbound handshake failed", "remote", remote, "err", err)
		return
	}
	s.emit(&Peer{Conn: sc, Initiator: false, Source: SourceListener, Remote: remote, Topic: topic})
}

func (s *Service) forwardSwarm() {
	defer s.wg.Done()
	for sc := range s.swarm.Connections() {
		s.emit(&Peer{Conn: sc.Conn, Initiator: sc.Initiator, Source: SourceSwarm, Remote: sc.Remote, Topic: sc.Topic})
	}
}

// emit tracks the connection and delivers it, or closes it when the service
// is shutting down.
func (s *Service) emit(p *Peer) {
	p.Conn = s.reg.track(p.Conn)
	select {
	case s.peers <- p:
		observability.IncPeer(p.Source)
		s.log.Info("peer connected", "source", p.Source, "remote", p.Remote, "initiator", p.Initiator)
	case <-s.ctx.Done():
		_ = p.Close()
	}
}
