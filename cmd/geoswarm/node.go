package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/multierr"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/core/health"
	"github.com/mohammed-shakir/geoswarm/internal/discovery"
	"github.com/mohammed-shakir/geoswarm/internal/discovery/rendezvous"
	"github.com/mohammed-shakir/geoswarm/internal/feedlog"
	"github.com/mohammed-shakir/geoswarm/internal/geostore"
	"github.com/mohammed-shakir/geoswarm/internal/kvstore"
	"github.com/mohammed-shakir/geoswarm/internal/logger"
	"github.com/mohammed-shakir/geoswarm/internal/query"
	"github.com/mohammed-shakir/geoswarm/internal/redisstore"
	"github.com/mohammed-shakir/geoswarm/internal/replication"
	"github.com/mohammed-shakir/geoswarm/internal/secure"
)

// node bundles the local log with the services built on it.
type node struct {
	cfg    config.Config
	logger *slog.Logger
	db     *kvstore.DB
	log    *feedlog.Log
	store  *geostore.Store
	engine *query.Engine

	disc  *discovery.Service
	rv    rendezvous.Rendezvous
	redis *redisstore.Client
}

func openNode(cfg config.Config, g *globalFlags, component string) (*node, error) {
	zl := logger.Build(logger.Config{
		Level:     g.logLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: component,
	}, os.Stderr)
	appLog := logger.NewSlog(&zl)

	var key ed25519.PublicKey
	if g.key != "" {
		k, err := feedlog.ParseKey(g.key)
		if err != nil {
			return nil, err
		}
		key = k
	}

	kv := kvstore.DefaultConfig(g.dataDir)
	kv.Logger = appLog
	db, err := kvstore.Open(kv)
	if err != nil {
		return nil, err
	}
	l, err := feedlog.Open(db, key, feedlog.WithLogger(appLog))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := geostore.New(l, geostore.WithZoom(cfg.Zoom), geostore.WithLogger(appLog))
	if err != nil {
		_ = l.Close()
		_ = db.Close()
		return nil, err
	}
	return &node{
		cfg:    cfg,
		logger: appLog,
		db:     db,
		log:    l,
		store:  store,
		engine: query.NewEngine(store, appLog),
	}, nil
}

// startDiscovery joins the log's topic on every configured path and relays
// each peer into replication until ctx is done. The owner announces; replicas
// look the topic up.
func (n *node) startDiscovery(ctx context.Context, connect []string) error {
	dc := n.cfg.Discovery
	writable := n.log.Writable()
	ctx = logger.WithTopic(ctx, n.log.Topic())

	staticKey, err := secure.GenerateKey()
	if err != nil {
		return err
	}

	var backends rendezvous.Multi
	if n.cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, n.cfg.RedisAddr)
		if err != nil {
			n.logger.Warn("redis rendezvous unavailable", "addr", n.cfg.RedisAddr, "err", err)
		} else {
			n.redis = rc
			backends = append(backends, rendezvous.NewRedis(rc, dc.RendezvousTTL))
		}
	}
	if dc.DHTEnabled {
		d, err := rendezvous.NewDHT(n.logger, 0)
		if err != nil {
			n.logger.Warn("dht rendezvous unavailable", "err", err)
		} else {
			backends = append(backends, d)
		}
	}

	var swarm discovery.Swarm
	if len(backends) > 0 {
		n.rv = backends
		ts, err := discovery.NewTCPSwarm(backends, discovery.TCPSwarmConfig{
			ListenAddr:       dc.SwarmListenAddr,
			StaticKey:        staticKey,
			LookupInterval:   dc.LookupInterval,
			HandshakeTimeout: dc.HandshakeTimeout,
			Logger:           n.logger,
		})
		if err != nil {
			return err
		}
		swarm = ts
	}

	disc, err := discovery.New(discovery.Config{
		ListenAddr:       dc.ListenAddr,
		ServiceName:      dc.ServiceName,
		Server:           writable,
		Client:           !writable,
		MDNS:             dc.MDNSEnabled,
		LookupInterval:   dc.LookupInterval,
		HandshakeTimeout: dc.HandshakeTimeout,
		StaticKey:        staticKey,
	}, swarm, discovery.WithLogger(n.logger))
	if err != nil {
		if swarm != nil {
			_ = swarm.Close()
		}
		return err
	}
	n.disc = disc

	go replication.New(n.log, replication.WithLogger(n.logger)).Run(ctx, disc.Peers())

	topic := n.log.DiscoveryKey()
	if err := disc.Join(ctx, topic[:]); err != nil {
		return fmt.Errorf("join discovery: %w", err)
	}
	for _, addr := range connect {
		if err := disc.Connect(ctx, addr, topic[:]); err != nil {
			n.logger.Warn("direct connect failed", "addr", addr, "err", err)
		}
	}
	n.logger.InfoContext(ctx, "discovery started", "listen", disc.Addr().String(), "writable", writable)
	return nil
}

func (n *node) Readiness() health.Status {
	st := health.Status{
		Topic:    n.log.Topic(),
		Writable: n.log.Writable(),
		Length:   n.log.Length(),
	}
	select {
	case <-n.log.Done():
	default:
		st.Ready = true
	}
	if n.disc != nil {
		st.Peers = n.disc.PeerCount()
	}
	return st
}

func (n *node) Close() error {
	var err error
	if n.disc != nil {
		err = multierr.Append(err, n.disc.Destroy())
	}
	if n.rv != nil {
		err = multierr.Append(err, n.rv.Close())
	}
	if n.redis != nil {
		err = multierr.Append(err, n.redis.Close())
	}
	err = multierr.Append(err, n.log.Close())
	err = multierr.Append(err, n.db.Close())
	return err
}
