package discovery

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/geoswarm/internal/discovery/rendezvous"
	"github.com/mohammed-shakir/geoswarm/internal/secure"
)

var (
	topic      = bytes.Repeat([]byte{0x42}, TopicSize)
	otherTopic = bytes.Repeat([]byte{0x24}, TopicSize)
)

func newService(t *testing.T, cfg Config, swarm Swarm) *Service {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	s, err := New(cfg, swarm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}

func nextPeer(t *testing.T, s *Service) *Peer {
	t.Helper()
	select {
	case p, ok := <-s.Peers():
		require.True(t, ok, "peers channel closed")
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no peer delivered")
		return nil
	}
}

func requireNoPeer(t *testing.T, s *Service, wait time.Duration) {
	t.Helper()
	select {
	case p := <-s.Peers():
		t.Fatalf("unexpected peer from %s via %s", p.Remote, p.Source)
	case <-time.After(wait):
	}
}

func exchange(t *testing.T, a, b net.Conn) {
	t.Helper()
	go func() { _, _ = a.Write([]byte("ping")) }()
	buf := make([]byte, 4)
	_, err := io.ReadFull(b, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestConnect_DirectListener(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	b := newService(t, Config{Client: true}, nil)
	require.NoError(t, a.Join(ctx, topic))
	require.NoError(t, b.Join(ctx, topic))

	require.NoError(t, b.Connect(ctx, a.Addr().String(), topic))

	out := nextPeer(t, b)
	in := nextPeer(t, a)
	require.True(t, out.Initiator)
	require.Equal(t, SourceDirect, out.Source)
	require.False(t, in.Initiator)
	require.Equal(t, SourceListener, in.Source)
	require.Equal(t, topic, in.Topic)

	exchange(t, out, in)
	exchange(t, in, out)
}

func TestConnect_UnjoinedTopicRejected(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	b := newService(t, Config{Client: true}, nil)
	require.NoError(t, a.Join(ctx, topic))

	err := b.Connect(ctx, a.Addr().String(), otherTopic)
	require.ErrorIs(t, err, ErrConnection)
	requireNoPeer(t, a, 100*time.Millisecond)
}

func TestConnect_SelfRejected(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	require.NoError(t, a.Join(ctx, topic))

	err := a.Connect(ctx, a.Addr().String(), topic)
	require.ErrorIs(t, err, ErrConnection)
	requireNoPeer(t, a, 100*time.Millisecond)
}

func TestPeerClose_Untracks(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	b := newService(t, Config{Client: true}, nil)
	require.NoError(t, a.Join(ctx, topic))
	require.NoError(t, b.Join(ctx, topic))
	require.NoError(t, b.Connect(ctx, a.Addr().String(), topic))

	p := nextPeer(t, b)
	require.Equal(t, 1, b.reg.len())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.Equal(t, 0, b.reg.len())
}

func TestDestroy_Idempotent(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	b := newService(t, Config{Client: true}, nil)
	require.NoError(t, a.Join(ctx, topic))
	require.NoError(t, b.Join(ctx, topic))
	require.NoError(t, b.Connect(ctx, a.Addr().String(), topic))
	in := nextPeer(t, a)

	require.NoError(t, a.Destroy())
	require.NoError(t, a.Destroy())

	_, ok := <-a.Peers()
	require.False(t, ok, "peers must be closed after destroy")
	require.Equal(t, 0, a.reg.len())

	_, err := in.Write([]byte("x"))
	require.Error(t, err)

	require.ErrorIs(t, a.Join(ctx, otherTopic), ErrClosed)
	require.ErrorIs(t, a.Connect(ctx, b.Addr().String(), topic), ErrClosed)
}

func TestJoin_BadTopic(t *testing.T) {
	a := newService(t, Config{}, nil)
	require.Error(t, a.Join(context.Background(), []byte("short")))
}

func TestLeave_StopsAcceptingTopic(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	b := newService(t, Config{Client: true}, nil)
	require.NoError(t, a.Join(ctx, topic))
	require.NoError(t, a.Leave(ctx, topic))

	require.ErrorIs(t, b.Connect(ctx, a.Addr().String(), topic), ErrConnection)
}

func newSwarm(t *testing.T, rv rendezvous.Rendezvous) *TCPSwarm {
	t.Helper()
	key, err := secure.GenerateKey()
	require.NoError(t, err)
	s, err := NewTCPSwarm(rv, TCPSwarmConfig{
		ListenAddr:     "127.0.0.1:0",
		StaticKey:      key,
		LookupInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestJoin_SwarmConnectsServerAndClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rv := rendezvous.NewMemory()

	owner := newService(t, Config{Server: true}, newSwarm(t, rv))
	replica := newService(t, Config{Client: true}, newSwarm(t, rv))

	require.NoError(t, owner.Join(ctx, topic))
	require.NoError(t, replica.Join(ctx, topic))

	out := nextPeer(t, replica)
	in := nextPeer(t, owner)
	require.Equal(t, SourceSwarm, out.Source)
	require.True(t, out.Initiator)
	require.Equal(t, SourceSwarm, in.Source)
	require.False(t, in.Initiator)

	exchange(t, out, in)
}

func TestJoin_SwarmIgnoresOtherTopics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rv := rendezvous.NewMemory()

	owner := newService(t, Config{Server: true}, newSwarm(t, rv))
	replica := newService(t, Config{Client: true}, newSwarm(t, rv))

	require.NoError(t, owner.Join(ctx, topic))
	require.NoError(t, replica.Join(ctx, otherTopic))
	requireNoPeer(t, replica, 200*time.Millisecond)
}

func TestJoin_FailsWhenEveryPathFails(t *testing.T) {
	rv := rendezvous.NewMemory()
	require.NoError(t, rv.Close())

	owner := newService(t, Config{Server: true}, newSwarm(t, rv))
	err := owner.Join(context.Background(), topic)
	require.ErrorIs(t, err, rendezvous.ErrClosed)
	require.False(t, owner.joined(topic))
}

func TestHandleEntry_Filters(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	b := newService(t, Config{Client: true}, nil)
	require.NoError(t, a.Join(ctx, topic))
	require.NoError(t, b.Join(ctx, topic))

	addr := a.Addr().(*net.TCPAddr)
	entry := func(node string, tp []byte) *mdns.ServiceEntry {
		return &mdns.ServiceEntry{
			AddrV4:     addr.IP,
			Port:       addr.Port,
			InfoFields: []string{"topic=" + hex.EncodeToString(tp), "node=" + node},
		}
	}

	b.handleEntry(ctx, topic, entry(b.NodeID(), topic))
	b.handleEntry(ctx, topic, entry(a.NodeID(), otherTopic))
	requireNoPeer(t, a, 100*time.Millisecond)

	b.handleEntry(ctx, topic, entry(a.NodeID(), topic))
	p := nextPeer(t, b)
	require.Equal(t, SourceMDNS, p.Source)
	require.True(t, p.Initiator)
	nextPeer(t, a)

	// recently dialed
	b.handleEntry(ctx, topic, entry(a.NodeID(), topic))
	requireNoPeer(t, a, 150*time.Millisecond)
}

func TestServiceFor(t *testing.T) {
	got := serviceFor("geoswarm", topic)
	require.Regexp(t, `^_geoswarm-[0-9a-f]{16}\._tcp$`, got)
	require.NotEqual(t, got, serviceFor("geoswarm", otherTopic))
}

func TestEntryAddr(t *testing.T) {
	require.Equal(t, "10.1.2.3:4000", entryAddr(&mdns.ServiceEntry{AddrV4: net.ParseIP("10.1.2.3"), Port: 4000}))
	require.Equal(t, "[fe80::1]:4000", entryAddr(&mdns.ServiceEntry{AddrV6: net.ParseIP("fe80::1"), Port: 4000}))
	require.Empty(t, entryAddr(&mdns.ServiceEntry{Port: 4000}))
	require.Empty(t, entryAddr(&mdns.ServiceEntry{AddrV4: net.ParseIP("10.1.2.3")}))
}

type fakeAnnouncer struct{ shut int }

func (f *fakeAnnouncer) Shutdown() error { f.shut++; return nil }

func TestKeepAnnouncer_AfterLeaveShutsDown(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	require.NoError(t, a.Join(ctx, topic))

	a.mu.Lock()
	jt := a.topics[hex.EncodeToString(topic)]
	a.mu.Unlock()

	kept := &fakeAnnouncer{}
	require.True(t, a.keepAnnouncer(jt, kept))
	require.NoError(t, a.Leave(ctx, topic))
	require.Equal(t, 1, kept.shut, "leave shuts down the stored announcer")

	late := &fakeAnnouncer{}
	require.False(t, a.keepAnnouncer(jt, late))
	require.Equal(t, 1, late.shut)
}

func TestKeepAnnouncer_AfterDestroyShutsDown(t *testing.T) {
	ctx := context.Background()
	a := newService(t, Config{Server: true}, nil)
	require.NoError(t, a.Join(ctx, topic))

	a.mu.Lock()
	jt := a.topics[hex.EncodeToString(topic)]
	a.mu.Unlock()

	require.NoError(t, a.Destroy())
	late := &fakeAnnouncer{}
	require.False(t, a.keepAnnouncer(jt, late))
	require.Equal(t, 1, late.shut)
}
