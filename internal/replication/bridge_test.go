package replication

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/geoswarm/internal/discovery"
	"github.com/mohammed-shakir/geoswarm/internal/feedlog"
	"github.com/mohammed-shakir/geoswarm/internal/kvstore"
)

func openLog(t *testing.T, key ed25519.PublicKey) *feedlog.Log {
	t.Helper()
	db, err := kvstore.Open(kvstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := feedlog.Open(db, key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func seed(t *testing.T, l *feedlog.Log, n int) {
	t.Helper()
	for i := range n {
		_, err := l.Append(context.Background(), fmt.Sprintf("features/%03d", i), []byte("v"))
		require.NoError(t, err)
	}
}

func TestAttach_RelaysUntilClosed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := openLog(t, nil)
	replica := openLog(t, owner.Key())
	seed(t, owner, 20)

	a, b := net.Pipe()
	errs := make(chan error, 2)
	go func() { errs <- New(owner).Attach(ctx, a, false) }()
	go func() { errs <- New(replica).Attach(ctx, b, true) }()

	require.Eventually(t, func() bool { return replica.Length() == 20 }, 5*time.Second, 10*time.Millisecond)

	_ = a.Close()
	for range 2 {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("attach did not return after the connection closed")
		}
	}
}

func TestAttach_SameRoleStalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := openLog(t, nil)
	replica := openLog(t, owner.Key())
	seed(t, owner, 3)

	a, b := net.Pipe()
	go func() { _ = New(owner).Attach(ctx, a, true) }()
	go func() { _ = New(replica).Attach(ctx, b, true) }()

	require.Never(t, func() bool { return replica.Length() > 0 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestAttach_ContextCancelClosesConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	owner := openLog(t, nil)

	a, b := net.Pipe()
	defer b.Close()
	done := make(chan error, 1)
	go func() { done <- New(owner).Attach(ctx, a, false) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("attach ignored cancellation")
	}
	_, err := a.Write([]byte("x"))
	require.Error(t, err)
}

func TestRun_ReplicatesDiscoveredPeers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := openLog(t, nil)
	replica := openLog(t, owner.Key())
	seed(t, owner, 5)
	topic := owner.DiscoveryKey()

	srv, err := discovery.New(discovery.Config{ListenAddr: "127.0.0.1:0", Server: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Destroy() })
	cli, err := discovery.New(discovery.Config{ListenAddr: "127.0.0.1:0", Client: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Destroy() })

	require.NoError(t, srv.Join(ctx, topic[:]))
	require.NoError(t, cli.Join(ctx, topic[:]))

	go New(owner).Run(ctx, srv.Peers())
	go New(replica).Run(ctx, cli.Peers())

	require.NoError(t, cli.Connect(ctx, srv.Addr().String(), topic[:]))
	require.Eventually(t, func() bool { return replica.Length() == 5 }, 5*time.Second, 10*time.Millisecond)

	_, err = owner.Append(ctx, "features/live", []byte("x"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, err := replica.Get(ctx, "features/live")
		return err == nil && string(v) == "x"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_ReturnsWhenPeersClosed(t *testing.T) {
	peers := make(chan *discovery.Peer)
	close(peers)
	done := make(chan struct{})
	go func() {
		New(openLog(t, nil)).Run(context.Background(), peers)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
