package feedlog

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipe relays two replication streams the way a network bridge would.
func pipe(a, b io.ReadWriteCloser) {
	go func() { _, _ = io.Copy(a, b); _ = a.Close(); _ = b.Close() }()
	go func() { _, _ = io.Copy(b, a); _ = a.Close(); _ = b.Close() }()
}

func TestReplicate_CatchUpAndLive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := openMem(t, nil)
	replica := openMem(t, owner.Key())

	// more than one batch
	for i := range batchSize + 10 {
		_, err := owner.Append(ctx, fmt.Sprintf("features/%04d", i), []byte{byte(i)})
		require.NoError(t, err)
	}

	pipe(owner.Replicate(ctx, false), replica.Replicate(ctx, true))

	require.Eventually(t, func() bool {
		return replica.Length() == owner.Length()
	}, 5*time.Second, 10*time.Millisecond)

	v, err := replica.Get(ctx, "features/0265")
	require.NoError(t, err)
	require.Equal(t, []byte{byte(265 % 256)}, v)

	_, err = owner.Append(ctx, "features/live", []byte("new"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, err := replica.Get(ctx, "features/live")
		return err == nil && string(v) == "new"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReplicate_ReplicaToReplica(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := openMem(t, nil)
	first := openMem(t, owner.Key())
	second := openMem(t, owner.Key())

	for i := range 5 {
		_, err := owner.Append(ctx, fmt.Sprintf("k/%d", i), nil)
		require.NoError(t, err)
	}
	pipe(owner.Replicate(ctx, true), first.Replicate(ctx, false))
	require.Eventually(t, func() bool { return first.Length() == 5 }, 5*time.Second, 10*time.Millisecond)

	pipe(first.Replicate(ctx, true), second.Replicate(ctx, false))
	require.Eventually(t, func() bool { return second.Length() == 5 }, 5*time.Second, 10*time.Millisecond)
}

func TestReplicate_RoleMismatchStalls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owner := openMem(t, nil)
	replica := openMem(t, owner.Key())
	_, err := owner.Append(ctx, "features/0", []byte("0"))
	require.NoError(t, err)

	pipe(owner.Replicate(ctx, false), replica.Replicate(ctx, false))

	require.Never(t, func() bool { return replica.Length() > 0 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestReplicate_TopicMismatchCloses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := openMem(t, nil)
	b := openMem(t, nil)
	_, err := a.Append(ctx, "x", nil)
	require.NoError(t, err)

	ra := a.Replicate(ctx, true)
	rb := b.Replicate(ctx, false)

	done := make(chan struct{})
	go func() {
		// b hangs up after the bad hello
		_, _ = io.Copy(ra, rb)
		_ = ra.Close()
		close(done)
	}()
	go func() { _, _ = io.Copy(rb, ra) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("mismatched sessions should close their streams")
	}
	require.Equal(t, uint64(0), b.Length())
}

func TestReplicate_EndsWhenStreamClosed(t *testing.T) {
	l := openMem(t, nil)
	rw := l.Replicate(context.Background(), true)

	// the hello frame is waiting
	buf := make([]byte, 1)
	_, err := rw.Read(buf)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte{0})
	require.Error(t, err)
}
