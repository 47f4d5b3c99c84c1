package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/flynn/noise"

	"github.com/mohammed-shakir/geoswarm/internal/secure"
)

// TopicSize is the length of a discovery topic.
const TopicSize = 32

var (
	errUnknownTopic = errors.New("peer asked for a topic we have not joined")
	errSelf         = errors.New("connected to ourselves")
)

// Before the Noise handshake the dialer sends the raw topic so a listener
// shared by several topics knows which prologue to use.
func dialSecure(ctx context.Context, conn net.Conn, key noise.DHKey, topic []byte) (*secure.Conn, error) {
	if len(topic) != TopicSize {
		return nil, fmt.Errorf("topic must be %d bytes, got %d", TopicSize, len(topic))
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := conn.Write(topic); err != nil {
		return nil, fmt.Errorf("send topic: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	sc, err := secure.Client(ctx, conn, secure.Config{StaticKey: key, Prologue: topic})
	if err != nil {
		return nil, err
	}
	if bytes.Equal(sc.RemoteStatic(), key.Public) {
		return nil, errSelf
	}
	return sc, nil
}

func acceptSecure(ctx context.Context, conn net.Conn, key noise.DHKey, joined func([]byte) bool) (*secure.Conn, []byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	topic := make([]byte, TopicSize)
	if _, err := io.ReadFull(conn, topic); err != nil {
		return nil, nil, fmt.Errorf("read topic: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if !joined(topic) {
		return nil, nil, errUnknownTopic
	}
	sc, err := secure.Server(ctx, conn, secure.Config{StaticKey: key, Prologue: topic})
	if err != nil {
		return nil, nil, err
	}
	if bytes.Equal(sc.RemoteStatic(), key.Public) {
		return nil, nil, errSelf
	}
	return sc, topic, nil
}
