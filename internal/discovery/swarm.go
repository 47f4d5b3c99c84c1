package discovery

import (
	"context"
	"net"
)

// JoinOptions selects the role taken on a topic. Servers are announced and
// accept connections; clients look the topic up and dial what they find.
type JoinOptions struct {
	Server bool
	Client bool
}

// Membership is the handle returned by Swarm.Join.
type Membership interface {
	// Flushed returns once the topic is announced, or with the announce error.
	Flushed(ctx context.Context) error
}

// SwarmConn is a secured connection produced by a swarm.
type SwarmConn struct {
	Conn      net.Conn
	Initiator bool
	Remote    string
	Topic     []byte
}

// Swarm is a topic-based connection manager.
type Swarm interface {
	Join(ctx context.Context, topic []byte, opts JoinOptions) (Membership, error)
	// Flush returns once every client topic has finished one lookup round
	// and the resulting dials have settled.
	Flush(ctx context.Context) error
	Leave(ctx context.Context, topic []byte) error
	// Connections is closed when the swarm is closed.
	Connections() <-chan SwarmConn
	Close() error
}
