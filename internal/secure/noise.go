// Package secure upgrades a raw stream to an authenticated, encrypted channel
// using the Noise XX handshake.
//
// Frames on the wire are a 2-byte big-endian length followed by a Noise
// message. Both peers must use the same prologue; a mismatch fails the
// handshake, which is how peers of different topics are kept apart.
package secure

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
)

const (
	maxMessage = 65535
	// ChaChaPoly tag
	tagSize      = 16
	maxPlaintext = maxMessage - tagSize
)

var ErrHandshake = errors.New("secure: handshake failed")

var suite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

type Config struct {
	StaticKey noise.DHKey
	Prologue  []byte
}

// GenerateKey returns a fresh static Curve25519 keypair.
func GenerateKey() (noise.DHKey, error) {
	return noise.DH25519.GenerateKeypair(rand.Reader)
}

// Conn is a net.Conn whose payload is encrypted with the session keys.
type Conn struct {
	net.Conn
	send, recv   *noise.CipherState
	remoteStatic []byte

	readMu  sync.Mutex
	writeMu sync.Mutex
	readBuf []byte
}

// RemoteStatic is the peer's authenticated static public key.
func (c *Conn) RemoteStatic() []byte { return c.remoteStatic }

func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.readBuf) == 0 {
		msg, err := readFrame(c.Conn)
		if err != nil {
			return 0, err
		}
		plain, err := c.recv.Decrypt(nil, nil, msg)
		if err != nil {
			return 0, fmt.Errorf("decrypt: %w", err)
		}
		c.readBuf = plain
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for len(p) > 0 {
		chunk := p[:min(len(p), maxPlaintext)]
		frame := make([]byte, 2, 2+len(chunk)+tagSize)
		frame, err := c.send.Encrypt(frame, nil, chunk)
		if err != nil {
			return written, fmt.Errorf("encrypt: %w", err)
		}
		binary.BigEndian.PutUint16(frame[:2], uint16(len(frame)-2))
		if _, err := c.Conn.Write(frame); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// Client runs the initiator side of the handshake.
func Client(ctx context.Context, conn net.Conn, cfg Config) (*Conn, error) {
	return handshake(ctx, conn, cfg, true)
}

// Server runs the responder side of the handshake.
func Server(ctx context.Context, conn net.Conn, cfg Config) (*Conn, error) {
	return handshake(ctx, conn, cfg, false)
}

func handshake(ctx context.Context, conn net.Conn, cfg Config, initiator bool) (*Conn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   suite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		Prologue:      cfg.Prologue,
		StaticKeypair: cfg.StaticKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	// unblock reads and writes once ctx ends
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	var send, recv *noise.CipherState
	if initiator {
		send, recv, err = clientHandshake(conn, hs)
	} else {
		send, recv, err = serverHandshake(conn, hs)
	}
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if !stop() {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, ctx.Err())
	}
	_ = conn.SetDeadline(time.Time{})

	return &Conn{
		Conn:         conn,
		send:         send,
		recv:         recv,
		remoteStatic: hs.PeerStatic(),
	}, nil
}

// -> e; <- e, ee, s, es; -> s, se
func clientHandshake(conn net.Conn, hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("write message 1: %w", err)
	}
	if err := writeFrame(conn, msg); err != nil {
		return nil, nil, fmt.Errorf("send message 1: %w", err)
	}

	msg, err = readFrame(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("receive message 2: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg); err != nil {
		return nil, nil, fmt.Errorf("read message 2: %w", err)
	}

	msg, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("write message 3: %w", err)
	}
	if err := writeFrame(conn, msg); err != nil {
		return nil, nil, fmt.Errorf("send message 3: %w", err)
	}
	return cs1, cs2, nil
}

func serverHandshake(conn net.Conn, hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg, err := readFrame(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("receive message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg); err != nil {
		return nil, nil, fmt.Errorf("read message 1: %w", err)
	}

	msg, _, _, err = hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("write message 2: %w", err)
	}
	if err := writeFrame(conn, msg); err != nil {
		return nil, nil, fmt.Errorf("send message 2: %w", err)
	}

	msg, err = readFrame(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("receive message 3: %w", err)
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("read message 3: %w", err)
	}
	// responder sends with the second cipher state
	return cs2, cs1, nil
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxMessage {
		return fmt.Errorf("frame of %d bytes too large", len(data))
	}
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
