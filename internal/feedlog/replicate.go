package feedlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

var ErrTopicMismatch = errors.New("feedlog: peer replicates a different log")

// outbound frames buffered ahead of the writer goroutine
const outboxSize = 64

// Replicate starts a replication session and returns its byte stream. The
// caller pipes the stream to a remote peer's stream unchanged. The initiator
// opens with hello and the responder answers with ack; two sessions with the
// same role wait for each other forever. The session ends when the returned
// stream is closed, ctx is done, the log is closed or the peer misbehaves.
func (l *Log) Replicate(ctx context.Context, initiator bool) io.ReadWriteCloser {
	local, remote := net.Pipe()
	s := &session{
		log:       l,
		conn:      remote,
		initiator: initiator,
		topic:     l.Topic(),
		out:       make(chan []byte, outboxSize),
	}
	go s.run(ctx)
	return local
}

type session struct {
	log       *Log
	conn      net.Conn
	initiator bool
	topic     string
	out       chan []byte

	// owned by the run loop
	handshaken bool
	remoteLen  uint64
	requested  uint64
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.conn.Close()

	inbox := make(chan *message)
	errc := make(chan error, 2)
	go s.readLoop(ctx, inbox, errc)
	go s.writeLoop(ctx, errc)

	err := s.loop(ctx, inbox, errc)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		s.log.log.Debug("replication session ended", "initiator", s.initiator, "length", s.log.Length())
	default:
		s.log.log.Warn("replication session failed", "initiator", s.initiator, "err", err)
	}
}

func (s *session) readLoop(ctx context.Context, inbox chan<- *message, errc chan<- error) {
	br := bufio.NewReader(s.conn)
	for {
		m, err := readFrame(br)
		if err != nil {
			errc <- err
			return
		}
		select {
		case inbox <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) writeLoop(ctx context.Context, errc chan<- error) {
	for {
		select {
		case b := <-s.out:
			if _, err := s.conn.Write(b); err != nil {
				errc <- err
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) send(ctx context.Context, m *message) error {
	b, err := encodeFrame(m)
	if err != nil {
		return err
	}
	select {
	case s.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) loop(ctx context.Context, inbox <-chan *message, errc <-chan error) error {
	if s.initiator {
		if err := s.send(ctx, &message{Type: msgHello, Topic: s.topic, Length: s.log.Length()}); err != nil {
			return err
		}
	}
	changed := s.log.Changed()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.log.closed:
			return ErrClosed
		case err := <-errc:
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		case <-changed:
			changed = s.log.Changed()
			if s.handshaken {
				if err := s.send(ctx, &message{Type: msgHave, Length: s.log.Length()}); err != nil {
					return err
				}
			}
		case m := <-inbox:
			if err := s.handle(ctx, m); err != nil {
				return err
			}
		}
	}
}

func (s *session) handle(ctx context.Context, m *message) error {
	if !s.handshaken {
		switch {
		case !s.initiator && m.Type == msgHello:
			if m.Topic != s.topic {
				return ErrTopicMismatch
			}
			if err := s.send(ctx, &message{Type: msgAck, Topic: s.topic, Length: s.log.Length()}); err != nil {
				return err
			}
		case s.initiator && m.Type == msgAck:
			if m.Topic != s.topic {
				return ErrTopicMismatch
			}
			// hello may carry a stale length
			if err := s.send(ctx, &message{Type: msgHave, Length: s.log.Length()}); err != nil {
				return err
			}
		default:
			// nothing is exchanged before the handshake
			return nil
		}
		s.handshaken = true
		s.remoteLen = m.Length
		s.log.log.Debug("replication handshake complete", "initiator", s.initiator, "remote_length", m.Length)
		return s.maybeRequest(ctx)
	}

	switch m.Type {
	case msgHave:
		s.remoteLen = max(s.remoteLen, m.Length)
	case msgRequest:
		return s.serve(ctx, m.Start, m.End)
	case msgData:
		s.requested = 0
		if len(m.Entries) == 0 {
			// peer advertised more than it could serve
			s.remoteLen = s.log.Length()
		}
		for _, e := range m.Entries {
			if _, err := s.log.appendVerified(e); err != nil {
				return fmt.Errorf("apply seq %d: %w", e.Seq, err)
			}
		}
	}
	return s.maybeRequest(ctx)
}

func (s *session) maybeRequest(ctx context.Context) error {
	have := s.log.Length()
	if s.requested != 0 || s.remoteLen <= have {
		return nil
	}
	end := min(s.remoteLen, have+batchSize)
	s.requested = end
	return s.send(ctx, &message{Type: msgRequest, Start: have, End: end})
}

func (s *session) serve(ctx context.Context, start, end uint64) error {
	end = min(end, start+batchSize, s.log.Length())
	var entries []Entry
	for seq := start; seq < end; seq++ {
		e, err := s.log.EntryAt(seq)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return s.send(ctx, &message{Type: msgData, Start: start, End: end, Entries: entries})
}
