package feedlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

const (
	maxFrameSize = 8 << 20
	// entries per request/data exchange
	batchSize = 256
)

const (
	msgHello   = "hello"
	msgAck     = "ack"
	msgHave    = "have"
	msgRequest = "request"
	msgData    = "data"
)

// message is the single envelope of the replication protocol.
type message struct {
	Type    string  `json:"type"`
	Topic   string  `json:"topic,omitempty"`
	Length  uint64  `json:"length,omitempty"`
	Start   uint64  `json:"start,omitempty"`
	End     uint64  `json:"end,omitempty"`
	Entries []Entry `json:"entries,omitempty"`
}

// frames are a uvarint byte length followed by the JSON message
func encodeFrame(m *message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	hdr := varint.ToUvarint(uint64(len(body)))
	return append(hdr, body...), nil
}

func readFrame(r *bufio.Reader) (*message, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxFrameSize {
		return nil, fmt.Errorf("feedlog: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var m message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &m, nil
}
