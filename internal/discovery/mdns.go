package discovery

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/mdns"
)

const (
	sourceMDNS  = "mdns"
	mdnsDomain  = "local."
	mdnsTimeout = time.Second
)

// serviceFor derives the DNS-SD service of a topic. The topic itself does not
// fit in a 63 byte label, so it is hashed; the full value travels in TXT.
func serviceFor(base string, topic []byte) string {
	return fmt.Sprintf("_%s-%016x._tcp", base, xxhash.Sum64(topic))
}

func (s *Service) announceMDNS(topic []byte) (*mdns.Server, error) {
	txt := []string{
		"topic=" + hex.EncodeToString(topic),
		"node=" + s.cfg.NodeID,
	}
	svc, err := mdns.NewMDNSService(s.cfg.NodeID, serviceFor(s.cfg.ServiceName, topic), mdnsDomain, "",
		listenPort(s.ln.Addr()), localIPs(), txt)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	return srv, nil
}

func (s *Service) lookupMDNSLoop(ctx context.Context, topic []byte) {
	defer s.wg.Done()

	tick := time.NewTicker(s.cfg.LookupInterval)
	defer tick.Stop()
	for {
		if err := s.queryMDNS(ctx, topic); err != nil && ctx.Err() == nil {
			s.log.Debug("mdns query failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (s *Service) queryMDNS(ctx context.Context, topic []byte) error {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			s.handleEntry(ctx, topic, e)
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     serviceFor(s.cfg.ServiceName, topic),
		Domain:      "local",
		Timeout:     mdnsTimeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	<-done
	return err
}

// handleEntry dials a record found on the local network unless it is our own,
// belongs to another topic, or was dialed recently.
func (s *Service) handleEntry(ctx context.Context, topic []byte, e *mdns.ServiceEntry) {
	fields := txtFields(e.InfoFields)
	if fields["node"] == s.cfg.NodeID {
		return
	}
	if fields["topic"] != hex.EncodeToString(topic) {
		return
	}
	addr := entryAddr(e)
	if addr == "" {
		return
	}
	if s.recent.Contains(addr) {
		return
	}
	s.recent.Add(addr, struct{}{})

	if !s.enter() {
		return
	}
	go func() {
		defer s.wg.Done()
		if err := s.connect(ctx, addr, topic, sourceMDNS); err != nil && ctx.Err() == nil {
			s.log.Debug("mdns peer unreachable", "addr", addr, "err", err)
		}
	}()
}

func txtFields(info []string) map[string]string {
	out := make(map[string]string, len(info))
	for _, kv := range info {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func entryAddr(e *mdns.ServiceEntry) string {
	if e.Port <= 0 {
		return ""
	}
	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return ""
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(e.Port))
}
