package discovery

import (
	"net"
	"strconv"
)

// advertiseAddr turns a listener address into one a remote host can dial.
// Unspecified hosts are replaced with the first non-loopback IPv4 address.
func advertiseAddr(a net.Addr) string {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return a.String()
	}
	if !tcp.IP.IsUnspecified() {
		return tcp.String()
	}
	ips := localIPs()
	host := "127.0.0.1"
	if len(ips) > 0 {
		host = ips[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}

// localIPs lists the non-loopback IPv4 addresses of this host, falling back
// to loopback so a record can always be built.
func localIPs() []net.IP {
	var out []net.IP
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok || ipn.IP.IsLoopback() {
				continue
			}
			if v4 := ipn.IP.To4(); v4 != nil {
				out = append(out, v4)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, net.IPv4(127, 0, 0, 1))
	}
	return out
}

func listenPort(a net.Addr) int {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, p, err := net.SplitHostPort(a.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
