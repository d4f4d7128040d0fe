package httpapi

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver identifies the client behind a request. X-Forwarded-For
// is read only when the direct peer is a trusted proxy, and then the
// right-most hop that is not itself trusted is the client.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

func NewClientIPResolver(trusted []netip.Prefix) ClientIPResolver {
	return ClientIPResolver{trusted: trusted}
}

func (c ClientIPResolver) ClientIP(r *http.Request) string {
	peer := peerIP(r)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !c.isTrusted(addr) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// A trusted proxy never appends garbage; stop at the last good hop.
			return client
		}
		client = hop.Unmap().String()
		if !c.isTrusted(hop) {
			return client
		}
	}
	return client
}

func (c ClientIPResolver) isTrusted(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range c.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// peerIP is the host part of RemoteAddr.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
