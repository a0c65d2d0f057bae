package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// SetHeaders writes the X-RateLimit-* headers for info, plus Retry-After
// when the request was limited.
func SetHeaders(h http.Header, info Info, limited bool) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

	if limited {
		// Round up so clients never retry inside the same window.
		secs := int(info.RetryAfter.Seconds())
		if float64(secs) < info.RetryAfter.Seconds() || secs == 0 {
			secs++
		}
		h.Set("Retry-After", strconv.Itoa(secs))
	}
}

// TrustedProxies decides whose forwarding headers are believed. A nil or
// empty TrustedProxies believes nobody, so a client cannot pick its own
// anonymous quota key by sending X-Forwarded-For.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies trusts peers inside any of prefixes.
func NewTrustedProxies(prefixes ...netip.Prefix) *TrustedProxies {
	return &TrustedProxies{prefixes: prefixes}
}

func (p *TrustedProxies) trusts(addr netip.Addr) bool {
	if p == nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a request is attributed to. It is the host of
// RemoteAddr unless that peer is a trusted proxy. Behind a trusted proxy,
// X-Forwarded-For is walked from the right past trusted hops and the first
// untrusted hop wins; X-Real-IP is used only when X-Forwarded-For is absent.
func (p *TrustedProxies) ClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !p.trusts(peerAddr) {
		return peer
	}

	if hops := forwardedHops(r.Header); len(hops) > 0 {
		client := peerAddr.Unmap().String()
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(hops[i])
			if err != nil {
				break
			}
			client = addr.Unmap().String()
			if !p.trusts(addr) {
				break
			}
		}
		return client
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	return peer
}

// forwardedHops flattens every X-Forwarded-For line into one ordered list.
func forwardedHops(h http.Header) []string {
	var hops []string
	for _, line := range h.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(line, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}
