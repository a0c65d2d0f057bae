package ratelimit

import (
	"net/http"
	"net/netip"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetHeaders(t *testing.T) {
	reset := time.Unix(1_700_003_600, 0)

	t.Run("allowed", func(t *testing.T) {
		h := http.Header{}
		SetHeaders(h, Info{Limit: 10, Remaining: 7, ResetAt: reset}, false)

		assert.Equal(t, "10", h.Get("X-RateLimit-Limit"))
		assert.Equal(t, "7", h.Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1700003600", h.Get("X-RateLimit-Reset"))
		assert.Empty(t, h.Get("Retry-After"))
	})

	t.Run("limited", func(t *testing.T) {
		tests := []struct {
			retryAfter time.Duration
			want       string
		}{
			{55 * time.Minute, "3300"},
			{1500 * time.Millisecond, "2"},
			{0, "1"},
		}
		for _, tt := range tests {
			h := http.Header{}
			SetHeaders(h, Info{Limit: 10, ResetAt: reset, RetryAfter: tt.retryAfter}, true)
			assert.Equal(t, tt.want, h.Get("Retry-After"), tt.retryAfter.String())
		}
	})
}

func TestClientIP(t *testing.T) {
	proxies := NewTrustedProxies(
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("fd00::/8"),
	)

	tests := []struct {
		name       string
		trusted    *TrustedProxies
		remoteAddr string
		headers    map[string][]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6 remote addr", remoteAddr: "[::1]:8080", want: "::1"},
		{name: "no port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "empty", remoteAddr: "", want: ""},

		// Nothing trusted: forwarding headers are ignored whatever they say.
		{name: "spoofed forwarded for", remoteAddr: "203.0.113.9:4444",
			headers: map[string][]string{"X-Forwarded-For": {"10.0.0.1"}}, want: "203.0.113.9"},
		{name: "spoofed forwarded chain", remoteAddr: "203.0.113.9:4444",
			headers: map[string][]string{"X-Forwarded-For": {"198.51.100.1, 10.0.0.2"}}, want: "203.0.113.9"},
		{name: "spoofed real ip", remoteAddr: "203.0.113.9:4444",
			headers: map[string][]string{"X-Real-IP": {"198.51.100.4"}}, want: "203.0.113.9"},
		{name: "spoofed from a would-be proxy address", remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Forwarded-For": {"203.0.113.7"}}, want: "10.0.0.1"},

		// Trusted peers vouch for the hop before them.
		{name: "untrusted peer behind configured proxies", trusted: proxies, remoteAddr: "203.0.113.9:4444",
			headers: map[string][]string{"X-Forwarded-For": {"10.0.0.5"}, "X-Real-IP": {"10.0.0.6"}}, want: "203.0.113.9"},
		{name: "trusted proxy forwards", trusted: proxies, remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Forwarded-For": {"203.0.113.7"}}, want: "203.0.113.7"},
		{name: "client-supplied prefix is skipped", trusted: proxies, remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Forwarded-For": {"1.2.3.4, 203.0.113.7, 10.0.0.2"}}, want: "203.0.113.7"},
		{name: "multiple header lines", trusted: proxies, remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Forwarded-For": {"1.2.3.4", "203.0.113.7"}}, want: "203.0.113.7"},
		{name: "garbage hop stops the walk", trusted: proxies, remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Forwarded-For": {"203.0.113.7, not-an-ip, 10.0.0.2"}}, want: "10.0.0.2"},
		{name: "only trusted hops", trusted: proxies, remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Forwarded-For": {"10.0.0.3, 10.0.0.2"}}, want: "10.0.0.3"},
		{name: "real ip behind trusted proxy", trusted: proxies, remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Real-IP": {"198.51.100.4"}}, want: "198.51.100.4"},
		{name: "malformed real ip", trusted: proxies, remoteAddr: "10.0.0.1:1",
			headers: map[string][]string{"X-Real-IP": {"nope"}}, want: "10.0.0.1"},
		{name: "ipv6 trusted proxy", trusted: proxies, remoteAddr: "[fd00::1]:443",
			headers: map[string][]string{"X-Forwarded-For": {"2001:db8::7"}}, want: "2001:db8::7"},
		{name: "ipv4-mapped peer", trusted: proxies, remoteAddr: "[::ffff:10.0.0.1]:1",
			headers: map[string][]string{"X-Forwarded-For": {"203.0.113.7"}}, want: "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, values := range tt.headers {
				for _, v := range values {
					req.Header.Add(k, v)
				}
			}
			assert.Equal(t, tt.want, tt.trusted.ClientIP(req))
		})
	}
}
