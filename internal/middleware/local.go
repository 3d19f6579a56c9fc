package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// PeerIP returns the IP of the TCP peer, ignoring forwarding headers.
func PeerIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// ClientIP resolves the originating client of r. X-Forwarded-For is only
// consulted when the TCP peer is inside trusted, and is walked from the
// right: the first address that is not itself a trusted proxy is the
// client. Entries left of it were written by the client and are ignored.
// It returns nil when the address cannot be parsed.
func ClientIP(r *http.Request, trusted []*net.IPNet) net.IP {
	peer := PeerIP(r)
	if peer == nil || !containsIP(trusted, peer) {
		return peer
	}

	hops := forwardedFor(r)
	if len(hops) == 0 {
		return peer
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(hops[i])
		if ip == nil {
			return nil
		}
		if !containsIP(trusted, ip) {
			return ip
		}
	}
	// Every hop is a trusted proxy; the leftmost is as far back as we can see.
	return net.ParseIP(hops[0])
}

func forwardedFor(r *http.Request) []string {
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(header, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}

type clientIPKey struct{}

// ResolveClient stores the address returned by ClientIP on the request
// context, where RealIP picks it up.
func ResolveClient(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := ClientIP(r, trusted); ip != nil {
				r = r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip.String()))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLocalNetwork only lets through requests whose client, as resolved
// by ClientIP through the trusted proxies, is inside one of allowed.
func RequireLocalNetwork(allowed, trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trusted)
			if ip == nil || !containsIP(allowed, ip) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
