// Package tlswarn emits process-wide one-shot warnings for connections that
// run without the usual transport protections.
package tlswarn

import (
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
)

var (
	mu   sync.Mutex
	seen = make(map[string]struct{})
)

// PlainHTTP warns once per host when rawURL talks plain HTTP to a host other
// than loopback. It reports whether the URL is such a connection.
func PlainHTTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Scheme, "http") {
		return false
	}
	host := u.Hostname()
	if isLoopback(host) {
		return false
	}
	warnOnce("http:"+strings.ToLower(host),
		"[TLS] WARNING: registry %s is reached over plain HTTP; tokens and session keys travel unencrypted", host)
	return true
}

// PrivateHosts warns once that signed object URLs may target private or
// loopback addresses.
func PrivateHosts() {
	warnOnce("private-hosts",
		"[TLS] WARNING: signed URLs on private and loopback addresses are allowed. Do NOT use in production.")
}

func warnOnce(key, format string, args ...any) {
	mu.Lock()
	_, dup := seen[key]
	seen[key] = struct{}{}
	mu.Unlock()
	if !dup {
		log.Printf(format, args...)
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
