package validate

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// IdentRe matches valid component identifiers. Must start with alphanumeric,
// followed by alphanumeric, dots, hyphens, or underscores. An identifier is
// always safe to use as a single path segment.
var IdentRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// MaxIdentLen is the maximum length for component identifiers.
const MaxIdentLen = 128

// ComponentID reports whether s is a usable component identifier.
func ComponentID(s string) bool {
	return len(s) > 0 && len(s) <= MaxIdentLen && IdentRe.MatchString(s) && !strings.Contains(s, "..")
}

// HTTPURL ensures the URL uses http or https scheme and has a non-empty host
// to prevent SSRF via file://, ftp://, or other dangerous schemes.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return fmt.Errorf("URL missing scheme: %s", redact(u))
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", redact(u))
	}
	return nil
}

// RejectPrivateURL checks whether the URL's host is a private or internal
// IP address (loopback, link-local, RFC-1918, or "localhost").
//
// It only inspects literal IP addresses and the "localhost" hostname.
// DNS-resolved addresses are not checked here.
func RejectPrivateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("URL host %q is a private/internal address", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("URL host %q is a private/internal address", host)
	}
	return nil
}

// SignedURL validates a time-limited object URL handed out by the registry.
// Private hosts are rejected unless allowPrivate is set.
func SignedURL(rawURL string, allowPrivate bool) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("signed URL is empty")
	}
	if err := HTTPURL(rawURL); err != nil {
		return err
	}
	if allowPrivate {
		return nil
	}
	return RejectPrivateURL(rawURL)
}

// redact strips the query string, which carries the signature of a signed URL.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}
