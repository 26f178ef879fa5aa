package audit

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so cache lookups and deduplication
// compare like with like. It lowercases the scheme and host, removes
// default ports, strips the trailing slash from the path, drops the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ValidateTarget rejects URLs the pipeline must never fetch: anything
// not absolute http(s), and hosts that resolve to loopback, private, or
// link-local addresses. Rejection happens at submission time; such
// requests are never enqueued.
func ValidateTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if isBlockedHost(host) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

func isBlockedHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
