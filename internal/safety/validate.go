// File: internal/safety/validate.go
// Description: Input validation for everything that crosses a shell or network
// boundary on behalf of the agent. Package names, deep-link URIs and outbound
// URLs are rejected here before any command is assembled.

package safety

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// packageNamePattern matches well-formed, multi-segment Android application
// identifiers such as "com.example.app". Single-segment names are rejected.
// Implemented without regexp so the hot path stays allocation-free.
func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_' || (r >= '0' && r <= '9'):
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ValidatePackageName rejects any string that could smuggle shell
// metacharacters or path components into a package-targeted command.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name is empty")
	}
	segments := strings.Split(name, ".")
	if len(segments) < 2 {
		return fmt.Errorf("package name %q must contain at least two dot-separated segments", name)
	}
	for _, seg := range segments {
		if !validSegment(seg) {
			return fmt.Errorf("package name %q contains an invalid segment %q", name, seg)
		}
	}
	return nil
}

// ValidateDeepLink accepts only absolute URIs with a plain alphanumeric scheme
// and no embedded whitespace or shell metacharacters.
func ValidateDeepLink(uri string) error {
	if uri == "" {
		return fmt.Errorf("deep link is empty")
	}
	if strings.ContainsAny(uri, " \t\n\r;|&$`!\"'\\<>") {
		return fmt.Errorf("deep link %q contains forbidden characters", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("deep link %q is not a valid URI: %w", uri, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("deep link %q must be absolute", uri)
	}
	return nil
}

// ShellQuote wraps s in single quotes, escaping any embedded single quote.
// The result is safe to splice into a POSIX shell command line.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// isForbiddenIP reports whether an address may not be contacted by an
// agent-initiated HTTP request: loopback, RFC1918 private ranges, link-local
// and the unspecified address are all off limits.
func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ValidateURL parses and resolves target, enforcing the scheme allow-list
// {http, https} and rejecting hosts that resolve to loopback, private,
// link-local or unspecified addresses (CWE-918 mitigation). On success it
// returns the vetted resolved IP so the caller can connect to exactly that
// address instead of re-resolving (resolve-then-connect race prevention).
func ValidateURL(target string) (*url.URL, net.IP, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, fmt.Errorf("URL scheme %q is not allowed (only http/https)", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, nil, fmt.Errorf("URL %q has no host", target)
	}

	// Literal IPs skip DNS entirely.
	if ip := net.ParseIP(host); ip != nil {
		if isForbiddenIP(ip) {
			return nil, nil, fmt.Errorf("URL host %q resolves to a forbidden address", host)
		}
		return u, ip, nil
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot resolve URL host %q: %w", host, err)
	}
	for _, ip := range addrs {
		if isForbiddenIP(ip) {
			return nil, nil, fmt.Errorf("URL host %q resolves to a forbidden address %s", host, ip)
		}
	}
	if len(addrs) == 0 {
		return nil, nil, fmt.Errorf("URL host %q resolved to no addresses", host)
	}
	return u, addrs[0], nil
}
