package weburl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// PageIDPrefix starts every page id derived from a URL.
const PageIDPrefix = "page.web."

// maxSlug bounds the URL-derived part of a page id.
const maxSlug = 80

// Reserved ranges not covered by the net.IP helpers.
var (
	cgnat    = mustCIDR("100.64.0.0/10")
	v6unique = mustCIDR("fc00::/7")
	v6link   = mustCIDR("fe80::/10")
)

var pageIDPattern = regexp.MustCompile(`^page\.web\.[a-z0-9-]+$`)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic("invalid CIDR " + s + ": " + err.Error())
	}
	return n
}

// ValidateURL checks that rawURL may be fetched. It requires HTTPS and
// blocks localhost, private IPs, and local domains.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case host == "":
		return fmt.Errorf("URL has no host")
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return fmt.Errorf("localhost URLs are not allowed")
	case strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal"):
		return fmt.Errorf("local domain URLs are not allowed")
	}

	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return fmt.Errorf("private IP addresses are not allowed")
	}
	return nil
}

// IsPrivateIP reports whether ip is loopback, private, link-local or in a
// reserved range. IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	return cgnat.Contains(ip) || v6unique.Contains(ip) || v6link.Contains(ip)
}

// PageID derives a page id from the URL's host and path. Unparseable URLs
// get a hash-based id.
func PageID(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		hash := sha256.Sum256([]byte(rawURL))
		return PageIDPrefix + hex.EncodeToString(hash[:8])
	}

	slug := strings.ReplaceAll(parsed.Hostname(), ".", "-")
	if path := strings.Trim(parsed.Path, "/"); path != "" {
		slug += "-" + strings.ReplaceAll(path, "/", "-")
	}

	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, strings.ToLower(slug))
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlug {
		slug = strings.TrimRight(slug[:maxSlug], "-")
	}
	return PageIDPrefix + slug
}

// ValidatePageID reports whether id has the form PageID produces. Such ids
// are safe to embed in NATS subjects.
func ValidatePageID(id string) bool {
	return pageIDPattern.MatchString(id)
}
