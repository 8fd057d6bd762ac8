// Package dedup provides content-addressed deduplication for crawled articles.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL for fingerprinting: trimmed, lowercased
// scheme and host, fragment removed, trailing slash dropped from the path.
// Unparseable input falls back to a trimmed, lowercased string so the
// fingerprint stays deterministic either way.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.ToLower(trimmed)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}

// URLHash returns the hex-encoded SHA-256 of the normalized URL.
// It is a pure function of its input: identical URLs always produce
// identical fingerprints, which makes re-runs idempotent.
func URLHash(rawURL string) string {
	h := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return hex.EncodeToString(h[:])
}

// ContentHash returns the hex-encoded SHA-256 of content, or the empty
// string for empty content. An article with no content carries no
// content hash.
func ContentHash(content string) string {
	if content == "" {
		return ""
	}
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
