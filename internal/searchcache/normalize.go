// Package searchcache provides a content-addressed cache for expensive
// external search calls. Entries are keyed by a hash of the normalized
// query so semantically equal queries share one entry.
package searchcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize canonicalizes a query string so that queries differing only in
// casing, whitespace, or surrounding punctuation map to the same cache key.
// The function is deterministic and idempotent: Normalize(Normalize(q)) ==
// Normalize(q) for every q. No stemming or stopword removal is applied;
// the rules are intentionally mechanical so the mapping stays referentially
// transparent.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	lastSpace := true
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case isStrippedPunct(r):
			// Dropped entirely; "weather, in Lisbon!" == "weather in lisbon".
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// isStrippedPunct reports whether a rune is punctuation that carries no
// query meaning. Hyphens and apostrophes are kept because they are part
// of words ("state-of-the-art", "don't").
func isStrippedPunct(r rune) bool {
	switch r {
	case '!', '?', '.', ',', ';', ':', '"', '(', ')', '[', ']', '{', '}':
		return true
	}
	return false
}

// Key returns the cache key for a query: the hex-encoded SHA-256 digest of
// the normalized query. Collision resistance here is a correctness concern
// (two distinct queries must not share an entry), not a security one.
func Key(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])
}
