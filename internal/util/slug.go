// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Slug converts a human-facing minion or project name into a form safe for
// directory names, git branch segments, and container names: lowercase
// alphanumerics with single hyphens.
func Slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unnamed"
	}

	var b strings.Builder
	lastHyphen := false
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "unnamed"
	}

	// Container and branch names get unwieldy past this point.
	if len(slug) > 40 {
		truncated := slug[:40]
		if i := strings.LastIndex(truncated, "-"); i > 20 {
			truncated = truncated[:i]
		}
		slug = truncated
	}

	return slug
}

// ShortHash returns a short stable hex digest of s. Used to disambiguate
// identities derived from paths that slug down to the same string.
func ShortHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}
