// Package hostmatch matches image URIs against wildcard host patterns.
package hostmatch

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matches reports whether the host of uri matches any of the patterns.
// A "*" in a pattern matches any run of characters, dots included, so
// "host.*" matches "host.co.uk". "?" and "[...]" classes work as in fnmatch;
// braces are literal, not alternation. Matching is case-sensitive.
func Matches(uri string, patterns []string) bool {
	uri = strings.TrimSpace(uri)
	if uri == "" || len(patterns) == 0 {
		return false
	}

	host := Host(uri)
	if host == "" {
		return false
	}

	for _, pattern := range patterns {
		ok, err := doublestar.Match(braceEscaper.Replace(pattern), host)
		if err == nil && ok {
			return true
		}
	}

	return false
}

var braceEscaper = strings.NewReplacer("{", `\{`, "}", `\}`)

// Host returns the host part of uri without the port, or "" if it has none.
func Host(uri string) string {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
