package middleware

import (
	"path"
	"strings"
)

// PublicRoutes is the allow-list of tenant-agnostic paths. Requests to
// them skip the isolation guard and the subscription gate.
//
// An entry matches its exact path, ignoring a trailing slash. An entry
// ending in "/*" also matches every path below it.
type PublicRoutes struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewPublicRoutes compiles the allow-list
func NewPublicRoutes(entries []string) *PublicRoutes {
	p := &PublicRoutes{exact: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if base, ok := strings.CutSuffix(entry, "/*"); ok {
			base = cleanPath(base)
			p.exact[base] = struct{}{}
			p.prefixes = append(p.prefixes, base+"/")
			continue
		}
		p.exact[cleanPath(entry)] = struct{}{}
	}
	return p
}

// Match reports whether path is public
func (p *PublicRoutes) Match(urlPath string) bool {
	if p == nil {
		return false
	}
	urlPath = cleanPath(urlPath)
	if _, ok := p.exact[urlPath]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(urlPath, prefix) {
			return true
		}
	}
	return false
}

// cleanPath resolves dot segments so "/api/docs/../v1/x" cannot pass as
// a docs path
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
