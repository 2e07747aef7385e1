package rest

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// mux matches request paths segment by segment. When several patterns match,
// the one with a literal segment at the first differing position wins, so
// `/invoice/aggregate/{fn}/{field}` beats `/invoice/{id}/item/{item_id}`.
// http.ServeMux rejects such pattern pairs as conflicting.
type mux struct {
	entries []muxEntry
}

type muxEntry struct {
	method  string
	segs    []string // "" marks a wildcard
	names   []string // wildcard names by position
	handler http.Handler
}

func (m *mux) handle(method, pattern string, h http.Handler) {
	parts := splitPath(pattern)
	e := muxEntry{method: method, segs: make([]string, len(parts)), names: make([]string, len(parts)), handler: h}
	for i, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			e.names[i] = p[1 : len(p)-1]
			continue
		}
		e.segs[i] = p
	}
	m.entries = append(m.entries, e)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// match reports whether the entry matches the unescaped path segments.
func (e *muxEntry) match(segs []string) bool {
	if len(segs) != len(e.segs) {
		return false
	}
	for i, s := range segs {
		if e.names[i] == "" && e.segs[i] != s {
			return false
		}
		if e.names[i] != "" && s == "" {
			return false
		}
	}
	return true
}

// moreSpecific reports whether e should win over other for the same path.
func (e *muxEntry) moreSpecific(other *muxEntry) bool {
	for i := range e.segs {
		lit, otherLit := e.names[i] == "", other.names[i] == ""
		if lit != otherLit {
			return lit
		}
	}
	return false
}

func (m *mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segs, err := pathSegments(r.URL)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid path")
		return
	}

	var (
		best    *muxEntry
		allowed []string
	)
	for i := range m.entries {
		e := &m.entries[i]
		if !e.match(segs) {
			continue
		}
		if e.method != r.Method {
			allowed = append(allowed, e.method)
			continue
		}
		if best == nil || e.moreSpecific(best) {
			best = e
		}
	}

	switch {
	case best != nil:
		for i, name := range best.names {
			if name != "" {
				r.SetPathValue(name, segs[i])
			}
		}
		best.handler.ServeHTTP(w, r)
	case len(allowed) > 0:
		slices.Sort(allowed)
		w.Header().Set("Allow", strings.Join(slices.Compact(allowed), ", "))
		httputil.Error(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	default:
		httputil.Error(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	}
}

func pathSegments(u *url.URL) ([]string, error) {
	raw := splitPath(u.EscapedPath())
	out := make([]string, len(raw))
	for i, s := range raw {
		v, err := url.PathUnescape(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
