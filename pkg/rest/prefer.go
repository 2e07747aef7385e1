package rest

import (
	"net/http"
	"strconv"
	"strings"
)

// Prefer holds the recognized preferences of the Prefer header (RFC 7240).
type Prefer struct {
	Return string // "minimal" or "representation"
	Count  string // "exact"
}

// parsePrefer reads every Prefer header of r. Unknown preferences, values
// and parameters are ignored, and the first instance of a repeated preference
// wins. It returns nil when r has no Prefer header.
func parsePrefer(r *http.Request) *Prefer {
	values := r.Header.Values("Prefer")
	if len(values) == 0 {
		return nil
	}

	p := &Prefer{}
	seen := make(map[string]bool)
	for _, v := range values {
		for pref := range strings.SplitSeq(v, ",") {
			pref, _, _ = strings.Cut(pref, ";")
			key, val, ok := strings.Cut(pref, "=")
			key = strings.ToLower(strings.TrimSpace(key))
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			val = strings.ToLower(strings.Trim(strings.TrimSpace(val), `"`))

			switch {
			case key == "return" && (val == "minimal" || val == "representation"):
				p.Return = val
			case key == "count" && val == "exact":
				p.Count = val
			}
		}
	}
	return p
}

// WantsMinimal reports whether the client asked for writes to return no body.
func (p *Prefer) WantsMinimal() bool {
	return p != nil && p.Return == "minimal"
}

// WantsCountExact reports whether the client wants an exact count in the response.
func (p *Prefer) WantsCountExact() bool {
	return p != nil && p.Count == "exact"
}

// applied adds pref to the Preference-Applied response header.
func applied(w http.ResponseWriter, pref string) {
	w.Header().Add("Preference-Applied", pref)
}

// contentRange formats a Content-Range value for n items starting at offset
// out of total, e.g. `0-24/3573`, or `*/0` for an empty page.
func contentRange(offset, n int, total int64) string {
	t := strconv.FormatInt(total, 10)
	if n == 0 {
		return "*/" + t
	}
	return strconv.Itoa(offset) + "-" + strconv.Itoa(offset+n-1) + "/" + t
}
