package research

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// MergeCitations combines two citation lists, dropping duplicates.
// A candidate is a duplicate when its ID or URL matches one already kept.
// First-seen order is preserved, so merging is idempotent.
func MergeCitations(a, b []Citation) []Citation {
	seenID := make(map[string]bool, len(a)+len(b))
	seenURL := make(map[string]bool, len(a)+len(b))
	out := make([]Citation, 0, len(a)+len(b))

	for _, c := range append(append([]Citation{}, a...), b...) {
		if c.ID != "" && seenID[c.ID] {
			continue
		}
		if c.URL != "" && seenURL[c.URL] {
			continue
		}
		if c.ID != "" {
			seenID[c.ID] = true
		}
		if c.URL != "" {
			seenURL[c.URL] = true
		}
		out = append(out, c)
	}
	return out
}

// RenumberCitations rewrites inline [n] markers so the surviving numbers
// are contiguous from 1 in order of first appearance, and returns the
// citation list reordered to match. Citations never referenced in the
// answer are dropped. Markers pointing outside the citation list are
// left untouched.
func RenumberCitations(answer string, citations []Citation) (string, []Citation) {
	mapping := make(map[int]int) // old marker -> new marker
	order := make([]int, 0, len(citations))

	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(citations) {
			continue
		}
		if _, ok := mapping[n]; !ok {
			mapping[n] = len(order) + 1
			order = append(order, n)
		}
	}

	rewritten := citationMarker.ReplaceAllStringFunc(answer, func(marker string) string {
		n, err := strconv.Atoi(strings.Trim(marker, "[]"))
		if err != nil {
			return marker
		}
		if newN, ok := mapping[n]; ok {
			return "[" + strconv.Itoa(newN) + "]"
		}
		return marker
	})

	renumbered := make([]Citation, 0, len(order))
	for i, old := range order {
		c := citations[old-1]
		c.ID = strconv.Itoa(i + 1)
		renumbered = append(renumbered, c)
	}
	return rewritten, renumbered
}

// Domain extracts the host from a source URL for display.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return host
}
