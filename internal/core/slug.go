package core

import "strings"

// NormalizeSlug derives an entry id from a slug: lower-cased, with every
// character outside [a-z0-9] replaced by '-'. Runs of separators are kept
// so that distinct slugs map to distinct ids wherever possible.
func NormalizeSlug(slug string) string {
	lower := strings.ToLower(slug)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
