package release

import (
	"strings"
)

// Normalize strips a single leading "v" or "release-" prefix from a tag.
func Normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if rest, ok := strings.CutPrefix(tag, "release-"); ok {
		return rest
	}
	return strings.TrimPrefix(tag, "v")
}

// Compare orders two version strings component-wise: split on ".", parse
// each component numerically, treat missing trailing components as 0.
// Returns -1, 0, or 1. "1.0" < "1.0.1"; "1.0.0" == "1.0"; "v1.2.3" == "1.2.3".
func Compare(a, b string) int {
	as := strings.Split(Normalize(a), ".")
	bs := strings.Split(Normalize(b), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := component(as, i)
		bv := component(bs, i)
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// Newer reports whether candidate is strictly newer than current. An empty
// current always loses: a service with no known version takes any release.
func Newer(candidate, current string) bool {
	if strings.TrimSpace(current) == "" {
		return true
	}
	return Compare(candidate, current) > 0
}

// component parses the numeric prefix of parts[i]; absent or non-numeric
// components count as 0, so "1.0-beta" orders like "1.0".
func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	v := 0
	for _, r := range parts[i] {
		if r < '0' || r > '9' {
			break
		}
		v = v*10 + int(r-'0')
	}
	return v
}
