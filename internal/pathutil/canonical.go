package pathutil

import "strings"

// Canonical returns p with every trailing '/' removed and every run of
// consecutive '/' collapsed into one. If nothing is left, the result is "/".
//
// When p is already canonical Canonical returns p itself without allocating,
// so callers can compare the result against the input to detect a no-op.
func Canonical(p string) string {
	end := len(p)
	for end > 0 && p[end-1] == '/' {
		end--
	}
	if end == 0 {
		return "/"
	}

	// fast path: no repeated slash left once the tail is trimmed
	first := strings.Index(p[:end], "//")
	if first < 0 {
		return p[:end]
	}

	var b strings.Builder
	b.Grow(end - 1)
	b.WriteString(p[:first+1])
	prevSlash := true
	for i := first + 1; i < end; i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// IsCanonical reports whether p is a fixed point of Canonical.
func IsCanonical(p string) bool {
	return p != "" && Canonical(p) == p
}
