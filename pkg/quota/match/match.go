// Package match implements endpoint pattern matching for quota rules.
//
// Patterns are either wildcard expressions, where '*' matches zero or more
// characters and '?' matches exactly one, or regular expressions that are
// anchored automatically. Both forms match case-insensitively.
package match

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

var regexCache sync.Map // anchored pattern -> *regexp.Regexp or error sentinel

type badPattern struct{}

// Match reports whether candidate matches pattern. An empty candidate or
// pattern never matches, except that the pattern "*" matches the empty
// candidate. Invalid regular expressions never match.
func Match(candidate, pattern string, useRegex bool) bool {
	if pattern == "" {
		return false
	}
	if useRegex {
		if candidate == "" {
			return false
		}
		return matchRegex(candidate, pattern)
	}
	return Wildcard(candidate, pattern)
}

// Wildcard matches candidate against a '*' and '?' pattern without regard
// to case. It runs in O(len(candidate)*len(pattern)) time: each
// (candidate position, pattern position) pair is explored at most once.
func Wildcard(candidate, pattern string) bool {
	if pattern == "" {
		return false
	}
	if candidate == "" {
		return strings.Trim(pattern, "*") == ""
	}

	in := []rune(strings.ToLower(candidate))
	pat := []rune(strings.ToLower(pattern))

	m := &matcher{
		in:       in,
		pat:      pat,
		tested:   make(map[[2]int]struct{}),
		starFrom: make(map[int]int),
	}
	return m.match(0, 0)
}

type matcher struct {
	in     []rune
	pat    []rune
	tested map[[2]int]struct{}

	// starFrom records, per '*' position, the lowest input position already
	// expanded. Expanding from a higher position would only revisit
	// failed branches.
	starFrom map[int]int
}

func (m *matcher) match(i, p int) bool {
	for {
		pos := [2]int{i, p}
		if _, seen := m.tested[pos]; seen {
			return false
		}
		m.tested[pos] = struct{}{}

		if p == len(m.pat) {
			return i == len(m.in)
		}

		switch m.pat[p] {
		case '*':
			// collapse runs of '*'
			for p+1 < len(m.pat) && m.pat[p+1] == '*' {
				p++
			}
			if p+1 == len(m.pat) {
				return true
			}
			if from, ok := m.starFrom[p]; ok && from <= i {
				return false
			}
			m.starFrom[p] = i
			for k := i; k <= len(m.in); k++ {
				if m.match(k, p+1) {
					return true
				}
			}
			return false
		case '?':
			if i == len(m.in) {
				return false
			}
		default:
			if i == len(m.in) || m.in[i] != m.pat[p] {
				return false
			}
		}
		i++
		p++
	}
}

func matchRegex(candidate, pattern string) bool {
	re := compile(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(candidate)
}

// compile anchors pattern and compiles it case-insensitively, caching the
// result. It returns nil for patterns that do not compile.
func compile(pattern string) *regexp.Regexp {
	anchored := anchor(pattern)
	if cached, ok := regexCache.Load(anchored); ok {
		if re, ok := cached.(*regexp.Regexp); ok {
			return re
		}
		return nil
	}

	re, err := regexp.Compile("(?i)" + anchored)
	if err != nil {
		regexCache.Store(anchored, badPattern{})
		return nil
	}
	regexCache.Store(anchored, re)
	return re
}

func anchor(pattern string) string {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") || strings.HasSuffix(pattern, `\$`) {
		pattern += "$"
	}
	return pattern
}

// IsValidRegex reports whether pattern compiles once anchored.
func IsValidRegex(pattern string) bool {
	return pattern != "" && utf8.ValidString(pattern) && compile(pattern) != nil
}
