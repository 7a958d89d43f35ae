package antiphishing

import (
	"sort"
	"strings"

	"github.com/coregx/ahocorasick"
)

// Matcher finds blocklisted domains anywhere in a message.
type Matcher struct {
	automaton *ahocorasick.Automaton
	patterns  []string
}

// NewMatcher compiles domains. An empty set yields a matcher that never
// matches.
func NewMatcher(domains map[string]struct{}) (*Matcher, error) {
	patterns := make([]string, 0, len(domains))
	for domain := range domains {
		patterns = append(patterns, domain)
	}
	sort.Strings(patterns)
	if len(patterns) == 0 {
		return &Matcher{}, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	return &Matcher{automaton: automaton, patterns: patterns}, nil
}

// Find returns the first blocklisted domain in content. A hit must sit on
// host boundaries so "notbad.example" does not match "bad.example".
func (m *Matcher) Find(content string) (string, bool) {
	if m == nil || m.automaton == nil {
		return "", false
	}
	haystack := []byte(strings.ToLower(content))
	for _, match := range m.automaton.FindAllOverlapping(haystack) {
		if match.Start > 0 && hostByte(haystack[match.Start-1]) {
			continue
		}
		if match.End < len(haystack) && hostByte(haystack[match.End]) {
			continue
		}
		return m.patterns[match.PatternID], true
	}
	return "", false
}

func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

func hostByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '-'
}
