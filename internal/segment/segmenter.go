package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinConditionLength is the largest fragment length (in characters) treated as a
// segmentation artifact and dropped.
const MinConditionLength = 10

// Each separator captures the position where the next fragment starts. RE2 has
// no look-ahead, so "followed by a capital" is expressed by capturing the capital
// and cutting right before it.
var defaultSeparators = []*regexp.Regexp{
	regexp.MustCompile(`,\s*([A-Z])`),
	regexp.MustCompile(`;\s*()`),
	regexp.MustCompile(`\.\s*([A-Z])`),
	regexp.MustCompile(`\s*-\s*([A-Z])`),
}

// Segmenter splits a symptom description into independent clinical conditions.
type Segmenter struct {
	separators []*regexp.Regexp
	minLength  int
}

// New returns a Segmenter using the default separator chain.
func New() *Segmenter {
	return &Segmenter{separators: defaultSeparators, minLength: MinConditionLength}
}

// Segment applies each separator in order to every current fragment and drops
// short artifacts. It always returns at least one condition.
func (s *Segmenter) Segment(text string) []string {
	whole := strings.TrimSpace(text)
	fragments := []string{whole}
	for _, sep := range s.separators {
		next := make([]string, 0, len(fragments))
		for _, f := range fragments {
			for _, part := range split(sep, f) {
				if p := strings.TrimSpace(part); p != "" {
					next = append(next, p)
				}
			}
		}
		fragments = next
	}
	out := fragments[:0]
	for _, f := range fragments {
		if utf8.RuneCountInString(f) > s.minLength {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return []string{whole}
	}
	return out
}

// Segment splits text with the default Segmenter.
func Segment(text string) []string {
	return New().Segment(text)
}

// split cuts s at every match of sep. The separator text up to the first
// capture group is discarded; the captured text starts the following fragment.
func split(sep *regexp.Regexp, s string) []string {
	matches := sep.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return []string{s}
	}
	parts := make([]string, 0, len(matches)+1)
	start := 0
	for _, m := range matches {
		parts = append(parts, s[start:m[0]])
		start = m[2]
	}
	return append(parts, s[start:])
}
