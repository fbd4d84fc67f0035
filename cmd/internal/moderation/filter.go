package moderation

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultFilterReason is reported when a pattern matches and no custom reason is configured.
const DefaultFilterReason = "Content filtered by automated moderation"

// Verdict is the outcome of classifying one text.
type Verdict struct {
	Passed bool
	Reason string
}

// ContentFilter decides whether text may be stored and delivered.
type ContentFilter interface {
	Classify(text string) Verdict
}

// PatternFilter rejects text matching any configured regular expression.
type PatternFilter struct {
	patterns []*regexp.Regexp
	reason   string
}

// NewPatternFilter compiles patterns. Blank entries are ignored; an empty reason uses the default.
func NewPatternFilter(patterns []string, reason string) (*PatternFilter, error) {
	f := &PatternFilter{reason: strings.TrimSpace(reason)}
	if f.reason == "" {
		f.reason = DefaultFilterReason
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("moderation: compile pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f *PatternFilter) Classify(text string) Verdict {
	if f == nil {
		return Verdict{Passed: true}
	}
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return Verdict{Passed: false, Reason: f.reason}
		}
	}
	return Verdict{Passed: true}
}

// FilterFunc adapts a function to ContentFilter.
type FilterFunc func(text string) Verdict

func (fn FilterFunc) Classify(text string) Verdict { return fn(text) }
