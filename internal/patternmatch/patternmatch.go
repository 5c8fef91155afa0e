// Package patternmatch compiles a process's regex pattern set once and
// tests inbound stdout/stderr lines against it, yielding named capture
// groups. Patterns are anchored to a single line; multi-line matching is
// not supported.
package patternmatch

import (
	"fmt"
	"regexp"
)

// PatternSpec is one uncompiled pattern, carrying an identifier used to
// report which pattern matched.
type PatternSpec struct {
	ID    string
	Regex string
}

// Match is a single matched pattern against a line, with its named capture
// groups.
type Match struct {
	PatternID string
	Captures  map[string]string
}

// Matcher holds the compiled pattern set for one process.
type Matcher struct {
	compiled []compiledPattern
}

type compiledPattern struct {
	id string
	re *regexp.Regexp
}

// Compile builds a Matcher from the given pattern specs, in declaration
// order. An error identifies the first pattern that failed to compile.
func Compile(specs []PatternSpec) (*Matcher, error) {
	m := &Matcher{compiled: make([]compiledPattern, 0, len(specs))}
	for _, s := range specs {
		re, err := regexp.Compile(s.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s.ID, err)
		}
		m.compiled = append(m.compiled, compiledPattern{id: s.ID, re: re})
	}
	return m, nil
}

// Match tests line against every compiled pattern and returns all matches
// in declaration order.
func (m *Matcher) Match(line string) []Match {
	if m == nil {
		return nil
	}
	var out []Match
	for _, cp := range m.compiled {
		idx := cp.re.FindStringSubmatchIndex(line)
		if idx == nil {
			continue
		}
		names := cp.re.SubexpNames()
		captures := make(map[string]string)
		for i := 1; i < len(names); i++ {
			if names[i] == "" || idx[2*i] < 0 {
				continue
			}
			captures[names[i]] = line[idx[2*i]:idx[2*i+1]]
		}
		out = append(out, Match{PatternID: cp.id, Captures: captures})
	}
	return out
}

// Any reports whether any compiled pattern matches line; used for ready
// pattern checks where captures are not needed.
func (m *Matcher) Any(line string) bool {
	if m == nil {
		return false
	}
	for _, cp := range m.compiled {
		if cp.re.MatchString(line) {
			return true
		}
	}
	return false
}
