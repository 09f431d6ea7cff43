// Package pattern detects punctuation, stop and role boundaries in a growing
// generation buffer.
//
// Matching is done on raw text rather than token ids: a tokenizer may split
// the same literal differently depending on what precedes it, so only byte
// comparison against the literal tables is reliable.
package pattern

import (
	"fmt"
	"strings"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

// Pattern is a literal plus its token length under the active tokenizer.
type Pattern struct {
	Text   string
	Tokens int
}

func (p Pattern) String() string {
	return fmt.Sprintf("%q(%d tokens)", p.Text, p.Tokens)
}

// Config lists the literal tables, in priority order.
type Config struct {
	StopPatterns []string `yaml:"stop_patterns"`
	RolePatterns []string `yaml:"role_patterns"`
	Punctuation  []string `yaml:"punctuation"`
}

// DefaultConfig returns the tables for a child/teacher dialogue.
func DefaultConfig() Config {
	return Config{
		StopPatterns: []string{"Child:", "Child :"},
		RolePatterns: []string{"Teacher:", "Teacher :", " Teacher:", " Teacher :"},
		Punctuation:  []string{".", ",", ";", ":", "!", "?", "..."},
	}
}

// Matcher holds the compiled literal tables. It is immutable and safe for
// concurrent use.
type Matcher struct {
	stops       []Pattern
	roles       []Pattern
	punctuation map[string]struct{}
	punctRunes  map[rune]struct{}
	maxRoleLen  int
}

// NewMatcher precomputes the token length of every stop and role pattern.
func NewMatcher(cfg Config, tk llm.Tokenizer) (*Matcher, error) {
	stops, err := compile(cfg.StopPatterns, tk)
	if err != nil {
		return nil, fmt.Errorf("stop patterns: %w", err)
	}
	roles, err := compile(cfg.RolePatterns, tk)
	if err != nil {
		return nil, fmt.Errorf("role patterns: %w", err)
	}
	return NewMatcherWithPatterns(stops, roles, cfg.Punctuation), nil
}

func compile(literals []string, tk llm.Tokenizer) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(literals))
	for _, lit := range literals {
		if lit == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		ids, err := tk.Tokenize(lit)
		if err != nil {
			return nil, fmt.Errorf("tokenize %q: %w", lit, err)
		}
		patterns = append(patterns, Pattern{Text: lit, Tokens: len(ids)})
	}
	return patterns, nil
}

// NewMatcherWithPatterns builds a matcher from already compiled patterns.
func NewMatcherWithPatterns(stops, roles []Pattern, punctuation []string) *Matcher {
	m := &Matcher{
		stops:       append([]Pattern(nil), stops...),
		roles:       append([]Pattern(nil), roles...),
		punctuation: make(map[string]struct{}, len(punctuation)),
		punctRunes:  make(map[rune]struct{}, len(punctuation)),
	}
	for _, p := range punctuation {
		m.punctuation[p] = struct{}{}
		for _, r := range p {
			// clause splitting only needs the leading rune of each literal
			m.punctRunes[r] = struct{}{}
			break
		}
	}
	for _, r := range m.roles {
		if len(r.Text) > m.maxRoleLen {
			m.maxRoleLen = len(r.Text)
		}
	}
	return m
}

// IsPunctuation reports whether a token's text equals a punctuation literal.
func (m *Matcher) IsPunctuation(tokenText string) bool {
	_, ok := m.punctuation[tokenText]
	return ok
}

// IsPunctuationRune reports whether r starts a punctuation literal.
func (m *Matcher) IsPunctuationRune(r rune) bool {
	_, ok := m.punctRunes[r]
	return ok
}

// MatchStopSuffix returns the first stop pattern, in configured order, that
// equals the trailing bytes of buf.
func (m *Matcher) MatchStopSuffix(buf string) (Pattern, bool) {
	for _, p := range m.stops {
		if strings.HasSuffix(buf, p.Text) {
			return p, true
		}
	}
	return Pattern{}, false
}

// MatchRolePrefix returns the first role pattern equal to the leading bytes
// of buf. Role patterns only matter at the very start of a turn, so buffers
// longer than the longest role pattern never match.
func (m *Matcher) MatchRolePrefix(buf string) (Pattern, bool) {
	if len(buf) > m.maxRoleLen {
		return Pattern{}, false
	}
	for _, p := range m.roles {
		if strings.HasPrefix(buf, p.Text) {
			return p, true
		}
	}
	return Pattern{}, false
}

// StripSuffix removes p from the end of buf and returns the token count that
// was removed. buf is returned unchanged with 0 if it does not end with p.
func (m *Matcher) StripSuffix(buf string, p Pattern) (string, int) {
	if !strings.HasSuffix(buf, p.Text) {
		return buf, 0
	}
	return buf[:len(buf)-len(p.Text)], p.Tokens
}

// StripRolePrefix removes the first matching role pattern from the start of
// buf, ignoring the length limit of MatchRolePrefix.
func (m *Matcher) StripRolePrefix(buf string) (string, int) {
	for _, p := range m.roles {
		if strings.HasPrefix(buf, p.Text) {
			return buf[len(p.Text):], p.Tokens
		}
	}
	return buf, 0
}

// TrimTrailingNewlines removes trailing newlines, counting one token each.
func (m *Matcher) TrimTrailingNewlines(buf string) (string, int) {
	n := 0
	for strings.HasSuffix(buf, "\n") {
		buf = buf[:len(buf)-1]
		n++
	}
	return buf, n
}

// MaxRoleLength is the byte length of the longest role pattern.
func (m *Matcher) MaxRoleLength() int {
	return m.maxRoleLen
}

// StopPatterns returns the compiled stop patterns in priority order.
func (m *Matcher) StopPatterns() []Pattern {
	return append([]Pattern(nil), m.stops...)
}

// RolePatterns returns the compiled role patterns in priority order.
func (m *Matcher) RolePatterns() []Pattern {
	return append([]Pattern(nil), m.roles...)
}
