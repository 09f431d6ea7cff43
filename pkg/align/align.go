// Package align truncates an agent utterance to what was actually played
// before the user barged in.
package align

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/pattern"
)

// Marker is the last playback position confirmed as heard by the user.
// CharID is inclusive and counted in characters within the clause.
type Marker struct {
	TurnID   int  `json:"turn_id"`
	ClauseID int  `json:"clause_id"`
	CharID   int  `json:"char_id"`
	Final    bool `json:"final"`
}

func (m Marker) String() string {
	return fmt.Sprintf("turn=%d clause=%d char=%d final=%t", m.TurnID, m.ClauseID, m.CharID, m.Final)
}

// SplitClauses cuts text after every punctuation character and at the final
// character. Concatenating the result yields text again.
func SplitClauses(text string, isPunct func(rune) bool) []string {
	var ends []int
	for i, r := range text {
		if isPunct(r) {
			ends = append(ends, i+utf8.RuneLen(r))
		}
	}
	return SplitAt(text, ends)
}

// SplitAt cuts text at the given byte offsets and at the end. Offsets that
// are not ascending, fall outside text or split a character are skipped.
func SplitAt(text string, ends []int) []string {
	var clauses []string
	start := 0
	for _, end := range ends {
		if end <= start || end > len(text) {
			continue
		}
		if end < len(text) && !utf8.RuneStart(text[end]) {
			continue
		}
		clauses = append(clauses, text[start:end])
		start = end
	}
	if start < len(text) {
		clauses = append(clauses, text[start:])
	}
	return clauses
}

// Layout locates the clauses of a generated body as they were streamed.
type Layout struct {
	// Start is the byte offset where clause text begins, past any role
	// prefix.
	Start int
	// Ends are the byte offsets in the body where committed clauses end.
	Ends []int
}

// Clip drops the clause ends that lie past n bytes.
func (l Layout) Clip(n int) Layout {
	out := Layout{Start: l.Start}
	if out.Start > n {
		out.Start = n
	}
	for _, end := range l.Ends {
		if end <= n {
			out.Ends = append(out.Ends, end)
		}
	}
	return out
}

// Truncate keeps clauses[0..clauseID] and cuts the last kept clause after
// character charID. clauseID is clamped to the last clause; a negative
// charID empties the last kept clause.
func Truncate(clauses []string, clauseID, charID int) []string {
	if len(clauses) == 0 || clauseID < 0 {
		return nil
	}
	if clauseID >= len(clauses) {
		clauseID = len(clauses) - 1
	}

	out := append([]string(nil), clauses[:clauseID+1]...)
	last := []rune(out[clauseID])
	switch {
	case charID < 0:
		out[clauseID] = ""
	case charID+1 < len(last):
		out[clauseID] = string(last[:charID+1])
	}
	return out
}

// Result is an aligned agent utterance.
type Result struct {
	// Body is the truncated text with the agent role re-attached.
	Body string
	// Tokens is the token count of Body under the active tokenizer.
	Tokens int
	// Layout locates the clauses that survived in Body.
	Layout Layout
	// Changed is false when the marker covered the whole utterance.
	Changed bool
}

// Aligner re-derives agent utterances after a barge-in.
type Aligner struct {
	tk        llm.Tokenizer
	matcher   *pattern.Matcher
	agentRole string
	logger    *slog.Logger
}

// Config configures an Aligner.
type Config struct {
	// AgentRole is re-attached in front of aligned bodies that carried a
	// role prefix.
	AgentRole string
	Logger    *slog.Logger
}

// New creates an Aligner.
func New(tk llm.Tokenizer, matcher *pattern.Matcher, cfg Config) (*Aligner, error) {
	if tk == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if matcher == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aligner{tk: tk, matcher: matcher, agentRole: cfg.AgentRole, logger: logger}, nil
}

// Clauses strips the role prefix from body and splits the rest into clauses.
func (a *Aligner) Clauses(body string) []string {
	stripped, _ := a.matcher.StripRolePrefix(body)
	return SplitClauses(stripped, a.matcher.IsPunctuationRune)
}

// Layout derives the clause layout of body from its punctuation, for bodies
// whose streamed layout is not known.
func (a *Aligner) Layout(body string) Layout {
	stripped, _ := a.matcher.StripRolePrefix(body)
	l := Layout{Start: len(body) - len(stripped)}
	for i, r := range stripped {
		if a.matcher.IsPunctuationRune(r) {
			l.Ends = append(l.Ends, l.Start+i+utf8.RuneLen(r))
		}
	}
	return l
}

// Align truncates body to the marker position and re-tokenizes the result.
// Clauses are derived from punctuation.
func (a *Aligner) Align(body string, m Marker) (Result, error) {
	return a.AlignLayout(body, a.Layout(body), m)
}

// AlignLayout truncates body to the marker position using the clause
// boundaries in l, which must be the ones the marker's clause ids were
// assigned against.
func (a *Aligner) AlignLayout(body string, l Layout, m Marker) (Result, error) {
	l = l.Clip(len(body))
	text := body[l.Start:]

	cuts := make(map[int]bool, len(l.Ends))
	ends := make([]int, 0, len(l.Ends))
	for _, end := range l.Ends {
		ends = append(ends, end-l.Start)
		cuts[end-l.Start] = true
	}
	clauses := SplitAt(text, ends)
	truncated := Truncate(clauses, m.ClauseID, m.CharID)
	kept := strings.Join(truncated, "")

	prefix := ""
	if l.Start > 0 {
		prefix = a.agentRole
	}
	aligned := prefix + kept

	ids, err := a.tk.Tokenize(aligned)
	if err != nil {
		return Result{}, fmt.Errorf("tokenize aligned turn: %w", err)
	}

	res := Result{
		Body:    aligned,
		Tokens:  len(ids),
		Layout:  Layout{Start: len(prefix)},
		Changed: kept != text,
	}
	off := 0
	for i, c := range truncated {
		off += len(c)
		if c == clauses[i] && cuts[off] {
			res.Layout.Ends = append(res.Layout.Ends, len(prefix)+off)
		}
	}

	a.logger.Debug("Aligned turn",
		slog.Int("turn_id", m.TurnID),
		slog.Int("clauses", len(clauses)),
		slog.Int("kept_runes", utf8.RuneCountInString(kept)),
		slog.Int("tokens", res.Tokens))
	return res, nil
}
