// Package memory keeps the token-budgeted dialogue history that prompts are
// built from.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

var (
	// ErrBudgetExceeded means the system prompt alone does not fit the
	// budget. It is a configuration error.
	ErrBudgetExceeded = errors.New("system prompt exceeds token budget")
	// ErrTurnTooLarge means the newest turn does not fit next to the system
	// prompt. Only that turn is affected.
	ErrTurnTooLarge = errors.New("turn exceeds token budget")
	// ErrUnknownTurn is returned for IDs that are not (or no longer) held.
	ErrUnknownTurn = errors.New("unknown turn")
	// ErrSystemTurn is returned when trying to replace or remove the system
	// prompt.
	ErrSystemTurn = errors.New("system prompt cannot be modified")
)

// Role is the speaker of an utterance.
type Role int

const (
	RoleSystem Role = iota
	RoleUser
	RoleAgent
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAgent:
		return "agent"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Utterance is one finalized block of history.
type Utterance struct {
	// ID is stable for the lifetime of the memory; the system prompt is 0.
	ID   int
	Role Role
	// Body is the text without template affixes.
	Body string
	// Text is Body fused with the template affixes, as it appears in the
	// prompt.
	Text   string
	Tokens int
}

// Config sizes the memory.
type Config struct {
	// Budget is the context size in tokens.
	Budget int
	// ReservedSuffixTokens are always kept free for the generation suffix.
	// Zero means the token length of the template end.
	ReservedSuffixTokens int
	SystemPrompt         string
	Logger               *slog.Logger
}

// Memory is an ordered history whose first entry is the system prompt.
// It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	tk       llm.Tokenizer
	tpl      Template
	budget   int
	reserved int
	logger   *slog.Logger

	agentAffixTokens int

	turns  []Utterance
	total  int
	nextID int
}

// New builds a memory holding only the system prompt.
func New(tk llm.Tokenizer, tpl Template, cfg Config) (*Memory, error) {
	if tk == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("budget must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Memory{
		tk:     tk,
		tpl:    tpl,
		budget: cfg.Budget,
		logger: logger,
		nextID: 1,
	}

	m.reserved = cfg.ReservedSuffixTokens
	if m.reserved == 0 && tpl.End != "" {
		n, err := m.count(tpl.End)
		if err != nil {
			return nil, fmt.Errorf("template end: %w", err)
		}
		m.reserved = n
	}

	affix, err := m.count(tpl.AgentPrefix)
	if err != nil {
		return nil, fmt.Errorf("agent prefix: %w", err)
	}
	suffix, err := m.count(tpl.AgentSuffix)
	if err != nil {
		return nil, fmt.Errorf("agent suffix: %w", err)
	}
	m.agentAffixTokens = affix + suffix

	text := tpl.System(cfg.SystemPrompt)
	n, err := m.count(text)
	if err != nil {
		return nil, fmt.Errorf("system prompt: %w", err)
	}
	m.turns = []Utterance{{ID: 0, Role: RoleSystem, Body: cfg.SystemPrompt, Text: text, Tokens: n}}
	m.total = n

	return m, nil
}

func (m *Memory) count(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	ids, err := m.tk.Tokenize(s)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// AppendUserTurn wraps text with the user affixes and role, tokenizes it and
// appends it.
func (m *Memory) AppendUserTurn(text string) (Utterance, error) {
	full := m.tpl.User(text)
	n, err := m.count(full)
	if err != nil {
		return Utterance{}, fmt.Errorf("tokenize user turn: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(RoleUser, text, full, n), nil
}

// AppendAgentTurn appends a generated body whose token count is already
// known. The agent affix tokens are added to tokenCount.
func (m *Memory) AppendAgentTurn(body string, tokenCount int) Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(RoleAgent, body, m.tpl.Agent(body), tokenCount+m.agentAffixTokens)
}

func (m *Memory) appendLocked(role Role, body, text string, tokens int) Utterance {
	u := Utterance{ID: m.nextID, Role: role, Body: body, Text: text, Tokens: tokens}
	m.nextID++
	m.turns = append(m.turns, u)
	m.total += tokens
	return u
}

// EnforceBudget evicts the oldest non-system turns until the history plus
// the reserved suffix fits strictly inside the budget. The newest turn is
// never evicted. The evicted turns are returned in eviction order.
func (m *Memory) EnforceBudget() ([]Utterance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.turns[0].Tokens+m.reserved >= m.budget {
		return nil, fmt.Errorf("%d system tokens + %d reserved >= %d: %w",
			m.turns[0].Tokens, m.reserved, m.budget, ErrBudgetExceeded)
	}

	var evicted []Utterance
	for m.total+m.reserved >= m.budget {
		if len(m.turns) <= 2 {
			newest := m.turns[len(m.turns)-1]
			return evicted, fmt.Errorf("turn %d has %d tokens: %w", newest.ID, newest.Tokens, ErrTurnTooLarge)
		}
		u := m.turns[1]
		m.turns = append(m.turns[:1], m.turns[2:]...)
		m.total -= u.Tokens
		evicted = append(evicted, u)
		m.logger.Debug("Evicted turn",
			slog.Int("turn_id", u.ID),
			slog.String("role", u.Role.String()),
			slog.Int("tokens", u.Tokens))
	}
	return evicted, nil
}

// Prompt concatenates every utterance text in order.
func (m *Memory) Prompt() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	for _, u := range m.turns {
		b.WriteString(u.Text)
	}
	return b.String()
}

// GenerationPrompt is Prompt followed by the template end.
func (m *Memory) GenerationPrompt() string {
	return m.Prompt() + m.tpl.End
}

// ReplaceTurn substitutes the turn with the given ID, keeping its ID and
// position. u.Text is derived from u.Body when empty.
func (m *Memory) ReplaceTurn(id int, u Utterance) (Utterance, error) {
	if id == 0 {
		return Utterance{}, ErrSystemTurn
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return Utterance{}, fmt.Errorf("turn %d: %w", id, ErrUnknownTurn)
	}
	old := m.turns[i]
	u.ID = id
	if u.Role == RoleSystem {
		u.Role = old.Role
	}
	if u.Text == "" {
		if u.Role == RoleAgent {
			u.Text = m.tpl.Agent(u.Body)
		} else {
			u.Text = m.tpl.User(u.Body)
		}
	}
	m.turns[i] = u
	m.total += u.Tokens - old.Tokens
	return u, nil
}

// ReplaceAgentTurn substitutes an agent turn with a new body whose token
// count is known, adding the agent affix tokens like AppendAgentTurn.
func (m *Memory) ReplaceAgentTurn(id int, body string, tokenCount int) (Utterance, error) {
	return m.ReplaceTurn(id, Utterance{
		Role:   RoleAgent,
		Body:   body,
		Text:   m.tpl.Agent(body),
		Tokens: tokenCount + m.agentAffixTokens,
	})
}

// RemoveTurn drops a non-system turn.
func (m *Memory) RemoveTurn(id int) error {
	if id == 0 {
		return ErrSystemTurn
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("turn %d: %w", id, ErrUnknownTurn)
	}
	m.total -= m.turns[i].Tokens
	m.turns = append(m.turns[:i], m.turns[i+1:]...)
	return nil
}

func (m *Memory) indexLocked(id int) int {
	for i, u := range m.turns {
		if u.ID == id {
			return i
		}
	}
	return -1
}

// Turn returns the utterance with the given ID.
func (m *Memory) Turn(id int) (Utterance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.turns[i], true
	}
	return Utterance{}, false
}

// Turns returns a copy of the history.
func (m *Memory) Turns() []Utterance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Utterance(nil), m.turns...)
}

// TotalTokens is the sum of all utterance token counts.
func (m *Memory) TotalTokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// NextTurnID is the ID the next appended turn will get.
func (m *Memory) NextTurnID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextID
}

// Budget returns the configured budget and reserved suffix tokens.
func (m *Memory) Budget() (budget, reserved int) {
	return m.budget, m.reserved
}

// Template returns the template the memory renders with.
func (m *Memory) Template() Template {
	return m.tpl
}
