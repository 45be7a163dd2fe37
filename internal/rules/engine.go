package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"livetalk/internal/domain"
)

// Scope restricts a rule to one side of the conversation.
type Scope string

const (
	ScopeAll    Scope = ""
	ScopeUser   Scope = "user"
	ScopeRemote Scope = "ai"
)

func (s Scope) covers(side domain.Side) bool {
	switch s {
	case ScopeUser:
		return side == domain.SideUser
	case ScopeRemote:
		return side == domain.SideRemote
	default:
		return true
	}
}

type scopedRule struct {
	scope Scope
	rule  compiledRule
}

// Engine rewrites transcript text with substitutions loaded from a rules
// file. A line prefixed with "user:" or "ai:" only applies to that side.
type Engine struct {
	path      string
	loopLimit int
	parsers   []RuleParser

	mu    sync.RWMutex
	rules []scopedRule
}

// NewEngine loads rules from path with the built-in parsers. A missing or
// empty path yields an engine that leaves text untouched.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, defaultRuleParsers())
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, loopLimit int, parsers []RuleParser) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	e := &Engine{path: strings.TrimSpace(path), loopLimit: loopLimit, parsers: parsers}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the rules file. On failure the previous rules stay active.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}

	contents, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.swap(nil)
			return nil
		}
		return fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}

	parsed, err := parseRules(string(contents), e.parsers)
	if err != nil {
		return fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}
	e.swap(parsed)
	return nil
}

func (e *Engine) swap(rules []scopedRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Apply rewrites text with the rules that are not scoped to a side.
func (e *Engine) Apply(text string) (string, error) {
	return e.apply(text, func(s Scope) bool { return s == ScopeAll }), nil
}

// ApplyTurn rewrites each side of a turn with the unscoped rules plus the
// rules scoped to that side.
func (e *Engine) ApplyTurn(turn domain.Turn) (domain.Turn, error) {
	turn.User = e.apply(turn.User, func(s Scope) bool { return s.covers(domain.SideUser) })
	turn.Remote = e.apply(turn.Remote, func(s Scope) bool { return s.covers(domain.SideRemote) })
	return turn, nil
}

func (e *Engine) apply(text string, include func(Scope) bool) string {
	e.mu.RLock()
	active := make([]compiledRule, 0, len(e.rules))
	for _, r := range e.rules {
		if include(r.scope) {
			active = append(active, r.rule)
		}
	}
	e.mu.RUnlock()

	if len(active) == 0 || text == "" {
		return text
	}

	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, rule := range active {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result
}
