package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"livetalk/internal/domain"
)

func writeRules(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "substitutions.rules")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	return path
}

func TestEngineLiteralAndRegexRules(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
# literal
large language model => LLM
# regex, case-insensitive unless I is given
s/\bjemini\b/Gemini/g
`)

	engine, err := NewEngine(path, 30)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	output, err := engine.Apply("ask JEMINI about the Large Language Model")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if output != "ask Gemini about the LLM" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineIteratesUntilStableWithinLimit(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "a => b\nb => c\n")
	engine, err := NewEngine(path, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if output, _ := engine.Apply("a"); output != "c" {
		t.Fatalf("expected c, got %q", output)
	}

	looping, err := NewEngine(writeRules(t, "x => xx\n"), 3)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if output, _ := looping.Apply("x"); output != "xxxxxxxx" {
		t.Fatalf("expected three passes, got %q", output)
	}
}

func TestEngineScopedRulesOnlyTouchTheirSide(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
user: gonna => going to
ai: s/^Sure[,!]\s*//
okay => OK
`)
	engine, err := NewEngine(path, 10)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.Len() != 3 {
		t.Fatalf("expected 3 rules, got %d", engine.Len())
	}

	turn, err := engine.ApplyTurn(domain.Turn{
		User:   "okay, gonna ask: Sure, why?",
		Remote: "Sure, I'm gonna help. okay?",
	})
	if err != nil {
		t.Fatalf("apply turn failed: %v", err)
	}
	if turn.User != "OK, going to ask: Sure, why?" {
		t.Fatalf("unexpected user text: %q", turn.User)
	}
	if turn.Remote != "I'm gonna help. OK?" {
		t.Fatalf("unexpected remote text: %q", turn.Remote)
	}

	plain, _ := engine.Apply("okay, gonna")
	if plain != "OK, gonna" {
		t.Fatalf("Apply should only use unscoped rules, got %q", plain)
	}
}

func TestEngineLiteralRuleStartingWithS(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, "speech to text => STT\n"), 30)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if output, _ := engine.Apply("speech to text works"); output != "STT works" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(filepath.Join(t.TempDir(), "absent.rules"), 0)
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if engine.Len() != 0 {
		t.Fatalf("expected no rules")
	}
	turn, _ := engine.ApplyTurn(domain.Turn{User: "hi", Remote: "hello"})
	if turn.User != "hi" || turn.Remote != "hello" {
		t.Fatalf("empty engine should leave text untouched: %+v", turn)
	}
}

func TestEngineReloadPicksUpChangesAndKeepsRulesOnError(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "cat => dog\n")
	engine, err := NewEngine(path, 10)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if err := os.WriteFile(path, []byte("cat => bird\n"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if err := engine.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if output, _ := engine.Apply("cat"); output != "bird" {
		t.Fatalf("expected reloaded rule, got %q", output)
	}

	if err := os.WriteFile(path, []byte("not-a-rule\n"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if err := engine.Reload(); err == nil {
		t.Fatalf("expected parse error on reload")
	}
	if output, _ := engine.Apply("cat"); output != "bird" {
		t.Fatalf("previous rules should stay active, got %q", output)
	}
}

func TestEngineSupportsParserExtension(t *testing.T) {
	t.Parallel()

	parsers := append([]RuleParser{upperRuleParser{}}, defaultRuleParsers()...)
	engine, err := NewEngineWithParsers(writeRules(t, "upper:nasa\n"), 5, parsers)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if output, _ := engine.Apply("nasa launch"); output != "NASA launch" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestRegexRuleWithoutGlobalReplacesFirstMatchOnly(t *testing.T) {
	t.Parallel()

	rule, err := parseRegexRule(`s/um,? //`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	output, changed := rule.Apply("um, so um, yes")
	if !changed || output != "so um, yes" {
		t.Fatalf("unexpected output: %q changed=%v", output, changed)
	}
}

func TestRegexRuleCaseSensitiveFlagAndCaptureGroups(t *testing.T) {
	t.Parallel()

	rule, err := parseRegexRule(`s|(\w+) dot com|$1.com|gI`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	output, _ := rule.Apply("example dot com and other DOT COM")
	if output != "example.com and other DOT COM" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestRegexRuleEscapedDelimiter(t *testing.T) {
	t.Parallel()

	rule, err := parseRegexRule(`s/ and\/or / or /`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if output, _ := rule.Apply("this and/or that"); output != "this or that" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestParseRegexRuleErrors(t *testing.T) {
	t.Parallel()

	for _, line := range []string{`s/foo/bar/x`, `s/foo/bar`, `s/(/x/`} {
		if _, err := parseRegexRule(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestParseRulesReportsLineNumber(t *testing.T) {
	t.Parallel()

	_, err := parseRules("# header\nok => fine\nnot-a-rule", defaultRuleParsers())
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expected line 3 error, got %v", err)
	}

	_, err = parseRules(" => empty", defaultRuleParsers())
	if err == nil {
		t.Fatalf("expected empty source error")
	}
}

func TestSplitScope(t *testing.T) {
	t.Parallel()

	cases := map[string]Scope{
		"user: a => b": ScopeUser,
		"AI: a => b":   ScopeRemote,
		"a => b":       ScopeAll,
		"user:":        ScopeAll,
	}
	for line, want := range cases {
		if got, _ := splitScope(line); got != want {
			t.Fatalf("splitScope(%q) = %q, want %q", line, got, want)
		}
	}
}

type upperRuleParser struct{}

func (upperRuleParser) CanParse(line string) bool {
	return strings.HasPrefix(line, "upper:")
}

func (upperRuleParser) Parse(line string) (compiledRule, error) {
	word := strings.TrimSpace(strings.TrimPrefix(line, "upper:"))
	if word == "" {
		return nil, errors.New("invalid upper rule")
	}
	return parseLiteralRule(word + " => " + strings.ToUpper(word))
}
