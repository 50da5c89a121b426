package routing

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// ShortcutRule resolves an intent without a model call when Expr evaluates to true.
// Expressions see three variables: text (raw message), lower (lowercased message) and
// has_uploads (the caller has uploaded reports).
type ShortcutRule struct {
	Name   string `yaml:"name"`
	Expr   string `yaml:"expr"`
	Intent string `yaml:"intent"`
}

// DefaultShortcutRules are the deterministic report-analysis shortcuts.
func DefaultShortcutRules() []ShortcutRule {
	return []ShortcutRule{
		{
			Name:   "explicit_report_reference",
			Expr:   `text.contains("Report ID:") || lower.contains("report id")`,
			Intent: IntentReportAnalysis,
		},
		{
			Name:   "uploaded_report_request",
			Expr:   `has_uploads && (lower.contains("analyze") || lower.contains("report"))`,
			Intent: IntentReportAnalysis,
		},
	}
}

type compiledRule struct {
	ShortcutRule
	prg cel.Program
}

func newRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("lower", cel.StringType),
		cel.Variable("has_uploads", cel.BoolType),
	)
}

// compileRules checks every rule once so evaluation cannot fail on syntax.
func compileRules(rules []ShortcutRule) ([]compiledRule, error) {
	env, err := newRuleEnv()
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Intent) == "" {
			return nil, fmt.Errorf("shortcut rule %q has no intent", r.Name)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile shortcut rule %q: %w", r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("shortcut rule %q must evaluate to bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program shortcut rule %q: %w", r.Name, err)
		}
		out = append(out, compiledRule{ShortcutRule: r, prg: prg})
	}
	return out, nil
}

// matchRules returns the first rule whose expression holds.
func matchRules(rules []compiledRule, text string, hasUploads bool) (compiledRule, bool) {
	vars := map[string]any{
		"text":        text,
		"lower":       strings.ToLower(text),
		"has_uploads": hasUploads,
	}
	for _, r := range rules {
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			continue
		}
		if hit, ok := out.Value().(bool); ok && hit {
			return r, true
		}
	}
	return compiledRule{}, false
}
