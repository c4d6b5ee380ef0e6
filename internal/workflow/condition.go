package workflow

import (
	"regexp"

	"colony/internal/apperr"
)

// conditionPattern implements the grammar from spec.md §4.1:
//   ⟨step⟩.⟨field⟩ == '⟨literal⟩'
var conditionPattern = regexp.MustCompile(`^\s*([A-Za-z0-9_-]+)\.([A-Za-z0-9_-]+)\s*==\s*'([^']*)'\s*$`)

// Condition is a parsed single-equality comparison.
type Condition struct {
	Step    string
	Field   string
	Literal string
}

// ParseCondition parses expr per the grammar in spec.md §4.1. An empty expr
// is not a parse error — it is the caller's job to treat absence as "true"
// (see Evaluate) — ParseCondition returns (nil, nil) for it.
func ParseCondition(expr string) (*Condition, error) {
	if expr == "" {
		return nil, nil
	}
	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, apperr.ConditionUnparseable("condition %q does not match '<step>.<field> == '<literal>''", expr)
	}
	return &Condition{Step: m[1], Field: m[2], Literal: m[3]}, nil
}

// StepContext is the per-step entry of the mission context map the Cascade
// Engine builds (spec.md §4.4 step 1 / §6 "Complete-run result field").
type StepContext struct {
	Result  string
	HasResult bool
	Summary string
}

// Evaluate implements spec.md §4.1's condition semantics: an absent
// condition is true; any parse failure, missing context entry, or
// unrecognized field evaluates to false and is never fatal to the caller.
// The returned error, when non-nil, is for logging only (apperr.ConditionUnparseable
// or apperr.ContextMissing) — callers must still treat the boolean as the
// authoritative answer.
func Evaluate(expr string, ctx map[string]StepContext) (bool, error) {
	cond, err := ParseCondition(expr)
	if err != nil {
		return false, err
	}
	if cond == nil {
		return true, nil
	}
	return cond.evaluate(ctx)
}

func (c *Condition) evaluate(ctx map[string]StepContext) (bool, error) {
	entry, ok := ctx[c.Step]
	if !ok {
		return false, apperr.ContextMissing("condition references step %q with no recorded context", c.Step)
	}

	switch c.Field {
	case "result":
		if !entry.HasResult {
			return false, apperr.ContextMissing("condition references %s.result but step %s reported no result discriminator", c.Step, c.Step)
		}
		return entry.Result == c.Literal, nil
	case "summary":
		return entry.Summary == c.Literal, nil
	default:
		return false, apperr.ContextMissing("condition references unknown field %q on step %q", c.Field, c.Step)
	}
}
