package rules

import "fmt"

// Rule maps a condition to the symbol produced when it matches.
type Rule struct {
	When   Condition `mapstructure:"when" json:"when"`
	Symbol string    `mapstructure:"symbol" json:"symbol"`
}

// Evaluate returns the symbol of the first rule whose condition matches ctx,
// or def when no rule matches. It never fails.
func Evaluate(ctx map[string]any, rules []Rule, def string) string {
	for _, r := range rules {
		if r.When.Match(ctx) {
			return r.Symbol
		}
	}
	return def
}

// ValidateRules validates every rule condition, reporting the first bad index.
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if err := r.When.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}
