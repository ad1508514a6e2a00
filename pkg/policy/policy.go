// Package policy holds the amount bounds and rule expressions an intent must satisfy before it
// may execute. Evaluation is fail-closed: a rule that errors denies the intent.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// Rule is a named CEL expression that must evaluate to true.
// Available variables: intent (map with id, actor, recipient, amount, expiry, memo) and now (int, unix seconds).
type Rule struct {
	Name string `yaml:"name" json:"name"`
	Expr string `yaml:"expr" json:"expr"`
}

// Policy bounds accepted intents.
type Policy struct {
	MinAmount uint64 `yaml:"min_amount" json:"min_amount"`
	MaxAmount uint64 `yaml:"max_amount" json:"max_amount"` // 0 means unbounded
	Rules     []Rule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Default accepts any nonzero amount.
func Default() Policy {
	return Policy{MinAmount: 1}
}

// LoadFile reads a YAML policy document.
func LoadFile(path string) (Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.MaxAmount != 0 && p.MaxAmount < p.MinAmount {
		return fmt.Errorf("policy: max_amount %d below min_amount %d", p.MaxAmount, p.MinAmount)
	}
	for i, r := range p.Rules {
		if r.Expr == "" {
			return fmt.Errorf("policy: rule %d (%s) has empty expr", i, r.Name)
		}
	}
	return nil
}

// CheckBounds enforces the amount limits. Zero is always rejected regardless of MinAmount.
func (p Policy) CheckBounds(amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("amount must be nonzero")
	}
	if amount < p.MinAmount {
		return fmt.Errorf("amount %d below minimum %d", amount, p.MinAmount)
	}
	if p.MaxAmount != 0 && amount > p.MaxAmount {
		return fmt.Errorf("amount %d above maximum %d", amount, p.MaxAmount)
	}
	return nil
}

func ruleInput(i contracts.Intent, now int64) map[string]any {
	return map[string]any{
		"now": now,
		"intent": map[string]any{
			"id":        i.ID,
			"actor":     i.Actor,
			"recipient": i.Recipient,
			"amount":    i.Amount,
			"expiry":    i.Expiry,
			"memo":      i.Memo,
		},
	}
}
