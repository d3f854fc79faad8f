package guard

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/quayline/orchestrator/internal/models"
)

// Action says what happens when a rule matches.
type Action string

const (
	// ActionRedact replaces the matched span and keeps the output.
	ActionRedact Action = "redact"
	// ActionReject drops the whole output and returns the fallback text.
	ActionReject Action = "reject"
)

// Rule is one confidentiality rule. An empty Roles list applies the rule to
// every role.
type Rule struct {
	Name    string   `yaml:"name"`
	Pattern string   `yaml:"pattern"`
	Action  Action   `yaml:"action"`
	Roles   []string `yaml:"roles,omitempty"`

	re *regexp.Regexp
}

func (r *Rule) appliesTo(role models.Role) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, name := range r.Roles {
		if models.Role(name) == role {
			return true
		}
	}
	return false
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

func loadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guard rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse guard rules: %w", err)
	}
	return compileRules(f.Rules)
}

func compileRules(rules []Rule) ([]Rule, error) {
	for i := range rules {
		r := &rules[i]
		if r.Name == "" {
			return nil, fmt.Errorf("guard rule %d has no name", i)
		}
		switch r.Action {
		case ActionRedact, ActionReject:
		default:
			return nil, fmt.Errorf("guard rule %q: unknown action %q", r.Name, r.Action)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("guard rule %q: %w", r.Name, err)
		}
		r.re = re
	}
	return rules, nil
}

// defaultRules covers the deployment-independent confidentiality floor:
// payment and credential spans never leave the service, and backoffice
// fields never reach non-operator roles.
func defaultRules() []Rule {
	rules := []Rule{
		{
			Name:    "payment-reference",
			Pattern: `\bPAY-[A-Z0-9-]+\b`,
			Action:  ActionRedact,
		},
		{
			Name:    "card-number",
			Pattern: `\b(?:\d[ -]?){13,19}\b`,
			Action:  ActionRedact,
		},
		{
			Name:    "credential-span",
			Pattern: `(?i)\b(?:api[_-]?key|bearer|token|password)\s*[:=]\s*\S{8,}`,
			Action:  ActionRedact,
		},
		{
			Name:    "internal-fields",
			Pattern: `(?i)(?:\b|_)(?:notes|audit)(?:_trail)?\s*:`,
			Action:  ActionReject,
			Roles:   []string{string(models.RoleCarrier), string(models.RoleCustomer)},
		},
		{
			Name:    "driver-contact",
			Pattern: `\+?(?:\d[ ()-]?){8,}\d`,
			Action:  ActionReject,
			Roles:   []string{string(models.RoleCustomer)},
		},
	}
	compiled, err := compileRules(rules)
	if err != nil {
		panic(err)
	}
	return compiled
}
