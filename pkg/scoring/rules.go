package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule describes how one event type contributes to the rule-based score.
// BaseScore must be in [0,100] and Multiplier >= 1.0.
type Rule struct {
	BaseScore   float64 `yaml:"base_score"`
	Multiplier  float64 `yaml:"multiplier"`
	Critical    bool    `yaml:"critical"`
	Dynamic     bool    `yaml:"dynamic"`
	Description string  `yaml:"description"`
}

// RuleTable is the single canonical, configuration-driven rule table.
type RuleTable map[EventType]Rule

// DefaultRules returns the built-in rule table.
func DefaultRules() RuleTable {
	return RuleTable{
		EventDevTools: {
			BaseScore:   30,
			Multiplier:  1.5,
			Critical:    true,
			Description: "developer tools opened",
		},
		EventExtension: {
			BaseScore:   20,
			Multiplier:  1.2,
			Critical:    true,
			Description: "browser extension detected",
		},
		EventPaste: {
			BaseScore:   5,
			Multiplier:  1.3,
			Dynamic:     true,
			Description: "clipboard paste, scored by pasted length",
		},
		EventCopy: {
			BaseScore:   0,
			Multiplier:  1.0,
			Description: "clipboard copy",
		},
		EventCut: {
			BaseScore:   0,
			Multiplier:  1.0,
			Description: "clipboard cut",
		},
		EventTabSwitch: {
			BaseScore:   10,
			Multiplier:  1.1,
			Description: "tab switch",
		},
		EventVisibility: {
			BaseScore:   15,
			Multiplier:  1.2,
			Description: "page visibility change",
		},
		EventFace: {
			BaseScore:   0,
			Multiplier:  1.0,
			Dynamic:     true,
			Description: "face detection, scored by severity",
		},
	}
}

// LoadRules builds the rule table, merging an optional YAML override file
// onto the defaults. An override replaces the whole rule for its event type.
func LoadRules(path string) (RuleTable, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule overrides: %w", err)
	}

	var overrides map[EventType]Rule
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parsing rule overrides: %w", err)
	}

	for typ, rule := range overrides {
		if err := validateRule(typ, rule); err != nil {
			return nil, err
		}
		rules[typ] = rule
	}
	return rules, nil
}

func validateRule(typ EventType, r Rule) error {
	if r.BaseScore < 0 || r.BaseScore > 100 {
		return fmt.Errorf("rule %q: base_score %.1f out of [0,100]", typ, r.BaseScore)
	}
	if r.Multiplier < 1.0 {
		return fmt.Errorf("rule %q: multiplier %.2f must be >= 1.0", typ, r.Multiplier)
	}
	return nil
}
