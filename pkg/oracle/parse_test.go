package oracle

import "testing"

type verdictDoc struct {
	OriginalityScore int      `json:"originality_score"`
	Patterns         []string `json:"suspicious_patterns"`
	Explanation      string   `json:"explanation"`
}

func TestParseInto_Strategies(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantScore int
		wantStrat Strategy
	}{
		{
			name:      "strict JSON",
			input:     `{"originality_score": 90, "suspicious_patterns": [], "explanation": "ok"}`,
			wantScore: 90,
			wantStrat: StrategyStrict,
		},
		{
			name:      "fenced json block",
			input:     "Here is my analysis:\n```json\n{\"originality_score\": 40, \"suspicious_patterns\": [\"boilerplate\"], \"explanation\": \"copied\"}\n```\nHope that helps.",
			wantScore: 40,
			wantStrat: StrategyFenced,
		},
		{
			name:      "plain fence",
			input:     "```\n{\"originality_score\": 75}\n```",
			wantScore: 75,
			wantStrat: StrategyFenced,
		},
		{
			name:      "balanced substring in prose",
			input:     `Sure! The verdict is {"originality_score": 12, "explanation": "textbook {solution} style"} as requested.`,
			wantScore: 12,
			wantStrat: StrategyBalanced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc verdictDoc
			strat, ok := ParseInto(tt.input, &doc)
			if !ok {
				t.Fatalf("ParseInto failed, want strategy %s", tt.wantStrat)
			}
			if strat != tt.wantStrat {
				t.Errorf("strategy = %s, want %s", strat, tt.wantStrat)
			}
			if doc.OriginalityScore != tt.wantScore {
				t.Errorf("score = %d, want %d", doc.OriginalityScore, tt.wantScore)
			}
		})
	}
}

func TestParseInto_BracesInsideStrings(t *testing.T) {
	var doc verdictDoc
	input := `prefix {"originality_score": 55, "explanation": "uses map[string]{} and } inside \" strings"} suffix`
	strat, ok := ParseInto(input, &doc)
	if !ok {
		t.Fatal("ParseInto failed on braces inside string literals")
	}
	if strat != StrategyBalanced {
		t.Errorf("strategy = %s, want %s", strat, StrategyBalanced)
	}
	if doc.OriginalityScore != 55 {
		t.Errorf("score = %d, want 55", doc.OriginalityScore)
	}
}

func TestParseInto_TotalFailure(t *testing.T) {
	for _, input := range []string{"", "no json here at all", "{ broken", "``` still broken ```"} {
		var doc verdictDoc
		if strat, ok := ParseInto(input, &doc); ok {
			t.Errorf("ParseInto(%q) succeeded with %s, want failure", input, strat)
		}
	}
}
