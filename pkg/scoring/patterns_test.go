package scoring

import (
	"testing"
)

func patternTypes(patterns []Pattern) map[string]Severity {
	out := make(map[string]Severity, len(patterns))
	for _, p := range patterns {
		out[p.Type] = p.Severity
	}
	return out
}

func TestDetectPatterns_RapidPasting(t *testing.T) {
	// Four pastes, last two 1s apart.
	events := []Event{
		ev(EventPaste, 10000, nil),
		ev(EventPaste, 100000, nil),
		ev(EventPaste, 200000, nil),
		ev(EventPaste, 201000, nil),
	}
	got := patternTypes(DetectPatterns(events))
	if got[PatternRapidPasting] != SeverityHigh {
		t.Errorf("rapid_pasting not detected: %v", got)
	}

	// Four pastes all far apart: no burst.
	spread := []Event{
		ev(EventPaste, 10000, nil),
		ev(EventPaste, 100000, nil),
		ev(EventPaste, 200000, nil),
		ev(EventPaste, 300000, nil),
	}
	if got := patternTypes(DetectPatterns(spread)); got[PatternRapidPasting] != "" {
		t.Error("rapid_pasting fired without a burst")
	}

	// Three pastes in a burst: below the >3 threshold.
	few := []Event{
		ev(EventPaste, 1000, nil),
		ev(EventPaste, 2000, nil),
		ev(EventPaste, 3000, nil),
	}
	if got := patternTypes(DetectPatterns(few)); got[PatternRapidPasting] != "" {
		t.Error("rapid_pasting fired with only 3 pastes")
	}
}

func TestDetectPatterns_DevToolsWithPaste(t *testing.T) {
	events := []Event{
		ev(EventDevTools, 1000, nil),
		ev(EventPaste, 900000, map[string]any{"textLength": 10.0}),
	}
	got := patternTypes(DetectPatterns(events))
	if got[PatternDevToolsWithPaste] != SeverityCritical {
		t.Errorf("devtools_with_paste not detected: %v", got)
	}
}

func TestDetectPatterns_ExtensionWithLargePaste(t *testing.T) {
	events := []Event{
		ev(EventExtension, 1000, nil),
		ev(EventPaste, 2000, map[string]any{"textLength": 250.0}),
	}
	got := patternTypes(DetectPatterns(events))
	if got[PatternExtensionWithPaste] != SeverityHigh {
		t.Errorf("extension_with_large_paste not detected: %v", got)
	}

	small := []Event{
		ev(EventExtension, 1000, nil),
		ev(EventPaste, 2000, map[string]any{"textLength": 100.0}),
	}
	if got := patternTypes(DetectPatterns(small)); got[PatternExtensionWithPaste] != "" {
		t.Error("extension_with_large_paste fired on a small paste")
	}
}

func TestDetectPatterns_TabSwitchingAndFaces(t *testing.T) {
	var events []Event
	for i := 0; i < 6; i++ {
		events = append(events, ev(EventTabSwitch, int64(1000*(i+1)), nil))
	}
	events = append(events, ev(EventFace, 10000, map[string]any{"severity": "critical", "currentCount": 2.0}))
	for i := 0; i < 6; i++ {
		events = append(events, ev(EventFace, int64(20000+1000*i), map[string]any{"severity": "warning"}))
	}

	got := patternTypes(DetectPatterns(events))
	if got[PatternExcessiveTabSwitch] != SeverityMedium {
		t.Errorf("excessive_tab_switching not detected: %v", got)
	}
	if got[PatternMultiplePeople] != SeverityCritical {
		t.Errorf("multiple_people_detected not detected: %v", got)
	}
	if got[PatternFrequentDisappear] != SeverityHigh {
		t.Errorf("frequent_disappearance not detected: %v", got)
	}
}

func TestPatternBonus(t *testing.T) {
	patterns := []Pattern{
		{Type: PatternDevToolsWithPaste, Severity: SeverityCritical},
		{Type: PatternRapidPasting, Severity: SeverityHigh},
		{Type: PatternExcessiveTabSwitch, Severity: SeverityMedium},
	}
	if bonus := PatternBonus(patterns); bonus != 60 {
		t.Errorf("bonus = %.1f, want 60", bonus)
	}

	// Duplicate pattern types contribute once.
	dup := []Pattern{
		{Type: PatternRapidPasting, Severity: SeverityHigh},
		{Type: PatternRapidPasting, Severity: SeverityHigh},
	}
	if bonus := PatternBonus(dup); bonus != 20 {
		t.Errorf("duplicate-type bonus = %.1f, want 20", bonus)
	}
}

func TestFlaggedTypes(t *testing.T) {
	rules := DefaultRules()
	events := []Event{
		ev(EventDevTools, 1000, nil),
		ev(EventPaste, 2000, map[string]any{"textLength": 600.0}),
	}
	patterns := DetectPatterns(events)
	flagged := FlaggedTypes(rules, events, patterns)

	want := map[string]bool{"devtools_detected": true, "clipboard_paste": true}
	if len(flagged) != len(want) {
		t.Fatalf("flagged = %v, want keys %v", flagged, want)
	}
	for _, f := range flagged {
		if !want[f] {
			t.Errorf("unexpected flagged type %q", f)
		}
	}
}
