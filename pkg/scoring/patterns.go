package scoring

import "sort"

// Severity grades a suspicious pattern.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Pattern is a detected co-occurrence or temporal-burst pattern. Derived,
// never persisted; recomputed from the event window each time.
type Pattern struct {
	Type        string   `json:"pattern_type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Count       int      `json:"supporting_event_count"`
}

const (
	PatternRapidPasting       = "rapid_pasting"
	PatternDevToolsWithPaste  = "devtools_with_paste"
	PatternExtensionWithPaste = "extension_with_large_paste"
	PatternExcessiveTabSwitch = "excessive_tab_switching"
	PatternMultiplePeople     = "multiple_people_detected"
	PatternFrequentDisappear  = "frequent_disappearance"
)

// rapidPasteGapMs is the burst threshold between consecutive recent pastes.
const rapidPasteGapMs = 5000

// DetectPatterns identifies suspicious patterns across one session window.
// Patterns are independent and non-exclusive; each fires at most once.
func DetectPatterns(events []Event) []Pattern {
	var patterns []Pattern

	var pastes, devtools, extensions, faces []Event
	tabSwitches := 0
	largePastes := 0
	for _, ev := range events {
		switch ev.Type {
		case EventPaste:
			pastes = append(pastes, ev)
			if metaFloat(ev.Metadata, "textLength") > 200 {
				largePastes++
			}
		case EventDevTools:
			devtools = append(devtools, ev)
		case EventExtension:
			extensions = append(extensions, ev)
		case EventTabSwitch:
			tabSwitches++
		case EventFace:
			faces = append(faces, ev)
		}
	}

	if len(pastes) > 3 && hasRapidBurst(pastes) {
		patterns = append(patterns, Pattern{
			Type:        PatternRapidPasting,
			Severity:    SeverityHigh,
			Description: "multiple pastes in rapid succession",
			Count:       len(pastes),
		})
	}

	if len(devtools) > 0 && len(pastes) > 0 {
		patterns = append(patterns, Pattern{
			Type:        PatternDevToolsWithPaste,
			Severity:    SeverityCritical,
			Description: "developer tools open while pasting code",
			Count:       len(devtools) + len(pastes),
		})
	}

	if len(extensions) > 0 && largePastes > 0 {
		patterns = append(patterns, Pattern{
			Type:        PatternExtensionWithPaste,
			Severity:    SeverityHigh,
			Description: "extension active during large pastes",
			Count:       len(extensions) + largePastes,
		})
	}

	if tabSwitches > 5 {
		patterns = append(patterns, Pattern{
			Type:        PatternExcessiveTabSwitch,
			Severity:    SeverityMedium,
			Description: "excessive tab switching",
			Count:       tabSwitches,
		})
	}

	criticalFaces := 0
	warningFaces := 0
	for _, ev := range faces {
		switch metaString(ev.Metadata, "severity") {
		case "critical":
			criticalFaces++
		case "warning":
			warningFaces++
		}
	}
	if criticalFaces >= 1 {
		patterns = append(patterns, Pattern{
			Type:        PatternMultiplePeople,
			Severity:    SeverityCritical,
			Description: "multiple people detected in frame",
			Count:       criticalFaces,
		})
	}
	if warningFaces > 5 {
		patterns = append(patterns, Pattern{
			Type:        PatternFrequentDisappear,
			Severity:    SeverityHigh,
			Description: "participant frequently leaves the frame",
			Count:       warningFaces,
		})
	}

	return patterns
}

// hasRapidBurst checks whether any two of the five most recent pastes (by
// timestamp, descending) landed within the burst threshold of each other.
func hasRapidBurst(pastes []Event) bool {
	recent := make([]Event, len(pastes))
	copy(recent, pastes)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Timestamp > recent[j].Timestamp
	})
	if len(recent) > 5 {
		recent = recent[:5]
	}

	for i := 0; i+1 < len(recent); i++ {
		diff := recent[i].Timestamp - recent[i+1].Timestamp
		if diff < 0 {
			diff = -diff
		}
		if diff < rapidPasteGapMs {
			return true
		}
	}
	return false
}

// PatternBonus sums severity bonuses: critical +30, high +20, medium +10.
// Applied once per distinct pattern type even if the trigger condition was
// met multiple times.
func PatternBonus(patterns []Pattern) float64 {
	seen := make(map[string]bool, len(patterns))
	bonus := 0.0
	for _, p := range patterns {
		if seen[p.Type] {
			continue
		}
		seen[p.Type] = true
		switch p.Severity {
		case SeverityCritical:
			bonus += 30
		case SeverityHigh:
			bonus += 20
		case SeverityMedium:
			bonus += 10
		}
	}
	return bonus
}

// patternImplicatedTypes maps each pattern to the event types it implicates.
var patternImplicatedTypes = map[string][]EventType{
	PatternRapidPasting:       {EventPaste},
	PatternDevToolsWithPaste:  {EventDevTools, EventPaste},
	PatternExtensionWithPaste: {EventExtension, EventPaste},
	PatternExcessiveTabSwitch: {EventTabSwitch},
	PatternMultiplePeople:     {EventFace},
	PatternFrequentDisappear:  {EventFace},
}

// FlaggedTypes returns the union of event types implicated by firing
// patterns, merged with the critically-ruled types from rules.
func FlaggedTypes(rules RuleTable, events []Event, patterns []Pattern) []string {
	flagged := make(map[string]bool)

	for _, ev := range events {
		if rule, ok := rules[ev.Type]; ok && rule.Critical {
			flagged[string(ev.Type)] = true
		}
	}
	for _, p := range patterns {
		for _, typ := range patternImplicatedTypes[p.Type] {
			flagged[string(typ)] = true
		}
	}

	out := make([]string, 0, len(flagged))
	for typ := range flagged {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}
