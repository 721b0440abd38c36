package scoring

import "math"

// RuleResult is the output of one rule-engine pass over an event window.
type RuleResult struct {
	Score         float64
	CriticalCount int
	Counts        map[EventType]int
}

// Analyze maps an ordered event sequence to a rule-based score plus per-type
// counts. Pure function: identical input event lists always yield identical
// output, which is what makes re-scoring idempotent.
//
// Per event: look up the rule (unknown types contribute 0 but are counted),
// compute the base or dynamic contribution, then escalate repeats by
// multiplier^(count-1). The sum is clamped to [0,100].
func (t RuleTable) Analyze(events []Event) RuleResult {
	total := 0.0
	counts := make(map[EventType]int)
	critical := 0

	for _, ev := range events {
		counts[ev.Type]++

		rule, ok := t[ev.Type]
		if !ok {
			continue
		}

		score := rule.BaseScore
		if rule.Dynamic {
			score = dynamicScore(ev, rule)
		}

		if n := counts[ev.Type]; n > 1 {
			score *= math.Pow(rule.Multiplier, float64(n-1))
		}

		total += score
		if rule.Critical {
			critical++
		}
	}

	return RuleResult{
		Score:         clamp(total),
		CriticalCount: critical,
		Counts:        counts,
	}
}

// dynamicScore computes metadata-driven contributions.
func dynamicScore(ev Event, rule Rule) float64 {
	switch ev.Type {
	case EventPaste:
		// Paste severity scales with pasted character count.
		length := metaFloat(ev.Metadata, "textLength")
		switch {
		case length > 500:
			return rule.BaseScore + 40
		case length > 200:
			return rule.BaseScore + 25
		case length > 100:
			return rule.BaseScore + 15
		case length > 50:
			return rule.BaseScore + 8
		default:
			return rule.BaseScore + 3
		}

	case EventFace:
		// Severity overrides the base score rather than adding to it.
		switch metaString(ev.Metadata, "severity") {
		case "critical": // two or more people in frame
			count := metaFloat(ev.Metadata, "currentCount")
			if count < 1 {
				count = 1
			}
			return 15 * count
		case "warning": // participant left the frame
			return 3
		default:
			return 0
		}
	}

	return rule.BaseScore
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
