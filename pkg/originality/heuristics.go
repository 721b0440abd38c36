package originality

import "strings"

// Heuristic trigger labels carried into the verdict's suspicious patterns.
const (
	heuristicTooShort     = "too_short_to_derive"
	heuristicCommentHeavy = "comment_heavy"
	heuristicTemplate     = "template_markers"
)

var templateMarkers = []string{"TODO:", "FIXME:", "solution("}

// localScore is the cheap no-network pass. It starts at 100 and subtracts 10
// per distinct triggered heuristic: fewer than 3 non-empty lines, a
// comment-line ratio above 0.5, or template-like markers left in the body.
func localScore(code string) (int, []string) {
	score := 100
	var triggered []string

	nonBlank := 0
	commentLines := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonBlank++
		if isCommentLine(line) {
			commentLines++
		}
	}

	if nonBlank < 3 {
		score -= 10
		triggered = append(triggered, heuristicTooShort)
	}
	if nonBlank > 0 && float64(commentLines)/float64(nonBlank) > 0.5 {
		score -= 10
		triggered = append(triggered, heuristicCommentHeavy)
	}
	for _, marker := range templateMarkers {
		if strings.Contains(code, marker) {
			score -= 10
			triggered = append(triggered, heuristicTemplate)
			break
		}
	}

	if score < 0 {
		score = 0
	}
	return score, triggered
}
