package evaluation

import (
	"regexp"
	"strconv"
)

var scorePattern = regexp.MustCompile(`Score:\s(\d+)`)

// ParseScore extracts the first "Score: <n>" from a verdict. A verdict with no
// score, or one too large to represent, scores 0.
func ParseScore(verdict string) int {
	match := scorePattern.FindStringSubmatch(verdict)
	if len(match) < 2 {
		return 0
	}
	score, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return score
}
