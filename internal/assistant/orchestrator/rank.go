package orchestrator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
)

var (
	rankHighRe = regexp.MustCompile(`\b(?:highest|top|most)\b`)
	rankLowRe  = regexp.MustCompile(`\b(?:lowest|least)\b`)

	// A number or ordinal counts as a rank position only when it directly
	// precedes a rank-indicating word, so "168.25 kWh" in a quoted value is
	// never read as a rank.
	rankPositionRe = regexp.MustCompile(
		`\b(?:(first|1st)|(second|2nd)|(third|3rd)|(fourth|4th)|(fifth|5th)|(\d+)(?:st|nd|rd|th)?)\s+(?:highest|lowest|top|most|least|device|consumer|usage|burner)\b`)

	lowContextWords  = []string{"least", "lowest"}
	highContextWords = []string{"top", "most", "highest", "device", "consumer", "usage"}
)

// ExtractRank finds a rank direction and an explicit position in text.
// Direction without a position defaults to position 1. A position without a
// direction infers highest unless the match span itself carries a lowest
// keyword. Both zero values mean no rank signal at all.
func ExtractRank(text string) (model.RankDirection, int) {
	var dir model.RankDirection
	pos := 0

	if rankHighRe.MatchString(text) {
		dir = model.RankHighest
	} else if rankLowRe.MatchString(text) {
		dir = model.RankLowest
	}

	if m := rankPositionRe.FindStringSubmatch(text); m != nil {
		switch {
		case m[1] != "":
			pos = 1
		case m[2] != "":
			pos = 2
		case m[3] != "":
			pos = 3
		case m[4] != "":
			pos = 4
		case m[5] != "":
			pos = 5
		case m[6] != "":
			if n, err := strconv.Atoi(m[6]); err == nil {
				pos = n
			}
		}

		if dir == "" && pos > 0 {
			span := strings.ToLower(m[0])
			switch {
			case containsAny(span, highContextWords):
				dir = model.RankHighest
			case containsAny(span, lowContextWords):
				dir = model.RankLowest
			default:
				// Ordinal with no high/low context, e.g. "2nd device".
				dir = model.RankHighest
			}
		}
	}

	if dir != "" && pos == 0 {
		pos = 1
	}

	return dir, pos
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
