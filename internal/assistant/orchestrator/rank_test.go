package orchestrator

import (
	"testing"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/stretchr/testify/assert"
)

func TestExtractRank(t *testing.T) {
	cases := []struct {
		text    string
		wantDir model.RankDirection
		wantPos int
	}{
		{"which device used the most energy", model.RankHighest, 1},
		{"my highest consumer today", model.RankHighest, 1},
		{"top device this week", model.RankHighest, 1},
		{"what used the least power", model.RankLowest, 1},
		{"lowest energy device", model.RankLowest, 1},
		{"2nd highest device", model.RankHighest, 2},
		{"second highest consumer", model.RankHighest, 2},
		{"3rd lowest burner", model.RankLowest, 3},
		{"the third device", model.RankHighest, 3},
		{"5th highest usage", model.RankHighest, 5},
		{"4 device comparison", model.RankHighest, 4},
		{"no rank words at all", "", 0},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			dir, pos := ExtractRank(tc.text)
			assert.Equal(t, tc.wantDir, dir)
			assert.Equal(t, tc.wantPos, pos)
		})
	}
}

func TestExtractRankIgnoresBareNumbers(t *testing.T) {
	// A quoted measurement is not a rank: no ordinal-adjacent keyword.
	dir, pos := ExtractRank("today's ac usage was 168.25 kwh")
	assert.Empty(t, dir)
	assert.Zero(t, pos)

	dir, pos = ExtractRank("I paid 42 dollars last month")
	assert.Empty(t, dir)
	assert.Zero(t, pos)
}

func TestExtractRankWordBoundaries(t *testing.T) {
	// "top" inside "laptop" must not register as a rank direction.
	dir, pos := ExtractRank("my laptop was on all day")
	assert.Empty(t, dir)
	assert.Zero(t, pos)
}
