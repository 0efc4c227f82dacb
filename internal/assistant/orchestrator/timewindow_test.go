package orchestrator

import (
	"testing"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC)

func TestResolveTimeWindowLabels(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	cases := []struct {
		text  string
		label string
		gran  model.Granularity
	}{
		{"how much energy today", "today", model.GranHour},
		{"usage yesterday please", "yesterday", model.GranHour},
		{"this week so far", "this_week_so_far", model.GranDay},
		{"spending this month", "this_month_so_far", model.GranDay},
		{"over the last week", "last_7_days", model.GranDay},
		{"past week consumption", "last_7_days", model.GranDay},
		{"the last 7 days", "last_7_days", model.GranDay},
		{"past 30 minutes", "last_30_minutes", model.GranMinute},
		{"last 6 hours", "last_6_hours", model.GranHour},
		{"last 3 days", "last_3_days", model.GranDay},
		{"past 2 weeks", "last_2_weeks", model.GranDay},
		{"last 2 months", "last_2_months", model.GranDay},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			w := ResolveTimeWindow(tc.text, testNow, loc)
			require.NotNil(t, w)
			assert.Equal(t, tc.label, w.Label)
			assert.Equal(t, tc.gran, w.Granularity)

			// start <= end <= now must hold for every resolvable label
			assert.False(t, w.Start.After(w.End), "start after end")
			assert.False(t, w.End.After(testNow.Add(time.Second)), "end after now")
			assert.Equal(t, time.UTC, w.Start.Location())
		})
	}
}

func TestResolveTimeWindowTodayIsLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	w := ResolveTimeWindow("today", testNow, loc)
	require.NotNil(t, w)

	// 2026-08-27 14:30 UTC is 22:30 local; local midnight is 16:00 UTC the
	// previous day.
	assert.Equal(t, time.Date(2026, 8, 26, 16, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, testNow, w.End)
}

func TestResolveTimeWindowYesterdayEndsBeforeToday(t *testing.T) {
	w := ResolveTimeWindow("yesterday", testNow, time.UTC)
	require.NotNil(t, w)
	assert.Equal(t, time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC), w.Start)
	assert.True(t, w.End.Before(time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)))
}

func TestResolveTimeWindowOrderingContract(t *testing.T) {
	// "last 7 days" must resolve through its dedicated label, not the
	// generic relative pattern.
	w := ResolveTimeWindow("show me the past 7 days", testNow, time.UTC)
	require.NotNil(t, w)
	assert.Equal(t, "last_7_days", w.Label)
}

func TestResolveTimeWindowNoMatchReturnsNil(t *testing.T) {
	assert.Nil(t, ResolveTimeWindow("how much energy did my ac use", testNow, time.UTC))
	assert.Nil(t, ResolveTimeWindow("", testNow, time.UTC))
}
