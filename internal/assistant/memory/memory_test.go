package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUpMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	m := NewFollowUpMemory(2 * time.Minute).WithClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "u1", &model.FollowUpState{Intent: model.IntentEnergy, Devices: []string{"AC"}}))

	st, err := m.GetIfFresh(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, []string{"AC"}, st.Devices)

	// Within TTL.
	now = now.Add(119 * time.Second)
	st, err = m.GetIfFresh(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, st)

	// Past TTL: evicted lazily.
	now = now.Add(2 * time.Second)
	st, err = m.GetIfFresh(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestFollowUpMemoryOverwriteAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewFollowUpMemory(time.Minute)

	require.NoError(t, m.Set(ctx, "u1", &model.FollowUpState{Rank: model.RankHighest, RankPosition: 1}))
	require.NoError(t, m.Set(ctx, "u1", &model.FollowUpState{Rank: model.RankLowest, RankPosition: 2}))

	st, err := m.GetIfFresh(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, model.RankLowest, st.Rank)
	assert.Equal(t, 2, st.RankPosition)

	require.NoError(t, m.Clear(ctx, "u1"))
	st, err = m.GetIfFresh(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestFollowUpMemoryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewFollowUpMemory(time.Minute)
	require.NoError(t, m.Set(ctx, "u1", &model.FollowUpState{Devices: []string{"AC"}}))

	st, _ := m.GetIfFresh(ctx, "u1")
	st.Rank = model.RankLowest

	again, _ := m.GetIfFresh(ctx, "u1")
	assert.Empty(t, again.Rank)
}

func TestRecapMemoryDedupAndBound(t *testing.T) {
	ctx := context.Background()
	m := NewRecapMemory(4)

	require.NoError(t, m.AppendLine(ctx, "u1", "Checked usage: AC, yesterday"))
	require.NoError(t, m.AppendLine(ctx, "u1", "Checked usage: AC, yesterday")) // consecutive dup dropped
	require.NoError(t, m.AppendLine(ctx, "u1", "Top device today: Water Heater"))

	recap, err := m.Recap(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "So far:\n- Checked usage: AC, yesterday\n- Top device today: Water Heater", recap)

	for _, line := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.AppendLine(ctx, "u1", line))
	}
	recap, err = m.Recap(ctx, "u1")
	require.NoError(t, err)
	assert.NotContains(t, recap, "Checked usage")
	assert.Contains(t, recap, "- d")
}

func TestRecapMemoryEmpty(t *testing.T) {
	m := NewRecapMemory(4)
	recap, err := m.Recap(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "No prior discussion yet.", recap)
}

func TestHistoryBufferWindowTrim(t *testing.T) {
	ctx := context.Background()
	m := NewHistoryBuffer(4)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, m.AppendMessage(ctx, "u1", schema.UserMessage(text)))
	}

	window, err := m.Window(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, window, 4)
	assert.Equal(t, "two", window[0].Content)
	assert.Equal(t, "five", window[3].Content)
}

func TestHistoryBufferIgnoresEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewHistoryBuffer(4)

	require.NoError(t, m.AppendMessage(ctx, "u1", nil))
	require.NoError(t, m.AppendMessage(ctx, "u1", schema.UserMessage("")))

	window, err := m.Window(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, window)
}
