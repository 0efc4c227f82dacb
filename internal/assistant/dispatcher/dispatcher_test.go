package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/memory"
	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/Wattine-core-poc/server/internal/assistant/orchestrator"
	"github.com/Wattine-core-poc/server/internal/assistant/provider"
	"github.com/Wattine-core-poc/server/internal/ratelimit"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC)

type stubAggregator struct {
	buckets []model.EnergyBucket
	totals  []model.RankedDevice
	err     error

	lastWindow    model.TimeWindow
	lastDeviceIDs []string
	totalsCalls   int
}

func (s *stubAggregator) Aggregate(_ context.Context, _ string, window model.TimeWindow, deviceIDs []string) ([]model.EnergyBucket, error) {
	s.lastWindow = window
	s.lastDeviceIDs = deviceIDs
	return s.buckets, s.err
}

func (s *stubAggregator) DeviceTotals(_ context.Context, _ string, window model.TimeWindow, deviceIDs []string) ([]model.RankedDevice, error) {
	s.totalsCalls++
	s.lastWindow = window
	s.lastDeviceIDs = deviceIDs
	return s.totals, s.err
}

type mapDirectory map[string]string

func (m mapDirectory) Devices(context.Context, string) (map[string]string, error) {
	return m, nil
}

type echoProvider struct{ reply string }

func (e *echoProvider) Complete(context.Context, []*schema.Message) (string, provider.Usage, error) {
	return e.reply, provider.Usage{TotalTokens: 30}, nil
}

type fixture struct {
	dispatcher *Dispatcher
	agg        *stubAggregator
	followUps  *memory.FollowUpMemory
	history    *memory.HistoryBuffer
}

func newFixture(t *testing.T, devices mapDirectory) *fixture {
	t.Helper()
	agg := &stubAggregator{}
	followUps := memory.NewFollowUpMemory(120 * time.Second)
	history := memory.NewHistoryBuffer(8)
	d := New(Options{
		Orchestrator: orchestrator.New("UTC").WithClock(func() time.Time { return testNow }),
		FollowUps:    followUps,
		Recaps:       memory.NewRecapMemory(12),
		History:      history,
		Directory:    devices,
		Aggregator:   agg,
		Provider:     provider.NewFallback(&echoProvider{reply: "hello!"}, time.Second),
		Limiter:      ratelimit.New(100, 100000),
	})
	return &fixture{dispatcher: d, agg: agg, followUps: followUps, history: history}
}

func bucketFor(name string, wh float64) model.EnergyBucket {
	return model.EnergyBucket{
		DeviceID:    "id-" + name,
		DeviceName:  name,
		BucketStart: time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC),
		EnergyWh:    wh,
		AvgPowerW:   wh,
		SampleCount: 12,
	}
}

func TestHandleDeviceUsage(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC"})
	f.agg.buckets = []model.EnergyBucket{bucketFor("Living Room AC", 3200)}

	resp := f.dispatcher.Handle(context.Background(), "u1", "How much energy did my AC use yesterday?")

	assert.Contains(t, resp.Summary, "Living Room AC")
	assert.Contains(t, resp.Summary, "3.20 kWh")
	assert.Contains(t, resp.Summary, "yesterday")
	assert.NotContains(t, resp.Metadata, "error")
	qp, ok := resp.Metadata["query_processed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(model.QueryDeviceUsage), qp["query_type"])
	assert.Equal(t, string(model.IntentEnergy), qp["intent"])
	assert.Equal(t, []string{"d1"}, f.agg.lastDeviceIDs)
	assert.Equal(t, "yesterday", f.agg.lastWindow.Label)
	assert.NotEmpty(t, resp.TimeSeries)
}

func TestFollowUpInheritsTimeAndDevice(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC", "d2": "Fridge"})
	f.agg.buckets = []model.EnergyBucket{bucketFor("Living Room AC", 3200)}

	ctx := context.Background()
	f.dispatcher.Handle(ctx, "u1", "How much energy did my AC use yesterday?")

	// No time phrase: inherited from the prior turn.
	f.agg.buckets = []model.EnergyBucket{bucketFor("Fridge", 900)}
	resp := f.dispatcher.Handle(ctx, "u1", "what about the fridge?")

	assert.Contains(t, resp.Summary, "Fridge")
	assert.Contains(t, resp.Summary, "0.90 kWh")
	assert.Equal(t, "yesterday", f.agg.lastWindow.Label)
	assert.Equal(t, []string{"d2"}, f.agg.lastDeviceIDs)
	assert.Equal(t, true, resp.Metadata["followup_applied"])
}

func TestRankedFollowUpRunsFullFleet(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC", "d2": "Fridge", "d3": "Gaming PC"})
	f.agg.buckets = []model.EnergyBucket{bucketFor("Living Room AC", 3200)}

	ctx := context.Background()
	f.dispatcher.Handle(ctx, "u1", "How much energy did my AC use yesterday?")

	// Ranked follow-up with no device mention must not inherit the AC
	// filter: ranking runs against the whole fleet.
	f.agg.totals = []model.RankedDevice{
		{DeviceID: "d3", Name: "Gaming PC", EnergyKWh: 5.0},
		{DeviceID: "d1", Name: "Living Room AC", EnergyKWh: 3.5},
		{DeviceID: "d2", Name: "Fridge", EnergyKWh: 1.2},
	}
	resp := f.dispatcher.Handle(ctx, "u1", "which device used the second most?")

	assert.Empty(t, f.agg.lastDeviceIDs)
	assert.Contains(t, resp.Summary, "Living Room AC")
	assert.Contains(t, resp.Summary, "2nd-highest")
	assert.Contains(t, resp.Summary, "3.50 kWh")

	ranking, ok := resp.Data["ranking"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, ranking, 3)
	assert.InDelta(t, 51.5, ranking[0]["share_pct"].(float64), 0.1)
	assert.InDelta(t, 36.1, ranking[1]["share_pct"].(float64), 0.1)
	assert.InDelta(t, 12.4, ranking[2]["share_pct"].(float64), 0.1)
}

func TestRankedPositionReusesStoredRanking(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC", "d2": "Fridge", "d3": "Gaming PC"})
	f.agg.totals = []model.RankedDevice{
		{DeviceID: "d3", Name: "Gaming PC", EnergyKWh: 5.0},
		{DeviceID: "d1", Name: "Living Room AC", EnergyKWh: 3.5},
		{DeviceID: "d2", Name: "Fridge", EnergyKWh: 1.2},
	}

	ctx := context.Background()
	f.dispatcher.Handle(ctx, "u1", "which device used the most yesterday?")
	require.Equal(t, 1, f.agg.totalsCalls)

	resp := f.dispatcher.Handle(ctx, "u1", "and the third most?")
	assert.Equal(t, 1, f.agg.totalsCalls, "stored ranking should be reused")
	assert.Equal(t, true, resp.Metadata["ranking_reused"])
	assert.Contains(t, resp.Summary, "Fridge")
	assert.Contains(t, resp.Summary, "3rd-highest")
}

func TestRankedFollowUpWithExplicitDeviceReQueries(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC", "d2": "Fridge", "d3": "Gaming PC"})
	f.agg.totals = []model.RankedDevice{
		{DeviceID: "d3", Name: "Gaming PC", EnergyKWh: 5.0},
		{DeviceID: "d1", Name: "Living Room AC", EnergyKWh: 3.5},
		{DeviceID: "d2", Name: "Fridge", EnergyKWh: 1.2},
	}

	ctx := context.Background()
	f.dispatcher.Handle(ctx, "u1", "which device used the most yesterday?")
	require.Equal(t, 1, f.agg.totalsCalls)

	// An explicit device mention must not be answered from the stored
	// fleet ranking: the turn re-aggregates with that filter applied.
	f.agg.totals = []model.RankedDevice{
		{DeviceID: "d2", Name: "Fridge", EnergyKWh: 1.2},
	}
	resp := f.dispatcher.Handle(ctx, "u1", "was the fridge the 2nd highest device?")

	assert.Equal(t, 2, f.agg.totalsCalls)
	assert.Equal(t, []string{"d2"}, f.agg.lastDeviceIDs)
	assert.NotContains(t, resp.Metadata, "ranking_reused")
	assert.Contains(t, resp.Summary, "Fridge")
	assert.NotContains(t, resp.Summary, "Living Room AC")
}

func TestRankPositionBeyondFleetFallsBack(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC", "d2": "Fridge"})
	f.agg.totals = []model.RankedDevice{
		{DeviceID: "d1", Name: "Living Room AC", EnergyKWh: 3.5},
		{DeviceID: "d2", Name: "Fridge", EnergyKWh: 1.2},
	}

	resp := f.dispatcher.Handle(context.Background(), "u1", "which device used the 5th most yesterday?")

	assert.Contains(t, resp.Summary, "Living Room AC")
	assert.Equal(t, 1, resp.Data["position"])
	assert.NotContains(t, resp.Metadata, "error")
}

func TestClarificationWhenTimeMissing(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC"})

	resp := f.dispatcher.Handle(context.Background(), "u1", "how much energy did my AC use?")

	assert.Equal(t, timeClarification, resp.Summary)
	assert.Equal(t, true, resp.Metadata["needs_clarification"])
	assert.NotContains(t, resp.Metadata, "error")

	// A clarification must not overwrite follow-up state.
	st, err := f.followUps.GetIfFresh(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestNoDataIsSoftError(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC"})
	f.agg.buckets = nil

	resp := f.dispatcher.Handle(context.Background(), "u1", "how much energy did I use yesterday?")

	assert.Equal(t, true, resp.Metadata["error"])
	assert.Contains(t, resp.Summary, "No telemetry")
}

func TestUpstreamFailureDegrades(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC"})
	f.agg.err = errors.New("connection refused")

	resp := f.dispatcher.Handle(context.Background(), "u1", "how much energy did I use yesterday?")

	assert.Equal(t, true, resp.Metadata["error"])
	assert.Contains(t, resp.Summary, "try again")
}

func TestRateLimitedTurn(t *testing.T) {
	f := newFixture(t, mapDirectory{})
	limited := New(Options{
		Orchestrator: orchestrator.New("UTC").WithClock(func() time.Time { return testNow }),
		Aggregator:   f.agg,
		Provider:     provider.NewFallback(nil, time.Second),
		Limiter:      ratelimit.New(1, 100000),
	})

	first := limited.Handle(context.Background(), "u1", "hi")
	assert.NotContains(t, first.Metadata, "error")

	second := limited.Handle(context.Background(), "u1", "hi again")
	assert.Equal(t, true, second.Metadata["error"])
	assert.Equal(t, rateLimitedMessage, second.Summary)
}

func TestSmalltalkGoesToProvider(t *testing.T) {
	f := newFixture(t, mapDirectory{})

	resp := f.dispatcher.Handle(context.Background(), "u1", "hi")

	assert.Equal(t, "hello!", resp.Summary)
	qp, ok := resp.Metadata["query_processed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(model.IntentSmalltalk), qp["intent"])

	window, err := f.history.Window(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, schema.User, window[0].Role)
	assert.Equal(t, schema.Assistant, window[1].Role)
}

func TestSummaryUsesRecap(t *testing.T) {
	f := newFixture(t, mapDirectory{"d1": "Living Room AC"})
	f.agg.buckets = []model.EnergyBucket{bucketFor("Living Room AC", 3200)}

	ctx := context.Background()
	f.dispatcher.Handle(ctx, "u1", "How much energy did my AC use yesterday?")

	resp := f.dispatcher.Handle(ctx, "u1", "give me a recap")
	assert.Contains(t, resp.Summary, "So far:")
	assert.Contains(t, resp.Summary, "Living Room AC")
}

func TestEmptyUtteranceAsksForRetry(t *testing.T) {
	f := newFixture(t, mapDirectory{})

	resp := f.dispatcher.Handle(context.Background(), "u1", "   ")
	assert.Equal(t, retryPrompt, resp.Summary)
	assert.Equal(t, true, resp.Metadata["error"])
}
