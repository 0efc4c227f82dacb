package orchestrator

import (
	"testing"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator() *Orchestrator {
	return New("UTC").WithClock(func() time.Time { return testNow })
}

func userTurn(texts ...string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(texts))
	for _, t := range texts {
		msgs = append(msgs, schema.UserMessage(t))
	}
	return msgs
}

func TestDecideEmptyInputIsUnsure(t *testing.T) {
	o := newTestOrchestrator()

	d := o.Decide(nil, knownDevices)
	assert.Equal(t, model.IntentUnsure, d.Intent)
	assert.Zero(t, d.Confidence)

	d = o.Decide([]*schema.Message{schema.AssistantMessage("hello!", nil)}, knownDevices)
	assert.Equal(t, model.IntentUnsure, d.Intent)
}

func TestDecideSmalltalkShortCircuit(t *testing.T) {
	o := newTestOrchestrator()

	for _, text := range []string{"hi", "hello there", "hey", "good morning", "how are you"} {
		d := o.Decide(userTurn(text), knownDevices)
		assert.Equal(t, model.IntentSmalltalk, d.Intent, text)
		assert.Empty(t, d.Parsed.Devices, text)
	}

	// Greeting opener on a long utterance is not smalltalk.
	d := o.Decide(userTurn("hey can you tell me my ac usage for yesterday"), knownDevices)
	assert.Equal(t, model.IntentEnergy, d.Intent)
}

func TestDecideSummary(t *testing.T) {
	o := newTestOrchestrator()

	d := o.Decide(userTurn("what have we discussed so far?"), knownDevices)
	assert.Equal(t, model.IntentSummary, d.Intent)

	// Summary wins even when energy slots are present.
	d = o.Decide(userTurn("give me a recap of my energy usage"), knownDevices)
	assert.Equal(t, model.IntentSummary, d.Intent)
}

func TestDecideQueryTypeDerivation(t *testing.T) {
	o := newTestOrchestrator()

	cases := []struct {
		text string
		want model.QueryType
	}{
		{"which device used the most energy today", model.QueryRankedDevices},
		{"2nd highest device yesterday", model.QueryRankedDevices},
		{"how much did the ac use yesterday", model.QueryDeviceUsage},
		{"fridge consumption this week", model.QueryDeviceUsage},
		{"how much energy did I use today", model.QueryTotalUsage},
		{"what was my total consumption", model.QueryTotalUsage},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			d := o.Decide(userTurn(tc.text), knownDevices)
			require.Equal(t, model.IntentEnergy, d.Intent)
			assert.Equal(t, tc.want, d.Parsed.QueryType)
			assert.InDelta(t, 0.95, d.Confidence, 0.001)
		})
	}
}

func TestDecideGeneralEnergyTriggerDefaultsTotalUsage(t *testing.T) {
	o := newTestOrchestrator()

	// Time phrase plus question phrase, no energy keyword or device: still
	// energy, defaulted to total usage at lower confidence.
	d := o.Decide(userTurn("how about for the last 3 days?"), knownDevices)
	require.Equal(t, model.IntentEnergy, d.Intent)
	assert.Equal(t, model.QueryTotalUsage, d.Parsed.QueryType)
	assert.InDelta(t, 0.85, d.Confidence, 0.001)
	require.NotNil(t, d.Parsed.Time)
	assert.Equal(t, "last_3_days", d.Parsed.Time.Label)
}

func TestDecideGeneralFallback(t *testing.T) {
	o := newTestOrchestrator()

	d := o.Decide(userTurn("tell me a joke"), knownDevices)
	assert.Equal(t, model.IntentGeneral, d.Intent)
	assert.Equal(t, model.QueryUnknown, d.Parsed.QueryType)
}

func TestDecideUsesLatestUserMessage(t *testing.T) {
	o := newTestOrchestrator()

	msgs := []*schema.Message{
		schema.UserMessage("which device used the most energy today"),
		schema.AssistantMessage("Your top device was the Water Heater.", nil),
		schema.UserMessage("tell me a joke"),
	}
	d := o.Decide(msgs, knownDevices)
	assert.Equal(t, model.IntentGeneral, d.Intent)
}

func TestDecideRankWithValueMention(t *testing.T) {
	o := newTestOrchestrator()

	// The kWh number must not become a rank position.
	d := o.Decide(userTurn("today's ac usage was 168.25 kwh, right?"), knownDevices)
	require.Equal(t, model.IntentEnergy, d.Intent)
	assert.Equal(t, model.QueryDeviceUsage, d.Parsed.QueryType)
	assert.Empty(t, d.Parsed.Rank)
	assert.Zero(t, d.Parsed.RankPosition)
}
