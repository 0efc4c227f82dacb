package orchestrator

import (
	"regexp"
	"strings"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	logx "github.com/Wattine-core-poc/server/pkg/logger"
	"github.com/cloudwego/eino/schema"
)

// Orchestrator classifies an utterance and extracts time/device/rank slots
// with ordered pattern tables. No learned model anywhere: every branch is
// deterministic so the routing stays fast and reproducible.
type Orchestrator struct {
	loc *time.Location
	now func() time.Time
}

var energyTerms = []string{
	"energy", "usage", "consumption", "power", "kwh", "kilowatt", "watt", "bill", "cost",
	"how much", "what did", "what was", "used", "burn", "spend",
}

var energyPhrases = []string{"how much", "what did", "what was", "what is", "how about"}

var summaryTerms = []string{
	"summary", "recap", "tell me about", "overview", "what have we discussed", "what did we talk about",
}

var smalltalkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(?:hi|hello|hey|yo)\b`),
	regexp.MustCompile(`\b(?:good\s*(?:morning|afternoon|evening)|how are you|what'?s up)\b`),
}

// New builds an orchestrator anchored to the caller's local timezone.
// Unknown zone names fall back to UTC so routing still works.
func New(localTZ string) *Orchestrator {
	loc, err := time.LoadLocation(localTZ)
	if err != nil {
		logx.Warn().Str("timezone", localTZ).Err(err).Msg("unknown timezone, falling back to UTC")
		loc = time.UTC
	}
	return &Orchestrator{loc: loc, now: time.Now}
}

// WithClock overrides the time source. Test seam.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Location exposes the resolver timezone for collaborators that bucket in
// local time.
func (o *Orchestrator) Location() *time.Location {
	return o.loc
}

// Decide analyzes the latest user message and produces the routing decision.
// Priority: smalltalk, then summary, then energy, then general. Confidence is
// advisory telemetry and never gates a branch.
func (o *Orchestrator) Decide(messages []*schema.Message, knownDeviceNames []string) model.Decision {
	userText := latestUserText(messages)
	if userText == "" {
		return model.Decision{Intent: model.IntentUnsure, Parsed: model.ParsedQuery{QueryType: model.QueryUnknown}}
	}

	lower := strings.ToLower(userText)

	if isSmalltalk(lower) {
		return model.Decision{
			Intent:     model.IntentSmalltalk,
			Parsed:     model.ParsedQuery{QueryType: model.QueryUnknown},
			UserText:   userText,
			Confidence: 0.95,
		}
	}

	parsed := o.extractSlots(lower, knownDeviceNames)

	if parsed.Summary {
		logx.Info().Str("user_text", userText).Msg("routed to summary intent")
		return model.Decision{Intent: model.IntentSummary, Parsed: parsed, UserText: userText, Confidence: 0.9}
	}

	if parsed.QueryType != model.QueryUnknown {
		logx.Debug().
			Str("query_type", string(parsed.QueryType)).
			Str("user_text", userText).
			Msg("routed to energy intent")
		return model.Decision{Intent: model.IntentEnergy, Parsed: parsed, UserText: userText, Confidence: 0.95}
	}

	// General energy trigger: explicit energy terms anywhere, or a question
	// phrase combined with a resolved time or device ("how about for last 3
	// days?"). Defaults the shape to total usage at lower confidence.
	trigger := containsAny(lower, energyTerms) ||
		(containsAny(lower, energyPhrases) && (parsed.Time != nil || len(parsed.Devices) > 0))
	if trigger {
		parsed.QueryType = model.QueryTotalUsage
		logx.Debug().Str("user_text", userText).Msg("inferred total usage for general energy trigger")
		return model.Decision{Intent: model.IntentEnergy, Parsed: parsed, UserText: userText, Confidence: 0.85}
	}

	logx.Debug().Str("user_text", userText).Msg("routed to general intent")
	return model.Decision{Intent: model.IntentGeneral, Parsed: parsed, UserText: userText, Confidence: 0.5}
}

// extractSlots fills every slot and derives the query type from what was
// found: rank signal beats device mention beats bare energy terms.
func (o *Orchestrator) extractSlots(lower string, knownDeviceNames []string) model.ParsedQuery {
	parsed := model.ParsedQuery{
		Time:    ResolveTimeWindow(lower, o.now(), o.loc),
		Devices: ExtractDevices(lower, knownDeviceNames),
		Summary: isSummaryRequest(lower),
	}
	parsed.Rank, parsed.RankPosition = ExtractRank(lower)

	switch {
	case parsed.Rank != "" || parsed.RankPosition > 0:
		parsed.QueryType = model.QueryRankedDevices
	case len(parsed.Devices) > 0:
		parsed.QueryType = model.QueryDeviceUsage
	case containsAny(lower, energyTerms):
		parsed.QueryType = model.QueryTotalUsage
	default:
		parsed.QueryType = model.QueryUnknown
	}

	return parsed
}

func latestUserText(messages []*schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == schema.User {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// isSmalltalk treats short greeting-shaped utterances as smalltalk. Longer
// texts fall through to slot extraction even when they open with a greeting.
func isSmalltalk(lower string) bool {
	if len(strings.Fields(lower)) > 4 {
		return false
	}
	for _, p := range smalltalkPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

func isSummaryRequest(lower string) bool {
	return containsAny(lower, summaryTerms)
}
