// Package dispatcher executes one conversational turn end to end: admission
// control, routing, follow-up merge, aggregation, response shaping and memory
// writeback. Every branch funnels into the same response shape; missing slots
// and empty windows come back as soft results, never as failed turns.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/Wattine-core-poc/server/internal/assistant/orchestrator"
	"github.com/Wattine-core-poc/server/internal/assistant/provider"
	errx "github.com/Wattine-core-poc/server/internal/core/error"
	"github.com/Wattine-core-poc/server/internal/ratelimit"
	logx "github.com/Wattine-core-poc/server/pkg/logger"
	"github.com/cloudwego/eino/schema"
)

const systemPrompt = "You are Wattine, a concise and friendly home-energy assistant. " +
	"You chat naturally, and when asked about electricity usage you encourage the user " +
	"to name a device and a time range. Keep replies short."

const (
	timeClarification   = "Which time period do you mean - today, yesterday, or the last 7 days?"
	deviceClarification = "Which device are you asking about?"
	retryPrompt         = "Sorry, I didn't catch that. Try asking about a device's energy usage, for example \"how much did my AC use yesterday?\""
	rateLimitedMessage  = "You're sending requests a little too fast. Give it a minute and try again."
	upstreamApology     = "Sorry, I couldn't reach your telemetry data just now. Please try again in a moment."
)

// Options carries the collaborators a Dispatcher is wired with.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	FollowUps    model.FollowUpRepository
	Recaps       model.RecapRepository
	History      model.HistoryRepository
	Directory    model.DeviceDirectory
	Aggregator   model.Aggregator
	Provider     *provider.Fallback
	Limiter      *ratelimit.Limiter

	AggregateTimeout time.Duration
	// Tokens reserved at admission, trued up after the provider reports
	// actual usage.
	EstimatedTokens int
}

type Dispatcher struct {
	orc       *orchestrator.Orchestrator
	followUps model.FollowUpRepository
	recaps    model.RecapRepository
	history   model.HistoryRepository
	directory model.DeviceDirectory
	agg       model.Aggregator
	prov      *provider.Fallback
	limiter   *ratelimit.Limiter

	aggTimeout      time.Duration
	estimatedTokens int
}

func New(opts Options) *Dispatcher {
	if opts.AggregateTimeout <= 0 {
		opts.AggregateTimeout = 10 * time.Second
	}
	if opts.EstimatedTokens <= 0 {
		opts.EstimatedTokens = 600
	}
	return &Dispatcher{
		orc:             opts.Orchestrator,
		followUps:       opts.FollowUps,
		recaps:          opts.Recaps,
		history:         opts.History,
		directory:       opts.Directory,
		agg:             opts.Aggregator,
		prov:            opts.Provider,
		limiter:         opts.Limiter,
		aggTimeout:      opts.AggregateTimeout,
		estimatedTokens: opts.EstimatedTokens,
	}
}

// Handle runs one turn for the user and always returns a well-formed
// response; failures surface as soft results with metadata flags.
func (d *Dispatcher) Handle(ctx context.Context, userID, utterance string) *model.QueryResponse {
	allocated := d.estimatedTokens
	if d.limiter != nil && !d.limiter.Allow(userID, allocated) {
		logx.Warn().Str("userID", userID).Msg("turn rejected by rate limiter")
		return softResponse(errx.RateLimited(rateLimitedMessage), "")
	}

	devices := d.deviceMap(ctx, userID)
	names := make([]string, 0, len(devices))
	for _, name := range devices {
		names = append(names, name)
	}

	decision := d.orc.Decide([]*schema.Message{schema.UserMessage(utterance)}, names)

	var resp *model.QueryResponse
	usedTokens := 0
	switch decision.Intent {
	case model.IntentUnsure:
		resp = softResponse(errx.Malformed(retryPrompt), "")
	case model.IntentSmalltalk, model.IntentGeneral:
		resp, usedTokens = d.handleChat(ctx, userID, decision)
	case model.IntentSummary:
		resp = d.handleSummary(ctx, userID)
	default:
		resp = d.handleEnergy(ctx, userID, decision, devices)
	}

	if d.limiter != nil {
		d.limiter.AddUsage(userID, usedTokens, allocated)
	}
	if qp, ok := resp.Metadata["query_processed"].(map[string]any); ok {
		qp["intent"] = string(decision.Intent)
		qp["confidence"] = decision.Confidence
	}
	return resp
}

// deviceMap fetches the user's device directory. A failed lookup degrades to
// an empty fleet instead of failing the turn: routing still works, device
// mentions just stop matching.
func (d *Dispatcher) deviceMap(ctx context.Context, userID string) map[string]string {
	if d.directory == nil {
		return nil
	}
	devices, err := d.directory.Devices(ctx, userID)
	if err != nil {
		logx.Warn().Err(err).Str("userID", userID).Msg("device directory unavailable for turn")
		return nil
	}
	return devices
}

func (d *Dispatcher) handleChat(ctx context.Context, userID string, decision model.Decision) (*model.QueryResponse, int) {
	messages := []*schema.Message{schema.SystemMessage(systemPrompt)}
	if d.history != nil {
		if window, err := d.history.Window(ctx, userID); err == nil {
			messages = append(messages, window...)
		} else {
			logx.Warn().Err(err).Str("userID", userID).Msg("history window unavailable")
		}
	}
	userMsg := schema.UserMessage(decision.UserText)
	messages = append(messages, userMsg)

	reply, usage, degraded := d.prov.CompleteOrFallback(ctx, decision.Intent, messages)

	if d.history != nil {
		if err := d.history.AppendMessage(ctx, userID, userMsg); err != nil {
			logx.Warn().Err(err).Str("userID", userID).Msg("history append failed")
		}
		if err := d.history.AppendMessage(ctx, userID, schema.AssistantMessage(reply, nil)); err != nil {
			logx.Warn().Err(err).Str("userID", userID).Msg("history append failed")
		}
	}

	resp := okResponse(reply, "")
	if degraded {
		resp.Metadata["degraded"] = true
	}
	return resp, usage.TotalTokens
}

func (d *Dispatcher) handleSummary(ctx context.Context, userID string) *model.QueryResponse {
	recap := "No prior discussion yet."
	if d.recaps != nil {
		if text, err := d.recaps.Recap(ctx, userID); err == nil {
			recap = text
		} else {
			logx.Warn().Err(err).Str("userID", userID).Msg("recap unavailable")
		}
	}
	return okResponse(recap, "")
}

func (d *Dispatcher) handleEnergy(ctx context.Context, userID string, decision model.Decision, devices map[string]string) *model.QueryResponse {
	var prior *model.FollowUpState
	if d.followUps != nil {
		var err error
		prior, err = d.followUps.GetIfFresh(ctx, userID)
		if err != nil {
			logx.Warn().Err(err).Str("userID", userID).Msg("follow-up lookup failed, treating turn as standalone")
			prior = nil
		}
	}

	merged, inherited := mergeFollowUp(decision.Parsed, prior)

	var (
		resp *model.QueryResponse
		err  error
	)
	switch merged.QueryType {
	case model.QueryRankedDevices:
		resp, err = d.answerRanked(ctx, userID, merged, prior, devices)
	case model.QueryDeviceUsage:
		resp, err = d.answerDeviceUsage(ctx, userID, merged, devices)
	default:
		resp, err = d.answerTotalUsage(ctx, userID, merged, devices)
	}
	if err != nil {
		// Clarifications leave the prior follow-up state in place so the
		// user's answer can still merge against it.
		return softResponse(err, string(merged.QueryType))
	}

	if inherited {
		resp.Metadata["followup_applied"] = true
	}
	return resp
}

// mergeFollowUp fills slots the current turn omitted from the prior turn's
// state. Time is inherited when unspoken. Devices are inherited for total and
// device usage, but a ranked query with no current-turn device always runs
// against the full fleet, even when the prior turn was device-scoped. Rank
// direction and position are never inherited. The query type is re-derived
// after the merge, never copied.
func mergeFollowUp(parsed model.ParsedQuery, prior *model.FollowUpState) (model.ParsedQuery, bool) {
	if prior == nil {
		return parsed, false
	}

	inherited := false
	if parsed.Time == nil && prior.TimeContext != nil {
		tw := *prior.TimeContext
		tw.Defaulted = true
		parsed.Time = &tw
		inherited = true
	}

	ranked := parsed.Rank != "" || parsed.RankPosition > 0
	if len(parsed.Devices) == 0 {
		if ranked {
			parsed.Devices = nil
		} else if len(prior.Devices) > 0 {
			parsed.Devices = append([]string(nil), prior.Devices...)
			inherited = true
		}
	}

	switch {
	case ranked:
		parsed.QueryType = model.QueryRankedDevices
	case len(parsed.Devices) > 0:
		parsed.QueryType = model.QueryDeviceUsage
	default:
		parsed.QueryType = model.QueryTotalUsage
	}

	return parsed, inherited
}

func (d *Dispatcher) answerTotalUsage(ctx context.Context, userID string, parsed model.ParsedQuery, devices map[string]string) (*model.QueryResponse, error) {
	if parsed.Time == nil {
		return nil, errx.Clarification(timeClarification)
	}
	window := *parsed.Time

	buckets, err := d.aggregate(ctx, userID, window, deviceIDsFor(parsed.Devices, devices))
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, errx.NoData(fmt.Sprintf("No telemetry recorded %s.", humanizeLabel(window.Label)))
	}

	totalKWh := 0.0
	deviceSet := make(map[string]bool)
	for _, b := range buckets {
		totalKWh += b.EnergyWh / 1000
		deviceSet[b.DeviceID] = true
	}

	deviceNoun := "devices"
	if len(deviceSet) == 1 {
		deviceNoun = "device"
	}
	resp := okResponse(
		fmt.Sprintf("You used a total of %.2f kWh across %d %s %s.",
			totalKWh, len(deviceSet), deviceNoun, humanizeLabel(window.Label)),
		string(model.QueryTotalUsage),
	)
	resp.Data = map[string]any{
		"total_kwh":    totalKWh,
		"device_count": len(deviceSet),
		"window":       window.Label,
		"window_start": window.Start,
		"window_end":   window.End,
	}
	resp.TimeSeries = timeSeriesFrom(buckets)

	d.writeback(ctx, userID, parsed, nil)
	d.appendRecap(ctx, userID, fmt.Sprintf("Total usage %s: %.2f kWh", humanizeLabel(window.Label), totalKWh))
	return resp, nil
}

func (d *Dispatcher) answerDeviceUsage(ctx context.Context, userID string, parsed model.ParsedQuery, devices map[string]string) (*model.QueryResponse, error) {
	if len(parsed.Devices) == 0 {
		return nil, errx.Clarification(deviceClarification)
	}
	if parsed.Time == nil {
		return nil, errx.Clarification(timeClarification)
	}
	window := *parsed.Time

	ids := deviceIDsFor(parsed.Devices, devices)
	if len(ids) == 0 {
		return nil, errx.Clarification(deviceClarification)
	}

	buckets, err := d.aggregate(ctx, userID, window, ids)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, errx.NoData(fmt.Sprintf("No telemetry recorded for %s %s.",
			strings.Join(parsed.Devices, " and "), humanizeLabel(window.Label)))
	}

	perDevice := make(map[string]float64)
	for _, b := range buckets {
		perDevice[b.DeviceName] += b.EnergyWh / 1000
	}

	parts := make([]string, 0, len(parsed.Devices))
	data := make(map[string]any, len(perDevice)+1)
	for _, name := range parsed.Devices {
		kwh, ok := perDevice[name]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("your %s used %.2f kWh", name, kwh))
		data[name] = kwh
	}
	data["window"] = window.Label

	summary := strings.Join(parts, " and ")
	if summary == "" {
		return nil, errx.NoData(fmt.Sprintf("No telemetry recorded for %s %s.",
			strings.Join(parsed.Devices, " and "), humanizeLabel(window.Label)))
	}
	summary = strings.ToUpper(summary[:1]) + summary[1:] + " " + humanizeLabel(window.Label) + "."

	resp := okResponse(summary, string(model.QueryDeviceUsage))
	resp.Data = data
	resp.TimeSeries = timeSeriesFrom(buckets)

	d.writeback(ctx, userID, parsed, nil)
	d.appendRecap(ctx, userID, fmt.Sprintf("%s usage %s: %s",
		strings.Join(parsed.Devices, ", "), humanizeLabel(window.Label), summaryTotals(perDevice)))
	return resp, nil
}

func (d *Dispatcher) answerRanked(ctx context.Context, userID string, parsed model.ParsedQuery, prior *model.FollowUpState, devices map[string]string) (*model.QueryResponse, error) {
	// Follow-up fast path: a bare position change ("what about the second
	// one?") reuses the stored ranking instead of re-aggregating. A fresh
	// time phrase or an explicit device mention forces a re-query.
	var totals []model.RankedDevice
	reused := false
	if prior != nil && prior.QueryType == model.QueryRankedDevices &&
		len(prior.RankedDevices) > 0 && len(parsed.Devices) == 0 &&
		parsed.Time != nil && parsed.Time.Defaulted {
		totals = append([]model.RankedDevice(nil), prior.RankedDevices...)
		reused = true
	}

	if totals == nil {
		if parsed.Time == nil {
			return nil, errx.Clarification(timeClarification)
		}
		var err error
		totals, err = d.deviceTotals(ctx, userID, *parsed.Time, deviceIDsFor(parsed.Devices, devices))
		if err != nil {
			return nil, err
		}
	}
	if len(totals) == 0 {
		return nil, errx.NoData(fmt.Sprintf("No telemetry recorded %s.", humanizeLabel(labelOf(parsed.Time))))
	}

	direction := parsed.Rank
	if direction == "" {
		direction = model.RankHighest
	}
	sorted := append([]model.RankedDevice(nil), totals...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if direction == model.RankLowest {
			return sorted[i].EnergyKWh < sorted[j].EnergyKWh
		}
		return sorted[i].EnergyKWh > sorted[j].EnergyKWh
	})

	position := parsed.RankPosition
	if position < 1 {
		position = 1
	}
	if position > len(sorted) {
		logx.Warn().
			Int("requested", position).
			Int("fleet", len(sorted)).
			Msg("rank position beyond fleet size, answering with first place")
		position = 1
	}
	selected := sorted[position-1]

	// Comparison shares are over the top-3 total, so the payload always sums
	// to 100% regardless of fleet size.
	top3KWh := 0.0
	for i, t := range sorted {
		if i == 3 {
			break
		}
		top3KWh += t.EnergyKWh
	}
	share := 0.0
	if top3KWh > 0 {
		share = selected.EnergyKWh / top3KWh * 100
	}

	ranking := make([]map[string]any, 0, 3)
	for i, t := range sorted {
		if i == 3 {
			break
		}
		entry := map[string]any{
			"position": i + 1,
			"name":     t.Name,
			"kwh":      t.EnergyKWh,
		}
		if top3KWh > 0 {
			entry["share_pct"] = t.EnergyKWh / top3KWh * 100
		}
		ranking = append(ranking, entry)
	}

	label := humanizeLabel(labelOf(parsed.Time))
	resp := okResponse(
		fmt.Sprintf("Your %s was the %s energy consumer %s at %.2f kWh (%.1f%% of total).",
			selected.Name, rankPhrase(direction, position), label, selected.EnergyKWh, share),
		string(model.QueryRankedDevices),
	)
	resp.Data = map[string]any{
		"ranking":   ranking,
		"selected":  selected.Name,
		"position":  position,
		"direction": string(direction),
	}
	if reused {
		resp.Metadata["ranking_reused"] = true
	}

	d.writeback(ctx, userID, parsed, sorted)
	d.appendRecap(ctx, userID, fmt.Sprintf("Ranked devices %s: %s %s at %.2f kWh",
		label, selected.Name, rankPhrase(direction, position), selected.EnergyKWh))
	return resp, nil
}

func (d *Dispatcher) aggregate(ctx context.Context, userID string, window model.TimeWindow, deviceIDs []string) ([]model.EnergyBucket, error) {
	ctx, cancel := context.WithTimeout(ctx, d.aggTimeout)
	defer cancel()
	buckets, err := d.agg.Aggregate(ctx, userID, window, deviceIDs)
	if err != nil {
		logx.Error().Err(err).Str("userID", userID).Msg("aggregation collaborator failed")
		return nil, errx.Upstream(err, upstreamApology)
	}
	return buckets, nil
}

func (d *Dispatcher) deviceTotals(ctx context.Context, userID string, window model.TimeWindow, deviceIDs []string) ([]model.RankedDevice, error) {
	ctx, cancel := context.WithTimeout(ctx, d.aggTimeout)
	defer cancel()
	totals, err := d.agg.DeviceTotals(ctx, userID, window, deviceIDs)
	if err != nil {
		logx.Error().Err(err).Str("userID", userID).Msg("aggregation collaborator failed")
		return nil, errx.Upstream(err, upstreamApology)
	}
	return totals, nil
}

// writeback stores the follow-up state for the next turn. Failures are
// logged, not surfaced: continuity is advisory.
func (d *Dispatcher) writeback(ctx context.Context, userID string, parsed model.ParsedQuery, ranked []model.RankedDevice) {
	if d.followUps == nil {
		return
	}
	state := &model.FollowUpState{
		Intent:        model.IntentEnergy,
		QueryType:     parsed.QueryType,
		Devices:       parsed.Devices,
		Rank:          parsed.Rank,
		RankPosition:  parsed.RankPosition,
		RankedDevices: ranked,
		TimeContext:   parsed.Time,
	}
	if err := d.followUps.Set(ctx, userID, state); err != nil {
		logx.Warn().Err(err).Str("userID", userID).Msg("follow-up writeback failed")
	}
}

func (d *Dispatcher) appendRecap(ctx context.Context, userID, line string) {
	if d.recaps == nil {
		return
	}
	if err := d.recaps.AppendLine(ctx, userID, line); err != nil {
		logx.Warn().Err(err).Str("userID", userID).Msg("recap append failed")
	}
}

// deviceIDsFor resolves canonical display names to directory IDs. Unknown
// names are skipped; an empty result means the full fleet.
func deviceIDsFor(names []string, devices map[string]string) []string {
	if len(names) == 0 || len(devices) == 0 {
		return nil
	}
	byName := make(map[string]string, len(devices))
	for id, name := range devices {
		byName[name] = id
	}
	var ids []string
	for _, name := range names {
		if id, ok := byName[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// timeSeriesFrom collapses buckets into one chartable point per bucket start,
// summing across devices.
func timeSeriesFrom(buckets []model.EnergyBucket) []model.TimeSeriesPoint {
	sums := make(map[time.Time]float64)
	for _, b := range buckets {
		sums[b.BucketStart] += b.EnergyWh / 1000
	}
	points := make([]model.TimeSeriesPoint, 0, len(sums))
	for ts, kwh := range sums {
		points = append(points, model.TimeSeriesPoint{Timestamp: ts, Value: kwh, Unit: "kWh"})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points
}

func summaryTotals(perDevice map[string]float64) string {
	names := make([]string, 0, len(perDevice))
	for name := range perDevice {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%.2f kWh", perDevice[name]))
	}
	return strings.Join(parts, ", ")
}

func labelOf(tw *model.TimeWindow) string {
	if tw == nil {
		return ""
	}
	return tw.Label
}

// humanizeLabel renders a window label as the phrase used in summaries.
func humanizeLabel(label string) string {
	switch label {
	case "", "today", "yesterday":
		if label == "" {
			return "recently"
		}
		return label
	case "this_week_so_far":
		return "so far this week"
	case "this_month_so_far":
		return "so far this month"
	case "last_7_days":
		return "over the last 7 days"
	default:
		return "over the " + strings.ReplaceAll(label, "_", " ")
	}
}

func rankPhrase(direction model.RankDirection, position int) string {
	base := "highest"
	if direction == model.RankLowest {
		base = "lowest"
	}
	if position <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%s", ordinal(position), base)
}

func ordinal(n int) string {
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			return fmt.Sprintf("%dst", n)
		}
	case 2:
		if n%100 != 12 {
			return fmt.Sprintf("%dnd", n)
		}
	case 3:
		if n%100 != 13 {
			return fmt.Sprintf("%drd", n)
		}
	}
	return fmt.Sprintf("%dth", n)
}

func okResponse(summary, queryProcessed string) *model.QueryResponse {
	qp := map[string]any{}
	if queryProcessed != "" {
		qp["query_type"] = queryProcessed
	}
	return &model.QueryResponse{
		Summary:  summary,
		Data:     map[string]any{},
		Metadata: map[string]any{"query_processed": qp},
	}
}

// softResponse converts an errx soft error into the response shape. Only
// clarifications are flagged as such; everything else is marked as an error.
func softResponse(err error, queryProcessed string) *model.QueryResponse {
	resp := okResponse(errx.SystemErrorMessage, queryProcessed)
	var ae *errx.AppError
	if !errors.As(err, &ae) {
		resp.Metadata["error"] = true
		return resp
	}
	resp.Summary = ae.Message
	switch ae.Kind {
	case errx.KindClarification:
		resp.Metadata["needs_clarification"] = true
	default:
		resp.Metadata["error"] = true
	}
	return resp
}
