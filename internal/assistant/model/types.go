package model

import "time"

// RouteIntent is the classified intent of a user turn.
type RouteIntent string

const (
	IntentEnergy    RouteIntent = "energy"
	IntentSmalltalk RouteIntent = "smalltalk"
	IntentGeneral   RouteIntent = "general"
	IntentSummary   RouteIntent = "summary"
	IntentUnsure    RouteIntent = "unsure"
)

// QueryType is the shape of an energy query. It is derived from the parsed
// slots by the orchestrator and never set by hand anywhere else.
type QueryType string

const (
	QueryUnknown       QueryType = "unknown"
	QueryTotalUsage    QueryType = "total_usage"
	QueryDeviceUsage   QueryType = "device_usage"
	QueryRankedDevices QueryType = "ranked_devices"
)

// RankDirection orders a fleet-wide ranking.
type RankDirection string

const (
	RankHighest RankDirection = "highest"
	RankLowest  RankDirection = "lowest"
)

// Granularity selects the calendar bucket width for aggregation.
type Granularity string

const (
	GranMinute Granularity = "minute"
	GranHour   Granularity = "hour"
	GranDay    Granularity = "day"
	GranWeek   Granularity = "week"
	GranMonth  Granularity = "month"
)

// TimeWindow is a resolved time phrase: concrete UTC instants plus the
// granularity chosen for that label.
type TimeWindow struct {
	Label       string      `json:"label"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Granularity Granularity `json:"granularity"`
	Defaulted   bool        `json:"defaulted"`
}

// ParsedQuery holds every slot extracted from a single utterance.
// Devices keeps mention order; an empty set means "no explicit device".
type ParsedQuery struct {
	Time         *TimeWindow   `json:"time,omitempty"`
	Devices      []string      `json:"devices,omitempty"`
	Rank         RankDirection `json:"rank,omitempty"`
	RankPosition int           `json:"rank_position,omitempty"`
	QueryType    QueryType     `json:"query_type"`
	Summary      bool          `json:"summary_request,omitempty"`

	NeedsClarification  bool   `json:"needs_clarification,omitempty"`
	ClarificationPrompt string `json:"clarification_prompt,omitempty"`
}

// Decision is the orchestrator's output for one turn. Confidence is advisory
// telemetry only and never gates a branch.
type Decision struct {
	Intent     RouteIntent
	Parsed     ParsedQuery
	UserText   string
	Confidence float64
}

// EnergySample is one raw power reading. Produced by the ingestion path,
// read-only to this module.
type EnergySample struct {
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	PowerWatts float64   `json:"power_watts"`
}

// EnergyBucket is integrated energy for one device in one calendar bucket.
// AvgPowerW is the arithmetic mean of the in-bucket sample values, not an
// energy-weighted mean: AvgPowerW*duration need not equal EnergyWh when the
// stream has gaps.
type EnergyBucket struct {
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	BucketStart time.Time `json:"bucket_start"`
	EnergyWh    float64   `json:"energy_wh"`
	AvgPowerW   float64   `json:"avg_power_w"`
	SampleCount int       `json:"sample_count"`
}

// RankedDevice is one entry of a per-device window-total ranking.
type RankedDevice struct {
	DeviceID  string  `json:"device_id"`
	Name      string  `json:"name"`
	EnergyKWh float64 `json:"energy_kwh"`
}

// FollowUpState is the short-lived context stored after a dispatched ENERGY
// turn so the next turn may omit already-resolved slots.
type FollowUpState struct {
	CreatedAt     time.Time      `json:"created_at"`
	Intent        RouteIntent    `json:"intent"`
	QueryType     QueryType      `json:"query_type"`
	Devices       []string       `json:"devices,omitempty"`
	Rank          RankDirection  `json:"rank,omitempty"`
	RankPosition  int            `json:"rank_position,omitempty"`
	RankedDevices []RankedDevice `json:"ranked_devices,omitempty"`
	TimeContext   *TimeWindow    `json:"time_context,omitempty"`
}

// TimeSeriesPoint is one chartable value.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// QueryResponse is the single response shape every branch produces.
// Metadata carries query_processed and, for soft errors, error=true.
type QueryResponse struct {
	Summary    string            `json:"summary"`
	Data       map[string]any    `json:"data"`
	TimeSeries []TimeSeriesPoint `json:"time_series,omitempty"`
	Metadata   map[string]any    `json:"metadata"`
}
