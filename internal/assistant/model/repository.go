package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// FollowUpRepository stores the short-TTL ENERGY context per user.
// Freshness is checked at read time; expired state is evicted lazily.
type FollowUpRepository interface {
	// GetIfFresh returns the stored state, or nil when absent or expired.
	GetIfFresh(ctx context.Context, userID string) (*FollowUpState, error)

	// Set overwrites the state for the user.
	Set(ctx context.Context, userID string, state *FollowUpState) error

	// Clear removes the state for the user.
	Clear(ctx context.Context, userID string) error
}

// RecapRepository keeps a bounded, de-duplicating ring of recap lines per user.
type RecapRepository interface {
	// AppendLine adds one recap line, dropping consecutive duplicates.
	AppendLine(ctx context.Context, userID string, line string) error

	// Recap renders the stored lines as a single human-readable block.
	Recap(ctx context.Context, userID string) (string, error)

	// Clear removes the recap for the user.
	Clear(ctx context.Context, userID string) error
}

// HistoryRepository keeps the small sliding window of recent messages used
// only for SMALLTALK/GENERAL prompts.
type HistoryRepository interface {
	// AppendMessage adds a message and trims the window to its bound.
	AppendMessage(ctx context.Context, userID string, msg *schema.Message) error

	// Window returns the most recent messages, oldest first.
	Window(ctx context.Context, userID string) ([]*schema.Message, error)

	// Clear removes the history for the user.
	Clear(ctx context.Context, userID string) error
}

// DeviceDirectory resolves a user's devices to display names.
type DeviceDirectory interface {
	Devices(ctx context.Context, userID string) (map[string]string, error)
}

// Aggregator is the telemetry aggregation collaborator. The contract is the
// numeric result of step-hold integration with gap capping; whether it runs
// as a database window-function query or an in-process pass is up to the
// implementation.
type Aggregator interface {
	// Aggregate integrates power to energy per device and calendar bucket
	// over the window. An empty deviceIDs slice means every device.
	Aggregate(ctx context.Context, userID string, window TimeWindow, deviceIDs []string) ([]EnergyBucket, error)

	// DeviceTotals integrates power to a single kWh total per device over
	// the window, without bucketing.
	DeviceTotals(ctx context.Context, userID string, window TimeWindow, deviceIDs []string) ([]RankedDevice, error)
}
